package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/companydir/companydir/internal/i18n"
	"github.com/companydir/companydir/internal/platform/db"
	"github.com/companydir/companydir/internal/shared"
	"github.com/companydir/companydir/internal/tags"
)

// Constraint names declared by the directory migration.
const (
	constraintCompanyLanguage  = "company_translation_company_language_key"
	constraintTagGroupPK       = "tag_group_pkey"
	constraintTagGroupLanguage = "tag_group_translation_group_language_key"
	constraintCompanyTag       = "company_tag_company_group_key"
)

// Repository opens directory units of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the store operations available inside one transaction.
type TxRepository interface {
	tags.Store

	CreateCompany(ctx context.Context) (int64, error)
	TouchCompany(ctx context.Context, companyID int64) error
	AddCompanyTranslation(ctx context.Context, companyID int64, language, name string) error
	SearchCompanyNames(ctx context.Context, query, language string) ([]string, error)
	// CompanyByName matches name exactly within one language.
	CompanyByName(ctx context.Context, name, language string) (int64, error)
	// CompanyByAnyName matches name exactly in any language.
	CompanyByAnyName(ctx context.Context, name string) (int64, error)
	CompanyTranslations(ctx context.Context, companyIDs []int64) (map[int64][]i18n.Translation, error)

	TagGroupIDsByName(ctx context.Context, name string) ([]int64, error)
	TagGroupTranslations(ctx context.Context, tagGroupIDs []int64) (map[int64][]i18n.Translation, error)

	LinkTag(ctx context.Context, companyID, tagGroupID int64) (bool, error)
	UnlinkTag(ctx context.Context, companyID, tagGroupID int64) (bool, error)
	CompanyTagGroupIDs(ctx context.Context, companyID int64) ([]int64, error)
	CompanyIDsByTagGroups(ctx context.Context, tagGroupIDs []int64) ([]int64, error)
}

// PostgresRepository is the PostgreSQL backed Repository.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	policy db.RetryPolicy
	now    func() time.Time
}

// NewRepository constructs a repository. policy bounds conflict replays.
func NewRepository(pool *pgxpool.Pool, policy db.RetryPolicy) *PostgresRepository {
	return &PostgresRepository{pool: pool, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx wraps callback in a repeatable-read transaction, replaying it on
// serialization failures and tag creation races.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithRetryTx(ctx, r.pool, r.policy, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, now: r.now})
	})
}

type txRepo struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *txRepo) CreateCompany(ctx context.Context) (int64, error) {
	var id int64
	now := t.now()
	err := t.tx.QueryRow(ctx, `INSERT INTO company (created_at, updated_at) VALUES ($1, $1) RETURNING id`, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert company: %w", err)
	}
	return id, nil
}

func (t *txRepo) TouchCompany(ctx context.Context, companyID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE company SET updated_at = $2 WHERE id = $1`, companyID, t.now())
	if err != nil {
		return fmt.Errorf("touch company %d: %w", companyID, err)
	}
	return nil
}

// AddCompanyTranslation claims name for companyID in company_name before
// storing the translation. A company may reuse its own name across languages.
func (t *txRepo) AddCompanyTranslation(ctx context.Context, companyID int64, language, name string) error {
	var owner int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO company_name (name, company_id) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET company_id = company_name.company_id
		 RETURNING company_id`,
		name, companyID).Scan(&owner)
	if err != nil {
		return fmt.Errorf("claim company name: %w", err)
	}
	if owner != companyID {
		return fmt.Errorf("%w: %q", ErrCompanyNameTaken, name)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO company_translation (company_id, language_code, name) VALUES ($1, $2, $3)`,
		companyID, language, name)
	switch {
	case err == nil:
		return nil
	case db.UniqueViolation(err, constraintCompanyLanguage):
		return fmt.Errorf("%w: company %d already named in %s", shared.ErrDuplicate, companyID, language)
	default:
		return fmt.Errorf("insert company translation: %w", err)
	}
}

func (t *txRepo) SearchCompanyNames(ctx context.Context, query, language string) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT name FROM company_translation
		 WHERE language_code = $1 AND name ILIKE $2 ESCAPE '\'
		 ORDER BY name`,
		language, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("search company names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("search company names: %w", err)
	}
	return names, nil
}

func (t *txRepo) CompanyByName(ctx context.Context, name, language string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT company_id FROM company_translation WHERE name = $1 AND language_code = $2`,
		name, language).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %q in %s", ErrCompanyNotFound, name, language)
		}
		return 0, fmt.Errorf("company by name: %w", err)
	}
	return id, nil
}

func (t *txRepo) CompanyByAnyName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT company_id FROM company_translation WHERE name = $1 ORDER BY id LIMIT 1`,
		name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %q", ErrCompanyNotFound, name)
		}
		return 0, fmt.Errorf("company by any name: %w", err)
	}
	return id, nil
}

func (t *txRepo) CompanyTranslations(ctx context.Context, companyIDs []int64) (map[int64][]i18n.Translation, error) {
	return t.translations(ctx,
		`SELECT id, company_id, language_code, name FROM company_translation
		 WHERE company_id = ANY($1) ORDER BY company_id, id`, companyIDs)
}

func (t *txRepo) EnsureTagGroup(ctx context.Context, id int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO tag_group (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, t.now())
	if err != nil {
		return false, conflict(err, constraintTagGroupPK)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) AddTagGroupTranslation(ctx context.Context, tagGroupID int64, language, name string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO tag_group_translation (tag_group_id, language_code, name) VALUES ($1, $2, $3)
		 ON CONFLICT (tag_group_id, language_code) DO NOTHING`,
		tagGroupID, language, name)
	if err != nil {
		return false, conflict(err, constraintTagGroupLanguage)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) TagGroupIDsByName(ctx context.Context, name string) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT DISTINCT tag_group_id FROM tag_group_translation WHERE name = $1 ORDER BY tag_group_id`,
		name)
	if err != nil {
		return nil, fmt.Errorf("tag groups by name: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("tag groups by name: %w", err)
	}
	return ids, nil
}

func (t *txRepo) TagGroupTranslations(ctx context.Context, tagGroupIDs []int64) (map[int64][]i18n.Translation, error) {
	return t.translations(ctx,
		`SELECT id, tag_group_id, language_code, name FROM tag_group_translation
		 WHERE tag_group_id = ANY($1) ORDER BY tag_group_id, id`, tagGroupIDs)
}

func (t *txRepo) LinkTag(ctx context.Context, companyID, tagGroupID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO company_tag (company_id, tag_group_id) VALUES ($1, $2)
		 ON CONFLICT (company_id, tag_group_id) DO NOTHING`,
		companyID, tagGroupID)
	if err != nil {
		return false, conflict(err, constraintCompanyTag)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) UnlinkTag(ctx context.Context, companyID, tagGroupID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM company_tag WHERE company_id = $1 AND tag_group_id = $2`,
		companyID, tagGroupID)
	if err != nil {
		return false, fmt.Errorf("unlink tag: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) CompanyTagGroupIDs(ctx context.Context, companyID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT tag_group_id FROM company_tag WHERE company_id = $1 ORDER BY tag_group_id`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("company tag groups: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("company tag groups: %w", err)
	}
	return ids, nil
}

func (t *txRepo) CompanyIDsByTagGroups(ctx context.Context, tagGroupIDs []int64) ([]int64, error) {
	if len(tagGroupIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT DISTINCT company_id FROM company_tag WHERE tag_group_id = ANY($1) ORDER BY company_id`,
		tagGroupIDs)
	if err != nil {
		return nil, fmt.Errorf("companies by tag groups: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("companies by tag groups: %w", err)
	}
	return ids, nil
}

func (t *txRepo) translations(ctx context.Context, query string, ownerIDs []int64) (map[int64][]i18n.Translation, error) {
	out := make(map[int64][]i18n.Translation, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, query, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("load translations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tr      i18n.Translation
			ownerID int64
		)
		if err := rows.Scan(&tr.ID, &ownerID, &tr.Language, &tr.Name); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		out[ownerID] = append(out[ownerID], tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load translations: %w", err)
	}
	return out, nil
}

// conflict marks unique violations raised by concurrent writers as retryable.
func conflict(err error, constraint string) error {
	if db.UniqueViolation(err, constraint) {
		return fmt.Errorf("%w: %s: %v", db.ErrRetry, constraint, err)
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
