package jobs

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/companydir/companydir/internal/tags"
)

// Querier is the subset of pgxpool.Pool the scan needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresIntegrityStore runs the integrity queries against PostgreSQL.
type PostgresIntegrityStore struct {
	db Querier
}

// NewPostgresIntegrityStore wraps a pool.
func NewPostgresIntegrityStore(db Querier) *PostgresIntegrityStore {
	return &PostgresIntegrityStore{db: db}
}

func (s *PostgresIntegrityStore) CompaniesWithoutNames(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, `SELECT c.id FROM company c
		WHERE NOT EXISTS (SELECT 1 FROM company_translation t WHERE t.company_id = c.id)
		ORDER BY c.id`)
}

func (s *PostgresIntegrityStore) TagGroupsWithoutNames(ctx context.Context) ([]int64, error) {
	return s.ids(ctx, `SELECT g.id FROM tag_group g
		WHERE NOT EXISTS (SELECT 1 FROM tag_group_translation t WHERE t.tag_group_id = g.id)
		ORDER BY g.id`)
}

func (s *PostgresIntegrityStore) TagGroupLabels(ctx context.Context, fn func(int64, tags.LabelBundle) error) error {
	rows, err := s.db.Query(ctx, `SELECT tag_group_id, language_code, name FROM tag_group_translation ORDER BY tag_group_id, id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		current int64
		bundle  tags.LabelBundle
	)
	for rows.Next() {
		var (
			id         int64
			code, name string
		)
		if err := rows.Scan(&id, &code, &name); err != nil {
			return err
		}
		if bundle != nil && id != current {
			if err := fn(current, bundle); err != nil {
				return err
			}
			bundle = nil
		}
		if bundle == nil {
			bundle = tags.LabelBundle{}
			current = id
		}
		bundle[code] = name
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if bundle != nil {
		return fn(current, bundle)
	}
	return nil
}

func (s *PostgresIntegrityStore) CaseInsensitiveCollisions(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT lower(name) FROM company_translation
		GROUP BY lower(name) HAVING count(DISTINCT company_id) > 1
		ORDER BY lower(name)`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresIntegrityStore) ids(ctx context.Context, sql string) ([]int64, error) {
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
