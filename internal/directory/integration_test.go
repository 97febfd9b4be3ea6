package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/companydir/companydir/internal/platform/db"
	"github.com/companydir/companydir/internal/shared"
	"github.com/companydir/companydir/internal/tags"
)

// PostgresSuite runs the service against a real database. It is skipped unless
// COMPANYDIR_TEST_PG_DSN points at a disposable database.
type PostgresSuite struct {
	suite.Suite
	pool *pgxpool.Pool
	repo *PostgresRepository
	svc  *Service
}

func TestPostgresSuite(t *testing.T) {
	dsn := os.Getenv("COMPANYDIR_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("COMPANYDIR_TEST_PG_DSN not set")
	}
	suite.Run(t, &PostgresSuite{})
}

func (s *PostgresSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.New(ctx, os.Getenv("COMPANYDIR_TEST_PG_DSN"), 8)
	s.Require().NoError(err)
	_, err = db.Migrate(ctx, pool)
	s.Require().NoError(err)
	s.pool = pool
	s.repo = NewRepository(pool, db.RetryPolicy{MaxAttempts: 5, Backoff: 5 * time.Millisecond})
	s.svc = NewService(s.repo, nil, ServiceConfig{FallbackLanguages: testPriority}, nil, nil)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(),
		`TRUNCATE company_tag, tag_group_translation, tag_group, company_name, company_translation, company RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TestRoundTrip() {
	ctx := context.Background()
	view, err := s.svc.Create(ctx, NewCompany{
		Names: map[string]string{"ko": "회사A", "en": "CompanyA"},
		Tags:  []tags.LabelBundle{{"ko": "태그_7", "en": "tag_7"}},
	}, "en")
	s.Require().NoError(err)
	s.Require().NotNil(view.CompanyName)
	s.Equal("CompanyA", *view.CompanyName)
	s.Equal([]string{"tag_7"}, view.Tags)

	detail, err := s.svc.Detail(ctx, "회사A", "ko")
	s.Require().NoError(err)
	s.Equal([]string{"태그_7"}, detail.Tags)

	items, err := s.svc.Search(ctx, "comp", "en")
	s.Require().NoError(err)
	s.Equal([]CompanyItem{{CompanyName: "CompanyA"}}, items)

	items, err = s.svc.SearchByTag(ctx, "tag_7", "ko")
	s.Require().NoError(err)
	s.Equal([]CompanyItem{{CompanyName: "회사A"}}, items)
}

func (s *PostgresSuite) TestSearchEscapesWildcards() {
	ctx := context.Background()
	for _, name := range []string{"100% Corp", "100 Corp"} {
		_, err := s.svc.Create(ctx, NewCompany{Names: map[string]string{"en": name}}, "en")
		s.Require().NoError(err)
	}
	items, err := s.svc.Search(ctx, "100%", "en")
	s.Require().NoError(err)
	s.Equal([]CompanyItem{{CompanyName: "100% Corp"}}, items)
}

func (s *PostgresSuite) TestNameUniqueAcrossLanguages() {
	ctx := context.Background()
	_, err := s.svc.Create(ctx, NewCompany{Names: map[string]string{"en": "Shared"}}, "en")
	s.Require().NoError(err)
	_, err = s.svc.Create(ctx, NewCompany{Names: map[string]string{"ja": "Shared"}}, "ja")
	s.Require().Error(err)
	s.True(errors.Is(err, shared.ErrDuplicate))
}

func (s *PostgresSuite) TestCompanyReusesOwnNameAcrossLanguages() {
	ctx := context.Background()
	view, err := s.svc.Create(ctx, NewCompany{Names: map[string]string{"ko": "Wantedlab", "en": "Wantedlab"}}, "en")
	s.Require().NoError(err)
	s.Require().NotNil(view.CompanyName)
	s.Equal("Wantedlab", *view.CompanyName)

	items, err := s.svc.Search(ctx, "wanted", "ko")
	s.Require().NoError(err)
	s.Equal([]CompanyItem{{CompanyName: "Wantedlab"}}, items)

	_, err = s.svc.Create(ctx, NewCompany{Names: map[string]string{"ja": "Wantedlab"}}, "ja")
	s.True(errors.Is(err, ErrCompanyNameTaken))
}

func (s *PostgresSuite) TestConcurrentTagCreationConverges() {
	ctx := context.Background()
	const companies = 6
	for i := 0; i < companies; i++ {
		_, err := s.svc.Create(ctx, NewCompany{Names: map[string]string{"ko": fmt.Sprintf("회사%d", i)}}, "ko")
		s.Require().NoError(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, companies)
	for i := 0; i < companies; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.svc.AddTags(ctx, fmt.Sprintf("회사%d", i), []tags.LabelBundle{{"ko": "태그_77", "en": "tag_77"}}, "ko")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	var groups, translations, links int
	s.Require().NoError(s.pool.QueryRow(ctx, `SELECT count(*) FROM tag_group`).Scan(&groups))
	s.Require().NoError(s.pool.QueryRow(ctx, `SELECT count(*) FROM tag_group_translation`).Scan(&translations))
	s.Require().NoError(s.pool.QueryRow(ctx, `SELECT count(*) FROM company_tag`).Scan(&links))
	s.Equal(1, groups)
	s.Equal(2, translations)
	s.Equal(companies, links)
}

func (s *PostgresSuite) TestMalformedLabelRollsBack() {
	ctx := context.Background()
	_, err := s.svc.Create(ctx, NewCompany{Names: map[string]string{"ko": "회사A"}}, "ko")
	s.Require().NoError(err)

	_, err = s.svc.AddTags(ctx, "회사A", []tags.LabelBundle{{"ko": "태그_3"}, {"ko": "태그"}}, "ko")
	require.ErrorIs(s.T(), err, shared.ErrBadRequest)

	var groups int
	s.Require().NoError(s.pool.QueryRow(ctx, `SELECT count(*) FROM tag_group`).Scan(&groups))
	s.Zero(groups)
}
