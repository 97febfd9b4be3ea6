package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *stubTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type stubBeginner struct {
	txs      []*stubTx
	beginErr error
}

func (b *stubBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	tx := &stubTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	pool := &stubBeginner{}
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Len(t, pool.txs, 1)
	assert.True(t, pool.txs[0].committed)
	assert.False(t, pool.txs[0].rolledBack)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	pool := &stubBeginner{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, pool.txs[0].committed)
	assert.True(t, pool.txs[0].rolledBack)
}

func TestWithTxWrapsBeginError(t *testing.T) {
	pool := &stubBeginner{beginErr: errors.New("no conn")}
	err := WithTx(context.Background(), pool, func(pgx.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestWithRetryTxReplaysSerializationFailures(t *testing.T) {
	pool := &stubBeginner{}
	calls := 0
	var retried []int
	err := WithRetryTx(context.Background(), pool, RetryPolicy{
		MaxAttempts: 3,
		OnRetry:     func(attempt int, err error) { retried = append(retried, attempt) },
	}, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeSerializationFailure})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Len(t, pool.txs, 3)
	assert.True(t, pool.txs[2].committed)
}

func TestWithRetryTxGivesUpAfterMaxAttempts(t *testing.T) {
	pool := &stubBeginner{}
	calls := 0
	err := WithRetryTx(context.Background(), pool, RetryPolicy{MaxAttempts: 2}, func(pgx.Tx) error {
		calls++
		return ErrRetry
	})
	require.ErrorIs(t, err, ErrRetry)
	assert.Equal(t, 2, calls)
}

func TestWithRetryTxDoesNotReplayDomainErrors(t *testing.T) {
	pool := &stubBeginner{}
	calls := 0
	boom := errors.New("not found")
	err := WithRetryTx(context.Background(), pool, RetryPolicy{MaxAttempts: 5}, func(pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(errors.New("x")))
	assert.True(t, Retryable(&pgconn.PgError{Code: CodeDeadlockDetected}))
	assert.True(t, Retryable(fmt.Errorf("wrap: %w", ErrRetry)))
	assert.False(t, Retryable(&pgconn.PgError{Code: CodeUniqueViolation}))
}

func TestUniqueViolationMatchesConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "company_translation_name_key"})
	assert.True(t, UniqueViolation(err))
	assert.True(t, UniqueViolation(err, "other", "company_translation_name_key"))
	assert.False(t, UniqueViolation(err, "tag_group_pkey"))
	assert.False(t, UniqueViolation(&pgconn.PgError{Code: CodeSerializationFailure}))
}
