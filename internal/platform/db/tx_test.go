package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx      *fakeTx
	options pgx.TxOptions
	err     error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.options = opts
	return b.tx, nil
}

func TestWithTxCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, pgx.ReadCommitted, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.True(t, b.tx.committed)
	require.False(t, b.tx.rolledBack)
	require.Equal(t, pgx.ReadCommitted, b.options.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTx(context.Background(), b, pgx.Serializable, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, b.tx.committed)
	require.True(t, b.tx.rolledBack)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	require.Panics(t, func() {
		_ = WithTx(context.Background(), b, pgx.ReadCommitted, func(pgx.Tx) error { panic("boom") })
	})
	require.True(t, b.tx.rolledBack)
}

func TestWithTxWrapsBeginAndCommitErrors(t *testing.T) {
	err := WithTx(context.Background(), &fakeBeginner{err: errors.New("dial")}, pgx.ReadCommitted, func(pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "platform/db: begin tx")

	b := &fakeBeginner{tx: &fakeTx{commitErr: errors.New("serialization")}}
	err = WithTx(context.Background(), b, pgx.ReadCommitted, func(pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "platform/db: commit tx")
	require.True(t, b.tx.rolledBack)
}

func TestSchemaDeclaresRentalConstraints(t *testing.T) {
	ddl := Schema()
	for _, fragment := range []string{
		"project_number TEXT NOT NULL UNIQUE",
		"CHECK (start_date <= end_date)",
		"PRIMARY KEY (rental_id, product_id)",
		"REFERENCES products (id) ON DELETE CASCADE",
		"idx_rental_products_product_id",
		"CHECK (status IN ('ON_HAND', 'IN_SERVICE', 'ON_RENTAL'))",
	} {
		require.True(t, strings.Contains(ddl, fragment), fragment)
	}
}

func TestParseConfigAppliesPoolOptions(t *testing.T) {
	cfg, err := ParseConfig("postgres://u:p@localhost:5432/equiprent", PoolOptions{MaxConns: 7, MaxConnIdleTime: time.Minute})
	require.NoError(t, err)
	require.Equal(t, int32(7), cfg.MaxConns)
	require.Equal(t, time.Minute, cfg.MaxConnIdleTime)
	require.Equal(t, "equiprent", cfg.ConnConfig.RuntimeParams["application_name"])
	require.Equal(t, "UTC", cfg.ConnConfig.RuntimeParams["timezone"])

	cfg, err = ParseConfig("postgres://u:p@localhost:5432/equiprent?application_name=seed", PoolOptions{})
	require.NoError(t, err)
	require.Equal(t, "seed", cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = ParseConfig("postgres://u:p@localhost:notaport/x", PoolOptions{})
	require.Error(t, err)
}
