package pgstore

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

func TestGetReturnsValue(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT value FROM dispatch_store").
		WithArgs("pages", "LAST_HASH_a").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("abc"))

	s := New(mock, "dispatch_store", "pages", zap.NewNop())
	v, ok := s.Get(context.Background(), "LAST_HASH_a")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissAndError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT value FROM dispatch_store").
		WithArgs("default", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))
	mock.ExpectQuery("SELECT value FROM dispatch_store").
		WithArgs("default", "broken").
		WillReturnError(errors.New("connection reset"))

	s := New(mock, "dispatch_store", "default", zap.NewNop())
	_, ok := s.Get(context.Background(), "missing")
	assert.False(t, ok)
	_, ok = s.Get(context.Background(), "broken")
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO dispatch_store").
		WithArgs("default", "k", "v").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO dispatch_store").
		WithArgs("default", "k", "w").
		WillReturnError(errors.New("read only"))

	s := New(mock, "dispatch_store", "default", zap.NewNop())
	assert.True(t, s.Set(context.Background(), "k", "v"))
	assert.False(t, s.Set(context.Background(), "k", "w"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dispatch_store").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	s := New(mock, "dispatch_store", "default", zap.NewNop())
	require.NoError(t, s.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	p := NewProvider(zap.NewNop())
	require.ErrorIs(t, p.AssertConfig(map[string]any{"type": "postgres"}), provider.ErrInvalidConfig)
	err := p.AssertConfig(map[string]any{"type": "postgres", "connection": "postgres", "table": "bad-name"})
	require.ErrorIs(t, err, provider.ErrInvalidConfig)
	require.NoError(t, p.AssertConfig(map[string]any{"type": "postgres", "connection": map[string]any{"type": "postgres", "dsn": "postgres://x"}}))
}
