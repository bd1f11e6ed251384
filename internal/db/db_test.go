package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "mission_results", []string{"id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"provenance"}, []string{"id", "source_url"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "provenance", []string{"id", "source_url"},
		[][]any{{"a", "https://a.com"}, {"b", "https://b.com"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_ShortWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"provenance"}, []string{"id"}).WillReturnResult(1)

	_, err = CopyFrom(context.Background(), mock, "provenance", []string{"id"}, [][]any{{"a"}, {"b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2")
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, WithTx(context.Background(), mock, func(pgx.Tx) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = WithTx(context.Background(), mock, func(pgx.Tx) error { return errors.New("insert failed") })
	require.EqualError(t, err, "insert failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}
