package db

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/config"
)

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://x", DSN(config.DatabaseConfig{DSN: "postgres://x", Host: "ignored"}))
	require.Equal(t,
		"host=db port=5432 user=u password=p dbname=rag sslmode=disable",
		DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "rag"}))
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE A;\n\n  CREATE B ;\n;")
	require.Equal(t, []string{"CREATE A", "CREATE B"}, got)
}

func TestApplyMigrations_SkipsExisting(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.MatchExpectationsInOrder(true)
	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnError(errAlreadyExists{})
	for i := 0; i < 6; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS embedding_cache").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS embedding_cache_ctime_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ApplyMigrations(context.Background(), conn))
	require.NoError(t, mock.ExpectationsWereMet())
}

type errAlreadyExists struct{}

func (errAlreadyExists) Error() string { return `extension "vector" already exists` }
