package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

func TestExportRowsInsertsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRowStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	rows := []qa.Row{
		{
			QuestionID: 1, Title: "t1", Body: "b1", Score: 3, ViewCount: 10, AnswerCount: 2,
			Tags: "nlp", AcceptedAnswer: "[User 1 | Score: 2]: yes", TopAnswers: []string{"a", "b"},
		},
		{QuestionID: 2, Title: "t2", Body: "b2", Tags: "nlp"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO qa_rows").
		WithArgs(int64(1), "run-1", "t1", "b1", 3, 10, 2, "nlp", "[User 1 | Score: 2]: yes", []string{"a", "b"}, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT \\(question_id\\) DO NOTHING").
		WithArgs(int64(2), "run-1", "t2", "b2", 0, 0, 0, "nlp", "", []string{}, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	require.NoError(t, store.ExportRows(context.Background(), "run-1", rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRowsRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRowStoreWithPool(mock, "qa_export", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO qa_export").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	err = store.ExportRows(context.Background(), "run-1", []qa.Row{{QuestionID: 9}})
	require.ErrorContains(t, err, "insert row 9")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRowsEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRowStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.NoError(t, store.ExportRows(context.Background(), "run-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRowStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS qa_rows").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRowStoreWithPool(mock, "qa_rows; DROP TABLE users", nil)
	require.Error(t, err)
	_, err = NewRowStoreWithPool(nil, "qa_rows", nil)
	require.Error(t, err)

	_, err = NewRowStore(context.Background(), RowStoreConfig{}, nil)
	require.ErrorContains(t, err, "dsn is required")
	_, err = NewRowStore(context.Background(), RowStoreConfig{DSN: "postgres://x", Table: "1bad"}, nil)
	require.ErrorContains(t, err, "invalid table name")
}

func TestNilStoreRejectsExport(t *testing.T) {
	t.Parallel()

	var store *RowStore
	require.Error(t, store.ExportRows(context.Background(), "run", []qa.Row{{QuestionID: 1}}))
	store.Close()
}
