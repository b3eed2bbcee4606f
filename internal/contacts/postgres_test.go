package contacts

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSink(t *testing.T) (*PostgresSink, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sink, err := NewPostgresSink(db, "contacts", nil)
	require.NoError(t, err)
	return sink, mock, func() { db.Close() }
}

func nullStr(v string) sql.NullString { return sql.NullString{String: v, Valid: v != ""} }

func TestPostgresSinkBulkCreate(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	records := []Record{
		{Name: "Ann", Email: "ann@x.com", Type: TypeIndividual},
		{Name: "Bob", Email: "bob@x.com", Type: TypeIndividual},
		{Name: "Acme", Company: "Acme", Type: TypeCompany},
	}

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "contacts"`).
		WithArgs(sqlmock.AnyArg(), "Ann", nullStr("ann@x.com"), nullStr(""), nullStr(""), nullStr(""), TypeIndividual, nullStr(""), nullStr(""), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec("SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "contacts"`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectExec("ROLLBACK TO SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec("SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "contacts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := sink.BulkCreate(context.Background(), records, BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"record 2 (Bob): a contact with this email already exists"}, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkSkipDuplicates(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ON CONFLICT \(email\) DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := sink.BulkCreate(context.Background(), []Record{{Name: "Ann", Email: "ann@x.com"}}, BulkOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []string{"record 1 (Ann): skipped existing contact"}, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkUpdateExisting(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ON CONFLICT \(email\) DO UPDATE SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT contact_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := sink.BulkCreate(context.Background(), []Record{{Name: "Ann", Email: "ann@x.com"}}, BulkOptions{UpdateExisting: true, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkBeginFails(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := sink.BulkCreate(context.Background(), []Record{{Name: "Ann"}}, BulkOptions{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestPostgresSinkEmptyBatch(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	res, err := sink.BulkCreate(context.Background(), nil, BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresSinkRejectsBadTable(t *testing.T) {
	_, err := NewPostgresSink(nil, "contacts; DROP TABLE x", nil)
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestEnsureSchema(t *testing.T) {
	sink, mock, cleanup := setupSink(t)
	defer cleanup()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "contacts"`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, sink.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
