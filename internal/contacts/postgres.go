package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/pkg/logger"
)

var ErrInvalidTable = errors.New("invalid contacts table name")

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresSink inserts contacts in one transaction with a savepoint per
// record, so a bad record never aborts the batch.
type PostgresSink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresSink creates a sink writing to table.
func NewPostgresSink(db *sql.DB, table string, log *zap.Logger) (*PostgresSink, error) {
	if table == "" {
		table = "contacts"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &PostgresSink{db: db, table: pq.QuoteIdentifier(table), logger: logger.OrNop(log).Named("contacts")}, nil
}

// EnsureSchema creates the contacts table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE,
		phone TEXT,
		company TEXT,
		position TEXT,
		type TEXT NOT NULL DEFAULT 'individual',
		address TEXT,
		notes TEXT,
		favorite BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ensure contacts schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) insertSQL(opts BulkOptions) string {
	q := `INSERT INTO ` + s.table + `
		(id, name, email, phone, company, position, type, address, notes, favorite, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`
	switch {
	case opts.UpdateExisting:
		q += `
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = COALESCE(EXCLUDED.phone, ` + s.table + `.phone),
			company = COALESCE(EXCLUDED.company, ` + s.table + `.company),
			position = COALESCE(EXCLUDED.position, ` + s.table + `.position),
			type = EXCLUDED.type,
			address = COALESCE(EXCLUDED.address, ` + s.table + `.address),
			notes = COALESCE(EXCLUDED.notes, ` + s.table + `.notes),
			updated_at = NOW()`
	case opts.SkipDuplicates:
		q += `
		ON CONFLICT (email) DO NOTHING`
	}
	return q
}

// BulkCreate inserts records in order. Conflicting emails are updated,
// skipped, or reported as errors according to opts.
func (s *PostgresSink) BulkCreate(ctx context.Context, records []Record, opts BulkOptions) (BulkResult, error) {
	result := BulkResult{Errors: []string{}}
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.insertSQL(opts)
	for i, rec := range records {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT contact_sp"); err != nil {
			return BulkResult{Errors: []string{}}, fmt.Errorf("savepoint: %w", err)
		}

		res, err := tx.ExecContext(ctx, query,
			uuid.New(), rec.Name, nullable(rec.Email), nullable(rec.Phone), nullable(rec.Company),
			nullable(rec.Position), rec.Type, nullable(rec.Address), nullable(rec.Notes), rec.Favorite,
		)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT contact_sp"); rbErr != nil {
				return BulkResult{Errors: []string{}}, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %s", i+1, rec.Name, describe(err)))
			s.logger.Debug("contact rejected", zap.Int("record", i+1), logger.Email("email", rec.Email), zap.String("reason", describe(err)))
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT contact_sp"); err != nil {
			return BulkResult{Errors: []string{}}, fmt.Errorf("release savepoint: %w", err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): skipped existing contact", i+1, rec.Name))
			continue
		}
		result.SuccessCount++
	}

	if err := tx.Commit(); err != nil {
		return BulkResult{Errors: []string{}}, fmt.Errorf("commit contacts: %w", err)
	}

	s.logger.Info("bulk create finished",
		zap.Int("success", result.SuccessCount), zap.Int("failed", result.FailedCount))
	return result, nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// describe turns driver errors into messages fit for the user, without the
// offending values.
func describe(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return "a contact with this email already exists"
		case "not_null_violation":
			return "missing required value for " + pqErr.Column
		case "string_data_right_truncation":
			return "value too long"
		}
		return pqErr.Message
	}
	return logger.RedactText(err.Error())
}
