package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazzyont7t/Data/models"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection
func New(params ConnectionParams) (*DB, error) {
	// Create PostgreSQL connection string
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Check connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			cadence TEXT NOT NULL,
			issue TEXT NOT NULL,
			digit INT NOT NULL,
			category TEXT NOT NULL,
			trace TEXT NOT NULL,
			raw TEXT,
			principal BIGINT,
			created_at TIMESTAMP NOT NULL,
			actual_digit INT,
			actual_category TEXT,
			correct BOOLEAN,
			resolved_at TIMESTAMP,
			verdict TEXT NOT NULL DEFAULT 'pending'
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_status (
			source TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			cadence TEXT,
			last_run TIMESTAMP,
			next_run TIMESTAMP,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS accuracy_counters (
			principal BIGINT NOT NULL,
			source TEXT NOT NULL,
			cadence TEXT NOT NULL,
			total INT NOT NULL,
			correct INT NOT NULL,
			win_rate INT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (principal, source, cadence)
		)
	`)

	return err
}

// InsertPrediction stores a new prediction, assigning id and creation
// timestamp if unset.
func (db *DB) InsertPrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Verdict == "" {
		p.Verdict = models.VerdictPending
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, source, cadence, issue, digit, category, trace, raw, principal, created_at, verdict
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID, p.Source, p.Cadence, p.Issue, p.Digit, p.Category, p.Trace,
		nullString(string(p.Raw)), nullInt64(p.Principal), p.CreatedAt, p.Verdict)

	if err != nil {
		return nil, &models.StoreError{Op: "insert prediction", Err: err}
	}

	return p, nil
}

const predictionColumns = `
	id, source, cadence, issue, digit, category, trace, raw, principal, created_at,
	actual_digit, actual_category, correct, resolved_at, verdict
`

// ListUnresolved returns up to limit pending predictions, newest first.
func (db *DB) ListUnresolved(ctx context.Context, limit int) ([]*models.Prediction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE verdict = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, models.VerdictPending, limit)
	if err != nil {
		return nil, &models.StoreError{Op: "list unresolved", Err: err}
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// ListPredictions returns up to limit predictions, newest first,
// optionally filtered by source and/or owning principal.
func (db *DB) ListPredictions(ctx context.Context, source *models.Source, limit int, principal *int64) ([]*models.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE 1=1`
	args := []any{}

	if source != nil {
		args = append(args, *source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if principal != nil {
		args = append(args, *principal)
		query += fmt.Sprintf(" AND principal = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StoreError{Op: "list predictions", Err: err}
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// FinalizePrediction writes the resolution fields of a pending
// prediction. The verdict guard in the WHERE clause makes a second
// finalize a no-op, reported as false.
func (db *DB) FinalizePrediction(ctx context.Context, id string, actualDigit int, actualCategory models.Category, correct bool) (bool, error) {
	verdict := models.VerdictLoss
	if correct {
		verdict = models.VerdictWin
	}

	res, err := db.ExecContext(ctx, `
		UPDATE predictions
		SET actual_digit = $2, actual_category = $3, correct = $4, resolved_at = $5, verdict = $6
		WHERE id = $1 AND verdict = $7
	`, id, actualDigit, actualCategory, correct, time.Now().UTC(), verdict, models.VerdictPending)
	if err != nil {
		return false, &models.StoreError{Op: "finalize prediction", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &models.StoreError{Op: "finalize prediction", Err: err}
	}
	return n == 1, nil
}

// GetRunStatus retrieves the status row for a source.
func (db *DB) GetRunStatus(ctx context.Context, source models.Source) (*models.RunStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT source, state, cadence, last_run, next_run, error_message
		FROM run_status
		WHERE source = $1
	`, source)

	status, err := scanRunStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No status yet
		}
		return nil, &models.StoreError{Op: "get run status", Err: err}
	}
	return status, nil
}

// ListRunStatus returns the status rows of every known source.
func (db *DB) ListRunStatus(ctx context.Context) ([]*models.RunStatus, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT source, state, cadence, last_run, next_run, error_message
		FROM run_status
		ORDER BY source
	`)
	if err != nil {
		return nil, &models.StoreError{Op: "list run status", Err: err}
	}
	defer rows.Close()

	var out []*models.RunStatus
	for rows.Next() {
		status, err := scanRunStatus(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "list run status", Err: err}
		}
		out = append(out, status)
	}
	return out, rows.Err()
}

// UpsertRunStatus applies a partial update to the source's single status
// row. The row is locked for the read-modify-write so concurrent firings
// cannot lose updates.
func (db *DB) UpsertRunStatus(ctx context.Context, source models.Source, upd models.RunStatusUpdate) (*models.RunStatus, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &models.StoreError{Op: "upsert run status", Err: err}
	}
	defer tx.Rollback()

	// FOR UPDATE не блокирует отсутствующую строку, поэтому сначала
	// гарантируем её наличие, иначе два первых апсерта затрут друг друга.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_status (source, state)
		VALUES ($1, $2)
		ON CONFLICT (source) DO NOTHING
	`, source, models.RunStandby)
	if err != nil {
		return nil, &models.StoreError{Op: "upsert run status", Err: err}
	}

	row := tx.QueryRowContext(ctx, `
		SELECT source, state, cadence, last_run, next_run, error_message
		FROM run_status
		WHERE source = $1
		FOR UPDATE
	`, source)

	status, err := scanRunStatus(row)
	if err != nil {
		return nil, &models.StoreError{Op: "upsert run status", Err: err}
	}

	status.Apply(upd)

	_, err = tx.ExecContext(ctx, `
		UPDATE run_status
		SET state = $2, cadence = $3, last_run = $4, next_run = $5, error_message = $6
		WHERE source = $1
	`, status.Source, status.State, nullCadence(status.Cadence), nullTime(status.LastRun),
		nullTime(status.NextRun), nullStringPtr(status.ErrorMessage))
	if err != nil {
		return nil, &models.StoreError{Op: "upsert run status", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &models.StoreError{Op: "upsert run status", Err: err}
	}
	return status, nil
}

// UpsertAccuracyCounter bumps the counter for one resolved prediction in
// a single statement, so concurrent sweeps cannot lose updates.
func (db *DB) UpsertAccuracyCounter(ctx context.Context, principal int64, source models.Source, cadence models.Cadence, correct bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accuracy_counters (principal, source, cadence, total, correct, win_rate, updated_at)
		VALUES ($1, $2, $3, 1, CASE WHEN $4 THEN 1 ELSE 0 END, CASE WHEN $4 THEN 100 ELSE 0 END, $5)
		ON CONFLICT (principal, source, cadence)
		DO UPDATE SET
			total = accuracy_counters.total + 1,
			correct = accuracy_counters.correct + CASE WHEN $4 THEN 1 ELSE 0 END,
			win_rate = ROUND(
				(accuracy_counters.correct + CASE WHEN $4 THEN 1 ELSE 0 END)::numeric
				/ (accuracy_counters.total + 1) * 100
			),
			updated_at = EXCLUDED.updated_at
	`, principal, source, cadence, correct, time.Now().UTC())

	if err != nil {
		return &models.StoreError{Op: "upsert accuracy counter", Err: err}
	}
	return nil
}

// GetAccuracyCounter retrieves the counter row for a principal.
func (db *DB) GetAccuracyCounter(ctx context.Context, principal int64, source models.Source, cadence models.Cadence) (*models.AccuracyCounter, error) {
	var c models.AccuracyCounter

	err := db.QueryRowContext(ctx, `
		SELECT principal, source, cadence, total, correct, win_rate, updated_at
		FROM accuracy_counters
		WHERE principal = $1 AND source = $2 AND cadence = $3
	`, principal, source, cadence).Scan(
		&c.Principal, &c.Source, &c.Cadence, &c.Total, &c.Correct, &c.WinRate, &c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No resolved predictions yet
		}
		return nil, &models.StoreError{Op: "get accuracy counter", Err: err}
	}
	return &c, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPrediction(row scannable) (*models.Prediction, error) {
	var p models.Prediction
	var raw sql.NullString
	var principal sql.NullInt64
	var actualDigit sql.NullInt64
	var actualCategory sql.NullString
	var correct sql.NullBool
	var resolvedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Source, &p.Cadence, &p.Issue, &p.Digit, &p.Category, &p.Trace,
		&raw, &principal, &p.CreatedAt,
		&actualDigit, &actualCategory, &correct, &resolvedAt, &p.Verdict,
	)
	if err != nil {
		return nil, err
	}

	if raw.Valid {
		p.Raw = []byte(raw.String)
	}
	if principal.Valid {
		p.Principal = &principal.Int64
	}
	if actualDigit.Valid {
		d := int(actualDigit.Int64)
		p.ActualDigit = &d
	}
	if actualCategory.Valid {
		c := models.Category(actualCategory.String)
		p.ActualCategory = &c
	}
	if correct.Valid {
		p.Correct = &correct.Bool
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Time
	}

	return &p, nil
}

func scanPredictions(rows *sql.Rows) ([]*models.Prediction, error) {
	var out []*models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "scan prediction", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRunStatus(row scannable) (*models.RunStatus, error) {
	var s models.RunStatus
	var cadence sql.NullString
	var lastRun, nextRun sql.NullTime
	var errMsg sql.NullString

	if err := row.Scan(&s.Source, &s.State, &cadence, &lastRun, &nextRun, &errMsg); err != nil {
		return nil, err
	}

	if cadence.Valid {
		c := models.Cadence(cadence.String)
		s.Cadence = &c
	}
	if lastRun.Valid {
		s.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		s.NextRun = &nextRun.Time
	}
	if errMsg.Valid {
		s.ErrorMessage = &errMsg.String
	}

	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullCadence(c *models.Cadence) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}
