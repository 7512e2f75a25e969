package status

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	analysis_id TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	result      BLOB,
	error_code  TEXT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_analyses_state ON analyses(state);
`

// SQLiteStore persists analysis records in a SQLite database, surviving
// process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	const op = "status.NewSQLiteStore"

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "open database", err)
	}
	// SQLite handles one writer at a time; serialize access through a
	// single connection instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, errors.E(errors.KindInternal, op, "apply schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, analysisID, provider string) error {
	const op = "status.SQLiteStore.Create"

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (analysis_id, provider, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		analysisID, provider, string(StatePending), now, now)
	if err != nil {
		return errors.E(errors.KindInternal, op, "insert record", err)
	}
	return nil
}

// UpdateState implements Store.
func (s *SQLiteStore) UpdateState(ctx context.Context, analysisID string, state State) error {
	const op = "status.SQLiteStore.UpdateState"

	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET state = ?, updated_at = ? WHERE analysis_id = ?`,
		string(state), time.Now().UTC(), analysisID)
	if err != nil {
		return errors.E(errors.KindInternal, op, "update record", err)
	}
	return requireRow(op, res, analysisID)
}

// SetResult implements Store.
func (s *SQLiteStore) SetResult(ctx context.Context, analysisID string, result []byte) error {
	const op = "status.SQLiteStore.SetResult"

	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET state = ?, result = ?, updated_at = ? WHERE analysis_id = ?`,
		string(StateCompleted), result, time.Now().UTC(), analysisID)
	if err != nil {
		return errors.E(errors.KindInternal, op, "update record", err)
	}
	return requireRow(op, res, analysisID)
}

// SetError implements Store.
func (s *SQLiteStore) SetError(ctx context.Context, analysisID string, code, message string) error {
	const op = "status.SQLiteStore.SetError"

	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET state = ?, error_code = ?, error = ?, updated_at = ? WHERE analysis_id = ?`,
		string(StateFailed), code, message, time.Now().UTC(), analysisID)
	if err != nil {
		return errors.E(errors.KindInternal, op, "update record", err)
	}
	return requireRow(op, res, analysisID)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, analysisID string) (*Record, error) {
	const op = "status.SQLiteStore.Get"

	row := s.db.QueryRowContext(ctx,
		`SELECT analysis_id, provider, state, created_at, updated_at, result, error_code, error FROM analyses WHERE analysis_id = ?`,
		analysisID)

	var rec Record
	var state string
	var result []byte
	var errCode, errMsg sql.NullString
	err := row.Scan(&rec.AnalysisID, &rec.Provider, &state, &rec.CreatedAt, &rec.UpdatedAt, &result, &errCode, &errMsg)
	if err == sql.ErrNoRows {
		return nil, errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "scan record", err)
	}
	rec.State = State(state)
	rec.Result = result
	if errCode.Valid {
		rec.ErrorCode = errCode.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	return &rec, nil
}

func requireRow(op string, res sql.Result, analysisID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.E(errors.KindInternal, op, "rows affected", err)
	}
	if n == 0 {
		return errors.E(errors.KindNotFound, op, "unknown analysis: "+analysisID)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
