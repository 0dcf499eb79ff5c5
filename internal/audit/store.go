package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 1000

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("audit session not found")

// Store persists onboarding audit records to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL at connStr and applies pending migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("audit open: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit ping: %w", err)
	}
	if err = migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and prunes the oldest beyond maxSessions.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, record_id, candidate_name, started_at, mode) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.RecordID, sess.CandidateName, sess.StartedAt.UTC(), sess.Mode,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	return err
}

// EndSession stores the final stage, mode and transcript.
func (s *Store) EndSession(ctx context.Context, id string, end Ending) error {
	entries, err := json.Marshal(end.Record.Entries)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1, final_stage = $2, completed = $3, mode = $4, transcript = $5, summary = $6 WHERE id = $7`,
		time.Now().UTC(), end.FinalStage, end.Completed, end.Mode, entries, end.Record.Summary, id,
	)
	return err
}

// CreateVerdict inserts one attempt.
func (s *Store) CreateVerdict(ctx context.Context, v Verdict) error {
	issues, err := json.Marshal(nonNil(v.Issues))
	if err != nil {
		return err
	}
	data, err := json.Marshal(v.ExtractedData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts (id, session_id, category, attempt, is_valid, name_match, confidence, extracted_name, issues, extracted_data, analysis, stale, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.SessionID, v.Category, v.Attempt, v.IsValid, v.NameMatch, v.Confidence,
		v.ExtractedName, issues, data, v.Analysis, v.Stale, v.RecordedAt.UTC(),
	)
	return err
}

// ListSessions returns sessions newest first with verdict counts, and the total.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.record_id, s.candidate_name, s.started_at, s.ended_at, s.final_stage, s.completed, s.mode,
		       COUNT(v.id) AS verdict_count
		FROM sessions s
		LEFT JOIN verdicts v ON v.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.RecordID, &sess.CandidateName, &sess.StartedAt, &endedAt,
			&sess.FinalStage, &sess.Completed, &sess.Mode, &sess.VerdictCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns one session with its transcript and every verdict.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Verdict, error) {
	var sess Session
	var endedAt sql.NullTime
	var entries []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, record_id, candidate_name, started_at, ended_at, final_stage, completed, mode, transcript, summary
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.RecordID, &sess.CandidateName, &sess.StartedAt, &endedAt,
		&sess.FinalStage, &sess.Completed, &sess.Mode, &entries, &sess.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	if err = json.Unmarshal(entries, &sess.Transcript); err != nil {
		return nil, nil, fmt.Errorf("decode transcript: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, category, attempt, is_valid, name_match, confidence, extracted_name, issues, extracted_data, analysis, stale, recorded_at
		FROM verdicts WHERE session_id = $1 ORDER BY recorded_at ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var verdicts []Verdict
	for rows.Next() {
		var v Verdict
		var issues, data []byte
		if err = rows.Scan(&v.ID, &v.SessionID, &v.Category, &v.Attempt, &v.IsValid, &v.NameMatch, &v.Confidence,
			&v.ExtractedName, &issues, &data, &v.Analysis, &v.Stale, &v.RecordedAt); err != nil {
			return nil, nil, err
		}
		if err = json.Unmarshal(issues, &v.Issues); err != nil {
			return nil, nil, fmt.Errorf("decode issues: %w", err)
		}
		if err = json.Unmarshal(data, &v.ExtractedData); err != nil {
			return nil, nil, fmt.Errorf("decode extracted data: %w", err)
		}
		verdicts = append(verdicts, v)
	}
	return &sess, verdicts, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
