package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// Record is the durable view of a synthesis job.
type Record struct {
	ID        string
	SessionID string
	Status    string
	Progress  float64
	Lesson    int
	Title     string
	Error     string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one status transition in a job's history.
type Event struct {
	ID        int64
	JobID     string
	Status    string
	Progress  float64
	Message   string
	CreatedAt time.Time
}

// Store persists job snapshots and their transition history. A store opened
// with driver "none" accepts writes and returns nothing.
type Store struct {
	db      *sql.DB
	dialect string
	cfg     config.JobStoreConfig
	log     *slog.Logger
	clock   func() time.Time
}

// Open initializes the job store according to config.
func Open(ctx context.Context, cfg config.JobStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "jobstore"))
	s := &Store{cfg: cfg, log: log, clock: time.Now, dialect: cfg.Driver}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return s, nil
	case "sqlite":
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// a single writer avoids SQLITE_BUSY under concurrent jobs
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown job store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart && s.dialect == "sqlite" {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("job store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if _, err := s.Prune(ctx); err != nil {
		log.Warn("job store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

// Enabled reports whether writes reach a database.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

func (s *Store) initSchema(ctx context.Context) error {
	eventID, progressType := "INTEGER PRIMARY KEY AUTOINCREMENT", "REAL"
	if s.dialect == "postgres" {
		eventID, progressType = "BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    status TEXT NOT NULL,
    progress ` + progressType + ` NOT NULL,
    lesson_number INTEGER NOT NULL,
    title TEXT,
    error TEXT,
    payload BYTEA,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS job_events (
    id ` + eventID + `,
    job_id TEXT NOT NULL,
    status TEXT NOT NULL,
    progress ` + progressType + ` NOT NULL,
    message TEXT,
    created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init job schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the job row and appends a transition event in one transaction.
func (s *Store) Save(ctx context.Context, rec Record, message string) (err error) {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO jobs(job_id, session_id, status, progress, lesson_number, title, error, payload, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET status=excluded.status, progress=excluded.progress,
		   title=excluded.title, error=excluded.error, payload=excluded.payload, updated_at=excluded.updated_at`),
		rec.ID, rec.SessionID, rec.Status, rec.Progress, rec.Lesson, rec.Title, rec.Error, rec.Payload,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO job_events(job_id, status, progress, message, created_at) VALUES(?, ?, ?, ?, ?)`),
		rec.ID, rec.Status, rec.Progress, message, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return tx.Commit()
}

const recordColumns = `job_id, session_id, status, progress, lesson_number, title, error, payload, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		r                Record
		title, errText   sql.NullString
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.Status, &r.Progress, &r.Lesson, &title, &errText, &r.Payload, &created, &updated); err != nil {
		return Record{}, err
	}
	r.Title = title.String
	r.Error = errText.String
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

// Job loads one job. The boolean is false when it does not exist.
func (s *Store) Job(ctx context.Context, id string) (Record, bool, error) {
	if s.db == nil {
		return Record{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` FROM jobs WHERE job_id = ?`), id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// SessionJobs lists a session's jobs oldest first.
func (s *Store) SessionJobs(ctx context.Context, sessionID string) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+recordColumns+` FROM jobs WHERE session_id = ? ORDER BY created_at ASC, job_id ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns up to limit transitions for a job in order.
func (s *Store) Events(ctx context.Context, jobID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, job_id, status, progress, message, created_at FROM job_events WHERE job_id = ? ORDER BY id ASC LIMIT ?`),
		jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e       Event
			msg     sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Status, &e.Progress, &msg, &created); err != nil {
			return nil, err
		}
		e.Message = msg.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention and returns how many jobs were removed.
func (s *Store) Prune(ctx context.Context) (removed int64, err error) {
	if s.db == nil {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE updated_at < ?`), cutoff.UnixMilli())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.cfg.MaxJobs > 0 {
		overflow := `SELECT job_id FROM jobs ORDER BY created_at DESC LIMIT -1 OFFSET ?`
		if s.dialect == "postgres" {
			overflow = `SELECT job_id FROM jobs ORDER BY created_at DESC OFFSET ?`
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE job_id IN (`+overflow+`)`), s.cfg.MaxJobs)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM job_events WHERE job_id NOT IN (SELECT job_id FROM jobs)`); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("pruned job history", slog.Int64("removed", removed))
	}
	return removed, nil
}
