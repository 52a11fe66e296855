// Package store persists analyses, extracted promises, URL history and job
// status records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/promessa/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("store: not found")

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id           TEXT PRIMARY KEY,
	target_name  TEXT NOT NULL,
	author       TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT 'GENERAL',
	status       TEXT NOT NULL,
	score        REAL NOT NULL DEFAULT 0,
	risk_level   TEXT NOT NULL DEFAULT '',
	confidence   REAL NOT NULL DEFAULT 0,
	factors_json TEXT NOT NULL DEFAULT '{}',
	source_count INTEGER NOT NULL DEFAULT 0,
	summary      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_author ON analyses(author, status);

CREATE TABLE IF NOT EXISTS promises (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id      TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	text             TEXT NOT NULL,
	category         TEXT NOT NULL,
	confidence       REAL NOT NULL,
	negated          INTEGER NOT NULL DEFAULT 0,
	conditional      INTEGER NOT NULL DEFAULT 0,
	reasoning        TEXT NOT NULL DEFAULT '',
	evidence_snippet TEXT NOT NULL DEFAULT '',
	source_name      TEXT NOT NULL DEFAULT '',
	incoherence_text TEXT NOT NULL DEFAULT '',
	incoherence_url  TEXT NOT NULL DEFAULT '',
	incoherence_vote TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_promises_analysis ON promises(analysis_id, position);

CREATE TABLE IF NOT EXISTS url_history (
	url           TEXT PRIMARY KEY,
	first_seen_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	analysis_id TEXT NOT NULL DEFAULT '',
	result_json TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	error_code  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// Store wraps the SQLite database
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path with WAL journaling,
// a 10s busy timeout and foreign keys enforced
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	return initDB(db, pragmas)
}

// OpenMemory opens a private in-memory database. A single connection is
// used so every query sees the same database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return initDB(db, []string{"PRAGMA foreign_keys = ON"})
}

func initDB(db *sql.DB, pragmas []string) (*Store, error) {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAnalysis upserts the analysis row and replaces its promise rows in one
// transaction. Updating an analysis overwrites its promises; it never appends.
func (s *Store) SaveAnalysis(ctx context.Context, a *model.Analysis) (err error) {
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("store: encode factors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (id, target_name, author, category, status, score, risk_level,
			confidence, factors_json, source_count, summary, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_name = excluded.target_name,
			author = excluded.author,
			category = excluded.category,
			status = excluded.status,
			score = excluded.score,
			risk_level = excluded.risk_level,
			confidence = excluded.confidence,
			factors_json = excluded.factors_json,
			source_count = excluded.source_count,
			summary = excluded.summary,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		a.ID, a.TargetName, a.Author, string(a.Category), string(a.Status), a.Score,
		string(a.RiskLevel), a.Confidence, string(factors), a.SourceCount, a.Summary,
		a.Error, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert analysis: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM promises WHERE analysis_id = ?`, a.ID); err != nil {
		return fmt.Errorf("store: clear promises: %w", err)
	}

	for i, p := range a.Promises {
		var incText, incURL, incVote string
		if p.LegislativeIncoherence != nil {
			incText = p.LegislativeIncoherence.Text
			incURL = p.LegislativeIncoherence.SourceURL
			incVote = p.LegislativeIncoherence.VoteID
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO promises (analysis_id, position, text, category, confidence, negated,
				conditional, reasoning, evidence_snippet, source_name, incoherence_text,
				incoherence_url, incoherence_vote)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, i, p.Text, string(p.Category), p.Confidence, p.Negated, p.Conditional,
			p.Reasoning, p.EvidenceSnippet, p.SourceName, incText, incURL, incVote)
		if err != nil {
			return fmt.Errorf("store: insert promise %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// MarkAnalysisFailed records a failed run without touching existing promises
func (s *Store) MarkAnalysisFailed(ctx context.Context, id, targetName, author, msg string) error {
	now := formatTime(s.now().UTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, target_name, author, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		id, targetName, author, string(model.AnalysisFailed), msg, now, now)
	if err != nil {
		return fmt.Errorf("store: mark analysis failed: %w", err)
	}
	return nil
}

// GetAnalysis loads an analysis with its promises in stored order
func (s *Store) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_name, author, category, status, score, risk_level, confidence,
			factors_json, source_count, summary, error, created_at, updated_at
		FROM analyses WHERE id = ?`, id)

	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get analysis: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT text, category, confidence, negated, conditional, reasoning, evidence_snippet,
			source_name, incoherence_text, incoherence_url, incoherence_vote
		FROM promises WHERE analysis_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list promises: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PromiseStatement
		var category, incText, incURL, incVote string
		if err := rows.Scan(&p.Text, &category, &p.Confidence, &p.Negated, &p.Conditional,
			&p.Reasoning, &p.EvidenceSnippet, &p.SourceName, &incText, &incURL, &incVote); err != nil {
			return nil, fmt.Errorf("store: scan promise: %w", err)
		}
		p.Category = model.ParseCategory(category)
		if incText != "" {
			p.LegislativeIncoherence = &model.Incoherence{Text: incText, SourceURL: incURL, VoteID: incVote}
		}
		a.Promises = append(a.Promises, p)
	}
	return a, rows.Err()
}

// PriorAnalyses returns completed analyses of an author, newest first,
// excluding excludeID
func (s *Store) PriorAnalyses(ctx context.Context, author, excludeID string, limit int) ([]model.Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_name, author, category, status, score, risk_level, confidence,
			factors_json, source_count, summary, error, created_at, updated_at
		FROM analyses
		WHERE author = ? AND status = ? AND id != ?
		ORDER BY updated_at DESC
		LIMIT ?`, author, string(model.AnalysisCompleted), excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: prior analyses: %w", err)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan analysis: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkSeen records URLs in the history and returns how many were new
func (s *Store) MarkSeen(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	now := formatTime(s.now().UTC())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fresh := 0
	for _, u := range urls {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO url_history (url, first_seen_at) VALUES (?, ?) ON CONFLICT(url) DO NOTHING`, u, now)
		if err != nil {
			return 0, fmt.Errorf("store: mark seen: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			fresh++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return fresh, nil
}

// Known reports which of urls are already in the history
func (s *Store) Known(ctx context.Context, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(urls) == 0 {
		return known, nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM url_history WHERE url IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: known urls: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("store: scan url: %w", err)
		}
		known[u] = true
	}
	return known, rows.Err()
}

// SaveJob inserts a job status record
func (s *Store) SaveJob(ctx context.Context, j *model.JobStatus) error {
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	result, err := encodeResult(j.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, state, analysis_id, result_json, error, error_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.State), j.AnalysisID, result, j.Error, j.ErrorCode,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save job: %w", err)
	}
	return nil
}

// UpdateJob overwrites the mutable fields of a job status record
func (s *Store) UpdateJob(ctx context.Context, j *model.JobStatus) error {
	j.UpdatedAt = s.now().UTC()

	result, err := encodeResult(j.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, analysis_id = ?, result_json = ?, error = ?, error_code = ?, updated_at = ?
		WHERE id = ?`,
		string(j.State), j.AnalysisID, result, j.Error, j.ErrorCode, formatTime(j.UpdatedAt), j.ID)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob loads a job status record
func (s *Store) GetJob(ctx context.Context, id string) (*model.JobStatus, error) {
	var j model.JobStatus
	var state, result, created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, state, analysis_id, result_json, error, error_code, created_at, updated_at
		FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &state, &j.AnalysisID, &result, &j.Error, &j.ErrorCode, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}

	j.State = model.JobState(state)
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	if result != "" {
		var r model.ScoreResult
		if err := json.Unmarshal([]byte(result), &r); err != nil {
			return nil, fmt.Errorf("store: decode job result: %w", err)
		}
		j.Result = &r
	}
	return &j, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row scanner) (*model.Analysis, error) {
	var a model.Analysis
	var category, status, risk, factors, created, updated string
	if err := row.Scan(&a.ID, &a.TargetName, &a.Author, &category, &status, &a.Score, &risk,
		&a.Confidence, &factors, &a.SourceCount, &a.Summary, &a.Error, &created, &updated); err != nil {
		return nil, err
	}
	a.Category = model.ParseCategory(category)
	a.Status = model.AnalysisStatus(status)
	a.RiskLevel = model.RiskLevel(risk)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(factors), &a.Factors); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	return &a, nil
}

func encodeResult(r *model.ScoreResult) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("store: encode job result: %w", err)
	}
	return string(b), nil
}

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
