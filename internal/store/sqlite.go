// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "newstrace/internal/errors"
	"newstrace/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Audit results produced for each news item
	CREATE TABLE IF NOT EXISTS news_audits (
		news_id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		risk_level TEXT,
		detected_features TEXT NOT NULL DEFAULT '[]',
		audited_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- One row per (news item, ticker) tracking task
	CREATE TABLE IF NOT EXISTS tracking_tasks (
		tracking_id TEXT PRIMARY KEY,
		news_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		market_regime TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		price_t0 REAL NOT NULL,
		t0_timestamp DATETIME NOT NULL,
		expected_close_date DATETIME NOT NULL,
		max_drawdown REAL,
		final_pnl REAL,
		closed_at DATETIME,
		evolved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Price snapshots keyed by day offset
	CREATE TABLE IF NOT EXISTS tracking_checkpoints (
		tracking_id TEXT NOT NULL REFERENCES tracking_tasks(tracking_id),
		day_offset INTEGER NOT NULL,
		price REAL NOT NULL,
		captured_at DATETIME NOT NULL,
		PRIMARY KEY (tracking_id, day_offset)
	);

	-- Append-only weight snapshot history
	CREATE TABLE IF NOT EXISTS weight_snapshots (
		version INTEGER PRIMARY KEY AUTOINCREMENT,
		weights TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL
	);

	-- Append-only evolution audit log
	CREATE TABLE IF NOT EXISTS evolution_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		evolved_at DATETIME NOT NULL,
		batch_size INTEGER NOT NULL,
		reason TEXT,
		changes TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tracking_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_news ON tracking_tasks(news_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_evolved ON tracking_tasks(evolved);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_offset ON tracking_checkpoints(day_offset, captured_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Tracking Methods
// ============================================================================

const taskColumns = `tracking_id, news_id, ticker, market_regime, status, price_t0, t0_timestamp,
	expected_close_date, max_drawdown, final_pnl, closed_at, evolved`

// CreateTask inserts a task together with its entry checkpoint.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.TrackingTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracking_tasks
		(tracking_id, news_id, ticker, market_regime, status, price_t0, t0_timestamp, expected_close_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.NewsID, task.Ticker, string(task.Regime), string(task.Status),
		task.EntryPrice, task.CreatedAt, task.ExpectedCloseAt)
	if err != nil {
		return apperrors.NewStoreError("create_task", task.ID, err)
	}

	entry := models.Checkpoint{Offset: models.EntryOffset, Price: task.EntryPrice, CapturedAt: task.CreatedAt}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_checkpoints (tracking_id, day_offset, price, captured_at)
		VALUES (?, ?, ?, ?)
	`, task.ID, entry.Offset, entry.Price, entry.CapturedAt); err != nil {
		return apperrors.NewStoreError("create_task", task.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	task.AddCheckpoint(entry)
	return nil
}

// GetTask retrieves a task with its checkpoints.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.TrackingTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tracking_tasks WHERE tracking_id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrTaskNotFound
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get_task", id, err)
	}

	tasks := []models.TrackingTask{*task}
	if err := s.attachCheckpoints(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// ListTasks retrieves tasks matching filter, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.TrackingTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tracking_tasks WHERE 1=1`
	var args []interface{}

	if filter.NewsID != "" {
		query += " AND news_id = ?"
		args = append(args, filter.NewsID)
	}
	if filter.Ticker != "" {
		query += " AND ticker = ?"
		args = append(args, filter.Ticker)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY t0_timestamp DESC, tracking_id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	return s.queryTasks(ctx, "list_tasks", query, args...)
}

// ActiveTasks returns every task still in the active state.
func (s *SQLiteStore) ActiveTasks(ctx context.Context) ([]models.TrackingTask, error) {
	return s.ListTasks(ctx, TaskFilter{Status: models.StatusActive})
}

// CaptureCheckpoint writes cp unless the task already holds that offset.
// Price and timestamp live in one row so they are written together.
func (s *SQLiteStore) CaptureCheckpoint(ctx context.Context, trackingID string, cp models.Checkpoint) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tracking_tasks WHERE tracking_id = ?`, trackingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperrors.ErrTaskNotFound
	}
	if err != nil {
		return false, apperrors.NewStoreError("capture_checkpoint", trackingID, err)
	}
	if models.TaskStatus(status) == models.StatusClosed {
		return false, apperrors.ErrTaskClosed
	}

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracking_checkpoints (tracking_id, day_offset, price, captured_at)
		VALUES (?, ?, ?, ?)
	`, trackingID, cp.Offset, cp.Price, cp.CapturedAt)
	if err != nil {
		return false, apperrors.NewStoreError("capture_checkpoint", trackingID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewStoreError("capture_checkpoint", trackingID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return n > 0, nil
}

// CloseTask transitions an active task to closed with its final metrics.
func (s *SQLiteStore) CloseTask(ctx context.Context, trackingID string, metrics models.TaskMetrics, closedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tracking_tasks
		SET status = ?, final_pnl = ?, max_drawdown = ?, closed_at = ?
		WHERE tracking_id = ? AND status = ?
	`, string(models.StatusClosed), metrics.FinalPnL, metrics.MaxDrawdown, closedAt,
		trackingID, string(models.StatusActive))
	if err != nil {
		return false, apperrors.NewStoreError("close_task", trackingID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewStoreError("close_task", trackingID, err)
	}
	return n > 0, nil
}

// FeedbackCandidates returns unconsumed tasks holding a checkpoint at offset.
func (s *SQLiteStore) FeedbackCandidates(ctx context.Context, offset, limit int) ([]models.TrackingTask, error) {
	query := `
		SELECT t.tracking_id, t.news_id, t.ticker, t.market_regime, t.status, t.price_t0, t.t0_timestamp,
			t.expected_close_date, t.max_drawdown, t.final_pnl, t.closed_at, t.evolved
		FROM tracking_tasks t
		JOIN tracking_checkpoints c ON c.tracking_id = t.tracking_id AND c.day_offset = ?
		WHERE t.evolved = 0
		ORDER BY c.captured_at DESC, t.tracking_id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryTasks(ctx, "feedback_candidates", query, offset)
}

// CountFeedbackCandidates counts unconsumed tasks holding a checkpoint at offset.
func (s *SQLiteStore) CountFeedbackCandidates(ctx context.Context, offset int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tracking_tasks t
		JOIN tracking_checkpoints c ON c.tracking_id = t.tracking_id AND c.day_offset = ?
		WHERE t.evolved = 0
	`, offset).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStoreError("count_feedback_candidates", "", err)
	}
	return n, nil
}

// MarkEvolved flags tasks as consumed. Already-flagged tasks are left as they are.
func (s *SQLiteStore) MarkEvolved(ctx context.Context, trackingIDs []string) (int, error) {
	if len(trackingIDs) == 0 {
		return 0, nil
	}

	placeholders, args := inClause(trackingIDs)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tracking_tasks SET evolved = 1
		WHERE evolved = 0 AND tracking_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, apperrors.NewStoreError("mark_evolved", "", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStoreError("mark_evolved", "", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, op, query string, args ...interface{}) ([]models.TrackingTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError(op, "", err)
	}
	defer rows.Close()

	var tasks []models.TrackingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apperrors.NewStoreError(op, "", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	if err := s.attachCheckpoints(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// attachCheckpoints loads the checkpoints of tasks in one query.
func (s *SQLiteStore) attachCheckpoints(ctx context.Context, tasks []models.TrackingTask) error {
	if len(tasks) == 0 {
		return nil
	}

	index := make(map[string]int, len(tasks))
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
		ids[i] = t.ID
	}

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT tracking_id, day_offset, price, captured_at
		FROM tracking_checkpoints
		WHERE tracking_id IN (`+placeholders+`)
		ORDER BY tracking_id, day_offset
	`, args...)
	if err != nil {
		return apperrors.NewStoreError("load_checkpoints", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var cp models.Checkpoint
		if err := rows.Scan(&id, &cp.Offset, &cp.Price, &cp.CapturedAt); err != nil {
			return apperrors.NewStoreError("load_checkpoints", id, err)
		}
		if i, ok := index[id]; ok {
			tasks[i].Checkpoints = append(tasks[i].Checkpoints, cp)
		}
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.TrackingTask, error) {
	var t models.TrackingTask
	var regime, status string
	var drawdown, pnl sql.NullFloat64
	var closedAt sql.NullTime
	var evolved int

	err := row.Scan(&t.ID, &t.NewsID, &t.Ticker, &regime, &status, &t.EntryPrice, &t.CreatedAt,
		&t.ExpectedCloseAt, &drawdown, &pnl, &closedAt, &evolved)
	if err != nil {
		return nil, err
	}

	t.Regime = models.Regime(regime)
	t.Status = models.TaskStatus(status)
	t.Evolved = evolved != 0
	if drawdown.Valid {
		v := drawdown.Float64
		t.MaxDrawdown = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		t.FinalPnL = &v
	}
	if closedAt.Valid {
		v := closedAt.Time
		t.ClosedAt = &v
	}
	return &t, nil
}

func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}

// ============================================================================
// Audit Methods
// ============================================================================

// SaveAudit records or replaces the audit of a news item.
func (s *SQLiteStore) SaveAudit(ctx context.Context, audit *models.AuditResult) error {
	features, err := json.Marshal(audit.DetectedFeatures)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	if audit.AuditedAt.IsZero() {
		audit.AuditedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO news_audits (news_id, score, risk_level, detected_features, audited_at)
		VALUES (?, ?, ?, ?, ?)
	`, audit.NewsID, audit.Score, string(audit.RiskLevel), string(features), audit.AuditedAt)
	if err != nil {
		return apperrors.NewStoreError("save_audit", audit.NewsID, err)
	}
	return nil
}

// GetAudit retrieves the audit of a news item.
func (s *SQLiteStore) GetAudit(ctx context.Context, newsID string) (*models.AuditResult, error) {
	var a models.AuditResult
	var risk sql.NullString
	var features string

	err := s.db.QueryRowContext(ctx, `
		SELECT news_id, score, risk_level, detected_features, audited_at
		FROM news_audits WHERE news_id = ?
	`, newsID).Scan(&a.NewsID, &a.Score, &risk, &features, &a.AuditedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrAuditNotFound
	}
	if err != nil {
		return nil, apperrors.NewStoreError("get_audit", newsID, err)
	}

	a.RiskLevel = models.RiskLevel(risk.String)
	if err := json.Unmarshal([]byte(features), &a.DetectedFeatures); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrAuditMalformed, "news %s features: %v", newsID, err)
	}
	return &a, nil
}

// ============================================================================
// Weight Methods
// ============================================================================

// SaveSnapshot appends a weight snapshot and assigns its version.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap models.WeightSnapshot) (models.WeightSnapshot, error) {
	weights, err := json.Marshal(snap.Weights)
	if err != nil {
		return snap, fmt.Errorf("failed to marshal weights: %w", err)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO weight_snapshots (weights, reason, created_at) VALUES (?, ?, ?)
	`, string(weights), snap.Reason, snap.CreatedAt)
	if err != nil {
		return snap, apperrors.NewStoreError("save_snapshot", "", err)
	}

	version, err := result.LastInsertId()
	if err != nil {
		return snap, apperrors.NewStoreError("save_snapshot", "", err)
	}

	snap.Version = version
	snap.Weights = snap.Weights.Clone()
	return snap, nil
}

// LatestSnapshot returns the most recently committed snapshot.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (models.WeightSnapshot, error) {
	snaps, err := s.ListSnapshots(ctx, 1)
	if err != nil {
		return models.WeightSnapshot{}, err
	}
	if len(snaps) == 0 {
		return models.WeightSnapshot{}, apperrors.ErrNoSnapshot
	}
	return snaps[0], nil
}

// ListSnapshots returns snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]models.WeightSnapshot, error) {
	query := `SELECT version, weights, reason, created_at FROM weight_snapshots ORDER BY version DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewStoreError("list_snapshots", "", err)
	}
	defer rows.Close()

	var snaps []models.WeightSnapshot
	for rows.Next() {
		var snap models.WeightSnapshot
		var weights string
		var reason sql.NullString
		if err := rows.Scan(&snap.Version, &weights, &reason, &snap.CreatedAt); err != nil {
			return nil, apperrors.NewStoreError("list_snapshots", "", err)
		}
		if err := json.Unmarshal([]byte(weights), &snap.Weights); err != nil {
			return nil, apperrors.NewStoreError("list_snapshots", fmt.Sprintf("v%d", snap.Version), err)
		}
		snap.Reason = reason.String
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// AppendEvolution appends one evolution record.
func (s *SQLiteStore) AppendEvolution(ctx context.Context, rec *models.EvolutionRecord) error {
	changes := rec.Changes
	if changes == nil {
		changes = []models.FeatureChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	if rec.EvolvedAt.IsZero() {
		rec.EvolvedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO evolution_log (evolved_at, batch_size, reason, changes) VALUES (?, ?, ?, ?)
	`, rec.EvolvedAt, rec.BatchSize, rec.Reason, string(data))
	if err != nil {
		return apperrors.NewStoreError("append_evolution", "", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListEvolutions returns evolution records, newest first.
func (s *SQLiteStore) ListEvolutions(ctx context.Context, limit int) ([]models.EvolutionRecord, error) {
	query := `SELECT id, evolved_at, batch_size, reason, changes FROM evolution_log ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewStoreError("list_evolutions", "", err)
	}
	defer rows.Close()

	var records []models.EvolutionRecord
	for rows.Next() {
		var rec models.EvolutionRecord
		var reason sql.NullString
		var changes string
		if err := rows.Scan(&rec.ID, &rec.EvolvedAt, &rec.BatchSize, &reason, &changes); err != nil {
			return nil, apperrors.NewStoreError("list_evolutions", "", err)
		}
		if err := json.Unmarshal([]byte(changes), &rec.Changes); err != nil {
			return nil, apperrors.NewStoreError("list_evolutions", fmt.Sprintf("#%d", rec.ID), err)
		}
		rec.Reason = reason.String
		records = append(records, rec)
	}

	return records, rows.Err()
}
