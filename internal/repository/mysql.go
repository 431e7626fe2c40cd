package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// Поля одной строки sim_telemetry в batch INSERT
const telemetryFields = 7

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sim_runs (
		run_id       CHAR(36)     NOT NULL PRIMARY KEY,
		started_at   DATETIME(3)  NOT NULL,
		ended_at     DATETIME(3)  NULL,
		final_status VARCHAR(16)  NULL,
		waypoints    INT          NOT NULL DEFAULT 0,
		KEY idx_started_at (started_at)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sim_telemetry (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		run_id         CHAR(36)    NOT NULL,
		seq            BIGINT UNSIGNED NOT NULL,
		waypoint_index INT         NOT NULL,
		status         VARCHAR(16) NOT NULL,
		latitude       DOUBLE      NOT NULL,
		longitude      DOUBLE      NOT NULL,
		recorded_at    DATETIME(3) NOT NULL,
		KEY idx_run_seq (run_id, seq)
	) ENGINE=InnoDB`,
}

// MySQLRepository репозиторий истории прогонов в MySQL
type MySQLRepository struct {
	db     *sql.DB
	logger *utils.Logger
	config *config.MySQLConfig
}

// NewMySQLRepository создает новый MySQL репозиторий
func NewMySQLRepository(cfg *config.MySQLConfig, logger *utils.Logger) (*MySQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", withParseTime(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return &MySQLRepository{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		config: cfg,
	}, nil
}

// withParseTime добавляет parseTime=true, чтобы DATETIME сканировался в time.Time
func withParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// Ping проверяет соединение с MySQL
func (r *MySQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		metrics.MySQLConnectionStatus.Set(0)
		return err
	}
	metrics.MySQLConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с MySQL
func (r *MySQLRepository) Close() error {
	return r.db.Close()
}

// EnsureSchema создает таблицы, если их нет
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// StartRun регистрирует новый прогон
func (r *MySQLRepository) StartRun(ctx context.Context, run models.Run) error {
	query := `
		INSERT INTO sim_runs (run_id, started_at, waypoints) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE started_at = VALUES(started_at), waypoints = VALUES(waypoints)`

	if _, err := r.db.ExecContext(ctx, query, run.RunID, run.StartedAt.UTC(), run.Waypoints); err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun закрывает прогон с итоговым статусом
func (r *MySQLRepository) FinishRun(ctx context.Context, runID string, status models.Status, endedAt time.Time) error {
	query := `UPDATE sim_runs SET ended_at = ?, final_status = ? WHERE run_id = ? AND ended_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, endedAt.UTC(), status.String(), runID); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// GetRun возвращает прогон по идентификатору
func (r *MySQLRepository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	query := `SELECT run_id, started_at, ended_at, final_status, waypoints FROM sim_runs WHERE run_id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns возвращает последние прогоны
func (r *MySQLRepository) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT run_id, started_at, ended_at, final_status, waypoints
		FROM sim_runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan run row")
			continue
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run         models.Run
		endedAt     sql.NullTime
		finalStatus sql.NullString
	)
	if err := row.Scan(&run.RunID, &run.StartedAt, &endedAt, &finalStatus, &run.Waypoints); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	run.FinalStatus = finalStatus.String
	return &run, nil
}

// GetTelemetry возвращает телеметрию прогона в порядке sequence
func (r *MySQLRepository) GetTelemetry(ctx context.Context, runID string, limit int) ([]models.Telemetry, error) {
	query := `
		SELECT seq, waypoint_index, status, latitude, longitude, recorded_at
		FROM sim_telemetry WHERE run_id = ? ORDER BY seq ASC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	points := make([]models.Telemetry, 0, limit)
	for rows.Next() {
		var (
			tm     models.Telemetry
			status string
		)
		if err := rows.Scan(&tm.Sequence, &tm.Index, &status, &tm.Latitude, &tm.Longitude, &tm.RecordedAt); err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan telemetry row")
			continue
		}
		tm.RunID = runID
		tm.Status, _ = models.ParseStatus(status)
		tm.Geohash = models.Coordinate{Latitude: tm.Latitude, Longitude: tm.Longitude}.Geohash(models.DefaultGeohashPrecision)
		points = append(points, tm)
	}
	return points, rows.Err()
}

// SaveTelemetryBatch сохраняет пакет телеметрии одним INSERT
func (r *MySQLRepository) SaveTelemetryBatch(ctx context.Context, points []*models.Telemetry) error {
	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	args := make([]interface{}, 0, len(points)*telemetryFields)
	valid := 0

	for _, p := range points {
		if p == nil || p.RunID == "" {
			continue
		}
		args = append(args,
			p.RunID, p.Sequence, p.Index, p.Status.String(),
			p.Latitude, p.Longitude, p.RecordedAt.UTC())
		valid++
	}

	if valid == 0 {
		r.logger.Warn("No valid telemetry points to save in batch")
		return nil
	}

	query := `
		INSERT INTO sim_telemetry (
			run_id, seq, waypoint_index, status, latitude, longitude, recorded_at
		) VALUES ` + r.generatePlaceholders(valid, telemetryFields)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to batch insert telemetry: %w", err)
	}

	metrics.MySQLBatchDuration.Observe(time.Since(start).Seconds())
	r.logger.WithField("count", valid).Debug("Saved telemetry batch to MySQL")
	return nil
}

// CleanupOldRuns удаляет прогоны и их телеметрию старше olderThan
func (r *MySQLRepository) CleanupOldRuns(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE t FROM sim_telemetry t JOIN sim_runs r ON r.run_id = t.run_id WHERE r.started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup telemetry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM sim_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cleanup: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		r.logger.WithField("count", affected).WithField("older_than_hours", olderThan.Hours()).Info("Cleaned up old runs")
	}
	return nil
}

// GetStats возвращает статистику MySQL
func (r *MySQLRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	queries := map[string]string{
		"runs_count":      "SELECT COUNT(*) FROM sim_runs",
		"telemetry_count": "SELECT COUNT(*) FROM sim_telemetry",
		"active_runs":     "SELECT COUNT(*) FROM sim_runs WHERE ended_at IS NULL",
	}

	for key, query := range queries {
		var count int64
		if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			r.logger.WithField("key", key).WithField("error", err).Warn("Failed to get MySQL stat")
			stats[key] = 0
		} else {
			stats[key] = count
		}
	}

	// Статистика соединений
	dbStats := r.db.Stats()
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use"] = dbStats.InUse
	stats["idle"] = dbStats.Idle

	return stats, nil
}

// generatePlaceholders генерирует плейсхолдеры для batch INSERT
func (r *MySQLRepository) generatePlaceholders(count, fieldsPerRecord int) string {
	if count == 0 || fieldsPerRecord == 0 {
		return ""
	}

	singleRecord := "(" + strings.Repeat("?,", fieldsPerRecord-1) + "?)"

	placeholders := make([]string, count)
	for i := range placeholders {
		placeholders[i] = singleRecord
	}

	return strings.Join(placeholders, ",")
}
