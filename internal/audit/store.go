package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/config"
	"github.com/cod3vil/data-veil/internal/workflow"
)

// Record is one persisted audit entry.
type Record struct {
	ID            string    `db:"id" json:"id"`
	TaskID        string    `db:"task_id" json:"task_id"`
	OperationType string    `db:"operation_type" json:"operation_type"`
	Details       string    `db:"details" json:"details"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Store persists workflow operations (upload, preview, download) to
// PostgreSQL. It implements workflow.Auditor. Recording is best effort:
// failures are logged and never surface to the operation being recorded.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS operation_logs (
	id UUID PRIMARY KEY,
	task_id UUID,
	operation_type VARCHAR(50) NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_operation_logs_task_id ON operation_logs (task_id);
CREATE INDEX IF NOT EXISTS idx_operation_logs_created_at ON operation_logs (created_at);`

// NewStore connects to the audit database and ensures the schema exists.
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure audit schema: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return store, nil
}

// Record inserts one audit entry. Failures are logged, not returned.
func (s *Store) Record(ctx context.Context, entry workflow.AuditEntry) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		s.logger.Error("Failed to marshal audit details", zap.Error(err))
		details = []byte("{}")
	}

	query := `
		INSERT INTO operation_logs (id, task_id, operation_type, details, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, now())`

	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), entry.TaskID, entry.Operation, details); err != nil {
		s.logger.Error("Failed to record audit entry",
			zap.Error(err),
			zap.String("operation", entry.Operation),
			zap.String("task_id", entry.TaskID),
		)
		return
	}

	s.logger.Debug("Audit entry recorded",
		zap.String("operation", entry.Operation),
		zap.String("task_id", entry.TaskID),
	)
}

// List returns audit records created at or after since, newest first,
// capped at limit when positive.
func (s *Store) List(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	query := `
		SELECT id, COALESCE(task_id::text, '') AS task_id, operation_type,
		       COALESCE(details::text, '{}') AS details, created_at
		FROM operation_logs
		WHERE created_at >= $1
		ORDER BY created_at DESC`
	args := []interface{}{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

// Count returns the total number of audit records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM operation_logs"); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if idx := strings.LastIndex(userPart, ":"); idx > strings.Index(userPart, "//") {
				parts[0] = userPart[:idx] + ":***"
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
