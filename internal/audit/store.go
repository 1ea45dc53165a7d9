package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

// Store persists audit records in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_records (
		id             TEXT PRIMARY KEY,
		timestamp_ms   BIGINT NOT NULL,
		tenant_id      TEXT NOT NULL,
		content_type   TEXT NOT NULL,
		unit_count     INTEGER NOT NULL,
		span_count     INTEGER NOT NULL,
		categories     JSONB NOT NULL DEFAULT '{}',
		latency_micros BIGINT NOT NULL,
		timed_out      BOOLEAN NOT NULL DEFAULT FALSE,
		cache_hit      BOOLEAN NOT NULL DEFAULT FALSE,
		source         TEXT NOT NULL DEFAULT ''
	)`

// NewStore connects to Postgres and ensures the audit table exists.
func NewStore(cfg config.AuditDatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return nil
}

// BatchInsert writes a batch of records in one statement. Records
// already persisted (same id) are skipped.
func (s *Store) BatchInsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*11)

	for i, rec := range records {
		row := toExportRow(rec)
		base := i * 11
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11))
		valueArgs = append(valueArgs,
			row.ID,
			row.TimestampMs,
			row.TenantID,
			row.ContentType,
			row.UnitCount,
			row.SpanCount,
			row.Categories,
			row.LatencyMicros,
			row.TimedOut,
			row.CacheHit,
			row.Source,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO audit_records (id, timestamp_ms, tenant_id, content_type, unit_count, span_count, categories, latency_micros, timed_out, cache_hit, source)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		inserted = int64(len(records))
	}

	s.logger.Debug("Audit batch insert completed",
		zap.Int64("inserted", inserted),
		zap.Int("batch_size", len(records)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password portion of a database URL for
// logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
