package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// DB wraps a PostgreSQL connection pool for orchestrator persistence.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// CreateExecution inserts a new execution row and returns its id.
func (db *DB) CreateExecution(ctx context.Context, rec *ExecutionRecord) (string, error) {
	query := `
		INSERT INTO executions (id, tenant_id, agent_id, session_id, deployment_id,
			status, input_data, timeout_seconds, created_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.TenantID, rec.AgentID, rec.SessionID, rec.DeploymentID,
		rec.Status, rec.InputData, rec.TimeoutSecs, rec.CreatedBy, rec.StartedAt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting execution: %w", err)
	}
	return rec.ID, nil
}

// LoadExecution retrieves a single execution by id.
func (db *DB) LoadExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := `
		SELECT id, tenant_id, agent_id, session_id, deployment_id, status,
			input_data, output_data, error_message, timeout_seconds,
			tokens_used, cost, execution_time_ms, created_by, started_at, completed_at
		FROM executions WHERE id = $1`

	var rec ExecutionRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.TenantID, &rec.AgentID, &rec.SessionID, &rec.DeploymentID,
		&rec.Status, &rec.InputData, &rec.OutputData, &rec.ErrorMessage,
		&rec.TimeoutSecs, &rec.TokensUsed, &rec.Cost, &rec.DurationMS,
		&rec.CreatedBy, &rec.StartedAt, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return &rec, nil
}

// UpdateExecution applies a partial update to an execution row. Only
// non-nil fields are written.
func (db *DB) UpdateExecution(ctx context.Context, id string, upd ExecutionUpdate) error {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.OutputData != nil {
		add("output_data", upd.OutputData)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.TokensUsed != nil {
		add("tokens_used", *upd.TokensUsed)
	}
	if upd.Cost != nil {
		add("cost", *upd.Cost)
	}
	if upd.DurationMS != nil {
		add("execution_time_ms", *upd.DurationMS)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryStaleExecutions lists executions of a tenant still in the given
// statuses that started before the cutoff.
func (db *DB) QueryStaleExecutions(ctx context.Context, tenantID string, statuses []ExecutionStatus, before time.Time) ([]ExecutionRecord, error) {
	query := `
		SELECT id, tenant_id, agent_id, session_id, deployment_id, status,
			input_data, output_data, error_message, timeout_seconds,
			tokens_used, cost, execution_time_ms, created_by, started_at, completed_at
		FROM executions
		WHERE tenant_id = $1 AND status = ANY($2) AND started_at < $3
		ORDER BY started_at ASC`

	strStatuses := make([]string, len(statuses))
	for i, s := range statuses {
		strStatuses[i] = string(s)
	}

	rows, err := db.pool.Query(ctx, query, tenantID, strStatuses, before)
	if err != nil {
		return nil, fmt.Errorf("querying stale executions: %w", err)
	}
	defer rows.Close()

	var results []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.AgentID, &rec.SessionID, &rec.DeploymentID,
			&rec.Status, &rec.InputData, &rec.OutputData, &rec.ErrorMessage,
			&rec.TimeoutSecs, &rec.TokensUsed, &rec.Cost, &rec.DurationMS,
			&rec.CreatedBy, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// ListExecutions queries executions with optional filters.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error) {
	query := `
		SELECT id, tenant_id, agent_id, session_id, status, timeout_seconds,
			tokens_used, cost, execution_time_ms, started_at, completed_at
		FROM executions
		WHERE ($1 = '' OR tenant_id = $1)
		  AND ($2 = '' OR agent_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.TenantID, filter.AgentID, string(filter.Status), limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var results []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.AgentID, &rec.SessionID, &rec.Status,
			&rec.TimeoutSecs, &rec.TokensUsed, &rec.Cost, &rec.DurationMS,
			&rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// GetAgent retrieves an agent definition.
func (db *DB) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	query := `
		SELECT id, tenant_id, name, status, provider, model, temperature,
			max_tokens, system_prompt, memory_enabled, guardrails_enabled
		FROM agents WHERE id = $1`

	var agent AgentRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&agent.ID, &agent.TenantID, &agent.Name, &agent.Status,
		&agent.Provider, &agent.Model, &agent.Temperature, &agent.MaxTokens,
		&agent.SystemPrompt, &agent.MemoryEnabled, &agent.GuardrailsEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent %s: %w", id, err)
	}
	return &agent, nil
}

// LogViolation inserts a guardrail violation record.
func (db *DB) LogViolation(ctx context.Context, v *ViolationRecord) error {
	query := `
		INSERT INTO guardrail_violations (id, tenant_id, user_id, agent_id,
			violation_type, risk_level, content_hash, content_prefix,
			sanitized, source, created_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.pool.Exec(ctx, query,
		v.ID, v.TenantID, v.UserID, v.AgentID,
		v.ViolationType, v.RiskLevel, v.ContentHash,
		truncateForDB(v.ContentPrefix, 256),
		truncateForDB(v.Sanitized, 65535),
		v.Source, v.CreatedAt, v.Resolved,
	)
	if err != nil {
		return fmt.Errorf("inserting violation: %w", err)
	}
	return nil
}

// RetrieveMemories returns the most recent memory entries for an agent.
func (db *DB) RetrieveMemories(ctx context.Context, agentID, query string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	// Recency-ranked recall; the query string narrows by substring when set.
	sql := `
		SELECT id, agent_id, session_id, content, metadata, created_at
		FROM memory_entries
		WHERE agent_id = $1 AND ($2 = '' OR content ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, sql, agentID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.SessionID, &e.Content, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// StoreMemory inserts a memory entry.
func (db *DB) StoreMemory(ctx context.Context, entry *MemoryEntry) error {
	query := `
		INSERT INTO memory_entries (id, agent_id, session_id, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		entry.ID, entry.AgentID, entry.SessionID,
		truncateForDB(entry.Content, 65535), entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting memory entry: %w", err)
	}
	return nil
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
