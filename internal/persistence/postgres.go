package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// PostgresBackend is the durable persistence backend, storing each record
// kind as a JSONB document keyed by id - the same upsert-by-primary-key
// shape as the teacher's PostgresStore.UpsertAgent, generalized from a
// fixed agents table to one JSONB-document table per record kind so the
// schema tracks workorder.WorkOrder/Run/IterationData/AuditRecord without a
// hand-maintained column list per struct.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pooled connection and pings it before
// returning, matching the teacher's pool tuning (bounded conns, health
// check interval) scaled down for a control plane rather than a fleet of
// reconciler workers.
func NewPostgresBackend(ctx context.Context, connString string) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse postgres config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}

// EnsureSchema creates the four document tables if absent. Called once at
// startup; migrations beyond this are out of scope for the core.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_orders (id TEXT PRIMARY KEY, status TEXT NOT NULL, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
		`CREATE TABLE IF NOT EXISTS runs (id TEXT PRIMARY KEY, work_order_id TEXT NOT NULL, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
		`CREATE INDEX IF NOT EXISTS runs_work_order_id_idx ON runs (work_order_id)`,
		`CREATE TABLE IF NOT EXISTS iterations (run_id TEXT NOT NULL, iteration INT NOT NULL, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(), PRIMARY KEY (run_id, iteration))`,
		`CREATE TABLE IF NOT EXISTS audit_records (run_id TEXT PRIMARY KEY, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
		// durable epoch counter backing deterministic facade-replay tests:
		// a monotonically increasing value callers can stamp onto a replay
		// run so two replays against the same persisted epoch observe the
		// same routing decisions.
		`CREATE TABLE IF NOT EXISTS facade_epoch (id INT PRIMARY KEY DEFAULT 1, epoch BIGINT NOT NULL DEFAULT 0, CHECK (id = 1))`,
		`INSERT INTO facade_epoch (id, epoch) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("persistence: ensure schema: %w", err)
		}
	}
	return nil
}

// NextEpoch atomically increments and returns the durable facade epoch,
// used to give a replay run a stable counter independent of wall-clock
// time (Date.now()-style sources are explicitly disallowed in this repo's
// tests).
func (b *PostgresBackend) NextEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := b.pool.QueryRow(ctx, `UPDATE facade_epoch SET epoch = epoch + 1 WHERE id = 1 RETURNING epoch`).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("persistence: next epoch: %w", err)
	}
	return epoch, nil
}

func (b *PostgresBackend) SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error {
	doc, err := json.Marshal(wo)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO work_orders (id, status, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = NOW()
	`, wo.ID, string(wo.Status), doc)
	return err
}

func (b *PostgresBackend) LoadWorkOrder(ctx context.Context, id string) (workorder.WorkOrder, error) {
	var doc []byte
	err := b.pool.QueryRow(ctx, `SELECT doc FROM work_orders WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return workorder.WorkOrder{}, ErrNotFound
	}
	if err != nil {
		return workorder.WorkOrder{}, err
	}
	var wo workorder.WorkOrder
	err = json.Unmarshal(doc, &wo)
	return wo, err
}

func (b *PostgresBackend) ListWorkOrders(ctx context.Context, status workorder.WorkOrderStatus, limit, offset int) ([]workorder.WorkOrder, error) {
	query := `SELECT doc FROM work_orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []workorder.WorkOrder
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var wo workorder.WorkOrder
		if err := json.Unmarshal(doc, &wo); err != nil {
			return nil, err
		}
		all = append(all, wo)
	}
	return all, rows.Err()
}

func (b *PostgresBackend) SaveRun(ctx context.Context, run workorder.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO runs (id, work_order_id, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, run.ID, run.WorkOrderID, doc)
	return err
}

func (b *PostgresBackend) LoadRun(ctx context.Context, id string) (workorder.Run, error) {
	var doc []byte
	err := b.pool.QueryRow(ctx, `SELECT doc FROM runs WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return workorder.Run{}, ErrNotFound
	}
	if err != nil {
		return workorder.Run{}, err
	}
	var run workorder.Run
	err = json.Unmarshal(doc, &run)
	return run, err
}

func (b *PostgresBackend) ListRuns(ctx context.Context, workOrderID string) ([]workorder.Run, error) {
	rows, err := b.pool.Query(ctx, `SELECT doc FROM runs WHERE work_order_id = $1 ORDER BY updated_at ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []workorder.Run
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var run workorder.Run
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, err
		}
		all = append(all, run)
	}
	return all, rows.Err()
}

func (b *PostgresBackend) SaveIteration(ctx context.Context, data workorder.IterationData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO iterations (run_id, iteration, doc, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id, iteration) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, data.RunID, data.Iteration, doc)
	return err
}

func (b *PostgresBackend) ListIterations(ctx context.Context, runID string) ([]workorder.IterationData, error) {
	rows, err := b.pool.Query(ctx, `SELECT doc FROM iterations WHERE run_id = $1 ORDER BY iteration ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []workorder.IterationData
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var data workorder.IterationData
		if err := json.Unmarshal(doc, &data); err != nil {
			return nil, err
		}
		all = append(all, data)
	}
	return all, rows.Err()
}

func (b *PostgresBackend) SaveAudit(ctx context.Context, record AuditRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO audit_records (run_id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (run_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, record.RunID, doc)
	return err
}

var _ Store = (*PostgresBackend)(nil)
