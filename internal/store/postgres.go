// Package store persists projects, uploads, facts, dimensions, metric
// definitions and alerting state in PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/db"
)

// PostgresStore implements the persistence layer using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_project":      `SELECT id, owner_id, name, timezone, created_at FROM projects WHERE id = $1 AND owner_id = $2`,
	"get_upload":       `SELECT u.id, u.project_id, u.type, u.status, u.file_path, u.original_filename, u.created_at FROM uploads u JOIN projects p ON u.project_id = p.id WHERE u.id = $1 AND p.owner_id = $2 AND u.status <> 'deleted'`,
	"get_settings":     `SELECT project_id, group_labels, dedup_policy, created_at, updated_at FROM project_settings WHERE project_id = $1`,
	"resolve_product":  `SELECT product_id FROM dim_product_aliases WHERE project_id = $1 AND alias = $2`,
	"resolve_manager":  `SELECT manager_id FROM dim_manager_aliases WHERE project_id = $1 AND alias = $2`,
	"get_metric":       `SELECT metric_key, title, description, source_table, aggregation, formula_type, dims_allowed, requirements, version, created_at FROM metric_definitions WHERE metric_key = $1`,
	"get_tg_binding":   `SELECT id, project_id, chat_id, created_at FROM telegram_bindings WHERE project_id = $1`,
	"set_upload_state": `UPDATE uploads SET status = $1 WHERE id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use it with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that build
// dynamic queries directly (metric computation, dashboards).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	timezone   TEXT NOT NULL DEFAULT 'Europe/Moscow',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

CREATE TABLE IF NOT EXISTS project_settings (
	project_id   TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
	group_labels JSONB NOT NULL,
	dedup_policy TEXT NOT NULL DEFAULT 'keep_all_rows',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uploads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id        TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'uploaded',
	file_path         TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_uploads_project ON uploads(project_id);
CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);

CREATE TABLE IF NOT EXISTS dashboard_sources (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	data_type  TEXT NOT NULL,
	upload_id  TEXT REFERENCES uploads(id),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, data_type)
);

CREATE TABLE IF NOT EXISTS column_mappings (
	upload_id  TEXT PRIMARY KEY REFERENCES uploads(id) ON DELETE CASCADE,
	config     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS upload_quarantine (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	upload_id  TEXT NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
	row_number INTEGER NOT NULL,
	issues     JSONB NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quarantine_upload ON upload_quarantine(upload_id);

CREATE TABLE IF NOT EXISTS dim_products (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	canonical_name TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	product_type   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dim_products_project ON dim_products(project_id);

CREATE TABLE IF NOT EXISTS dim_product_aliases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	product_id TEXT NOT NULL REFERENCES dim_products(id) ON DELETE CASCADE,
	alias      TEXT NOT NULL,
	UNIQUE (project_id, alias)
);

CREATE TABLE IF NOT EXISTS dim_managers (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	canonical_name TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dim_managers_project ON dim_managers(project_id);

CREATE TABLE IF NOT EXISTS dim_manager_aliases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	manager_id TEXT NOT NULL REFERENCES dim_managers(id) ON DELETE CASCADE,
	alias      TEXT NOT NULL,
	UNIQUE (project_id, alias)
);

CREATE TABLE IF NOT EXISTS fact_transactions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id        TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	transaction_id    TEXT,
	order_id          TEXT,
	date              DATE NOT NULL,
	operation_type    TEXT NOT NULL,
	amount            DOUBLE PRECISION NOT NULL,
	client_id         TEXT,
	product_name_raw  TEXT,
	product_name_norm TEXT,
	product_id        TEXT REFERENCES dim_products(id),
	product_category  TEXT,
	manager_raw       TEXT,
	manager_norm      TEXT,
	manager_id        TEXT REFERENCES dim_managers(id),
	payment_method    TEXT,
	group_1           TEXT,
	group_2           TEXT,
	group_3           TEXT,
	group_4           TEXT,
	group_5           TEXT,
	fee_1             DOUBLE PRECISION NOT NULL DEFAULT 0,
	fee_2             DOUBLE PRECISION NOT NULL DEFAULT 0,
	fee_3             DOUBLE PRECISION NOT NULL DEFAULT 0,
	fee_total         DOUBLE PRECISION NOT NULL DEFAULT 0,
	utm_source        TEXT,
	utm_medium        TEXT,
	utm_campaign      TEXT,
	utm_term          TEXT,
	utm_content       TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fact_tx_project_date ON fact_transactions(project_id, date);
CREATE INDEX IF NOT EXISTS idx_fact_tx_txid ON fact_transactions(project_id, transaction_id);
CREATE INDEX IF NOT EXISTS idx_fact_tx_product ON fact_transactions(product_id);
CREATE INDEX IF NOT EXISTS idx_fact_tx_manager ON fact_transactions(manager_id);

CREATE TABLE IF NOT EXISTS fact_marketing_spend (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	date         DATE NOT NULL,
	spend_amount DOUBLE PRECISION NOT NULL,
	channel_raw  TEXT,
	channel_norm TEXT,
	utm_source   TEXT,
	utm_medium   TEXT,
	utm_campaign TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fact_spend_project_date ON fact_marketing_spend(project_id, date);

CREATE TABLE IF NOT EXISTS metric_definitions (
	metric_key   TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT,
	source_table TEXT,
	aggregation  TEXT,
	formula_type TEXT NOT NULL,
	dims_allowed JSONB NOT NULL DEFAULT '[]',
	requirements JSONB NOT NULL DEFAULT '[]',
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS insights (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	metric_key  TEXT NOT NULL,
	period_from DATE NOT NULL,
	period_to   DATE NOT NULL,
	text        TEXT NOT NULL,
	evidence    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_insights_project ON insights(project_id, metric_key);

CREATE TABLE IF NOT EXISTS alert_rules (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	metric_key TEXT NOT NULL,
	rule_type  TEXT NOT NULL,
	params     JSONB NOT NULL DEFAULT '{}',
	is_enabled BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alert_rules_project ON alert_rules(project_id);

CREATE TABLE IF NOT EXISTS alert_events (
	id       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	rule_id  TEXT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
	fired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	payload  JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_events_rule ON alert_events(rule_id, fired_at DESC);

CREATE TABLE IF NOT EXISTS telegram_bindings (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	chat_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
