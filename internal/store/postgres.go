package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL, selected when the
// configured database URL uses the "postgres://" scheme.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection pool and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS robots (
			uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			mac TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS network_info (
			robot_uuid TEXT PRIMARY KEY REFERENCES robots(uuid),
			info JSONB NOT NULL DEFAULT '[]',
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
	}
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertRobot(ctx context.Context, robot *Robot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO robots (uuid, name, mac) VALUES ($1, $2, $3)
		ON CONFLICT (uuid) DO UPDATE SET name = excluded.name, mac = excluded.mac
	`, robot.UUID, robot.Name, robot.MAC)
	if err != nil {
		return fmt.Errorf("upsert robot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRobot(ctx context.Context, id string) (*Robot, error) {
	var r Robot
	err := s.db.QueryRowContext(ctx, `SELECT uuid, name, mac FROM robots WHERE uuid = $1`, id).
		Scan(&r.UUID, &r.Name, &r.MAC)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get robot: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) FindRobot(ctx context.Context, name, mac string) (*Robot, error) {
	var r Robot
	err := s.db.QueryRowContext(ctx, `SELECT uuid, name, mac FROM robots WHERE name = $1 AND mac = $2 LIMIT 1`, name, mac).
		Scan(&r.UUID, &r.Name, &r.MAC)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find robot: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRobots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid FROM robots ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("list robots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan robot uuid: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) UpsertNetworkInfo(ctx context.Context, info *NetworkInfo) error {
	raw, err := info.MarshalInterfaces()
	if err != nil {
		return fmt.Errorf("marshal network info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO network_info (robot_uuid, info, last_updated) VALUES ($1, $2, $3)
		ON CONFLICT (robot_uuid) DO UPDATE SET info = excluded.info, last_updated = excluded.last_updated
	`, info.RobotUUID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert network info: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNetworkInfo(ctx context.Context, robotUUID string) (*NetworkInfo, error) {
	var info NetworkInfo
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT robot_uuid, info, last_updated FROM network_info WHERE robot_uuid = $1`, robotUUID).
		Scan(&info.RobotUUID, &raw, &info.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get network info: %w", err)
	}
	if err := info.UnmarshalInterfaces([]byte(raw)); err != nil {
		return nil, fmt.Errorf("unmarshal network info: %w", err)
	}
	return &info, nil
}

func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, agent_id, detail, created_at) VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.Action, event.AgentID, event.Detail, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, agent_id, detail, created_at FROM audit_events
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Action, &e.AgentID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
