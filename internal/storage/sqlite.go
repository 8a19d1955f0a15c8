package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"farmcrew/internal/workorder"
	"farmcrew/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendOrder(ctx context.Context, r OrderRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	plots, err := json.Marshal(r.Plots)
	if err != nil {
		return err
	}
	workers, err := json.Marshal(r.Workers)
	if err != nil {
		return err
	}
	escalated := 0
	if r.Escalated {
		escalated = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO orders(id, kind, status, priority, initial_priority, escalated, plots, workers, source, created_at, closed_at, elapsed_ms, efficiency, reason)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, string(r.Kind), string(r.Status), int(r.Priority), int(r.InitialPriority), escalated,
		string(plots), nullStr(string(workers)), string(r.Source),
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.ClosedAt.UTC().Format(time.RFC3339Nano),
		r.ElapsedMS, r.Efficiency, nullStr(r.Reason),
	)
	return err
}

func (s *sqliteStore) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, status, priority, initial_priority, escalated, plots, workers, source, created_at, closed_at, elapsed_ms, efficiency, reason
		 FROM orders ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			r                   OrderRecord
			kind, status, src   string
			prio, initPrio, esc int
			plots               string
			workers, reason     sql.NullString
			created, closed     string
		)
		if err := rows.Scan(&r.ID, &kind, &status, &prio, &initPrio, &esc, &plots, &workers, &src, &created, &closed, &r.ElapsedMS, &r.Efficiency, &reason); err != nil {
			return nil, err
		}
		r.Kind, r.Status, r.Source = workorder.TaskKind(kind), workorder.Status(status), workorder.Source(src)
		r.Priority, r.InitialPriority = workorder.Priority(prio), workorder.Priority(initPrio)
		r.Escalated = esc != 0
		r.Reason = reason.String
		if err := json.Unmarshal([]byte(plots), &r.Plots); err != nil {
			return nil, fmt.Errorf("order %s plots: %w", r.ID, err)
		}
		if workers.Valid {
			_ = json.Unmarshal([]byte(workers.String), &r.Workers)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		r.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if s := strings.TrimSpace(v); s == "" || s == "null" {
		return nil
	}
	return v
}
