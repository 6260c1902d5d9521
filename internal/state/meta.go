package state

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ramnasidharta/fizim/internal/db"
)

// Keys written after a successful load.
const (
	BalancesLoadedAt  = "balances_loaded_at"
	RegistersLoadedAt = "registers_loaded_at"
)

type MetaStore struct {
	db db.DB
}

func NewMetaStore(conn db.DB) *MetaStore { return &MetaStore{db: conn} }

func (m *MetaStore) Ensure(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS fizim_meta (
  key text PRIMARY KEY,
  value text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);`)
	return err
}

func (m *MetaStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := m.db.QueryRow(ctx, `SELECT value FROM fizim_meta WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (m *MetaStore) Set(ctx context.Context, key, value string) error {
	_, err := m.db.Exec(ctx, `
INSERT INTO fizim_meta(key,value) VALUES ($1,$2)
ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=now()
`, key, value)
	return err
}
