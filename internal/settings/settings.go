// Package settings provides the key-value configuration store the admin
// dashboard edits at runtime. Values are read at request time so changes
// apply without a restart; unset keys fall back to the config file.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/license"
)

// Well-known keys.
const (
	KeyDefaultValidityDays   = "default_validity_days"
	KeyDefaultMaxActivations = "default_max_activations"
	KeyExpiryNoticeDays      = "expiry_notice_days"
)

// Store is a thin persistence layer over the settings table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Get returns the value for key, or ("", false) when unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// GetInt returns the integer value for key, or fallback when unset or
// unparseable.
func (s *Store) GetInt(ctx context.Context, key string, fallback int) int {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to read setting, using fallback")
		return fallback
	}
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Setting is not an integer, using fallback")
		return fallback
	}
	return n
}

// Defaults implements license.DefaultsProvider over the store with
// config-file fallbacks.
type Defaults struct {
	Store                 *Store
	FallbackValidityDays  int
	FallbackMaxActivation int
}

func (d Defaults) LicenseDefaults(ctx context.Context) license.Defaults {
	return license.Defaults{
		ValidityDays:   d.Store.GetInt(ctx, KeyDefaultValidityDays, d.FallbackValidityDays),
		MaxActivations: d.Store.GetInt(ctx, KeyDefaultMaxActivations, d.FallbackMaxActivation),
	}
}
