// Package store provides the progress store for the mission control plane.
// Every agent record is kept as a JSON document under the key "agent:<token>".
// Writes are read-modify-write with last-write-wins; there is no optimistic
// concurrency control.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arachnid-agents/mission-control/pkg/models"
)

// KeyPrefix namespaces agent progress records in the key space.
const KeyPrefix = "agent:"

// Key returns the storage key for token.
func Key(token string) string { return KeyPrefix + token }

// TokenFromKey strips KeyPrefix from a storage key.
func TokenFromKey(key string) string { return strings.TrimPrefix(key, KeyPrefix) }

// Store is the persistence interface used by the progress service.
// Implementations: MemoryStore (local dev, tests), SQLiteStore (single
// node) and PostgresStore (shared deployments).
type Store interface {
	// Get returns the record for token, or (nil, nil) when none exists.
	Get(ctx context.Context, token string) (*models.AgentProgressRecord, error)

	// Put stores rec under token, replacing any previous value.
	Put(ctx context.Context, token string, rec *models.AgentProgressRecord) error

	// ListByPrefix returns every record whose key starts with prefix,
	// ordered by key.
	ListByPrefix(ctx context.Context, prefix string) ([]models.AgentProgressRecord, error)

	// Delete removes the record for token.
	Delete(ctx context.Context, token string) error

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a record to delete does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Codec ───────────────────────────────────────────────────

func encodeRecord(rec *models.AgentProgressRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("encode record: nil record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Token, err)
	}
	return data, nil
}

func decodeRecord(key string, data []byte) (*models.AgentProgressRecord, error) {
	var rec models.AgentProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	if rec.Token == "" {
		rec.Token = TokenFromKey(key)
	}
	rec.EnsureMissions()
	return &rec, nil
}
