package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshotVersion is bumped when the on-disk snapshot layout changes.
const snapshotVersion = 1

// saveDebounce coalesces bursts of writes into one disk flush.
const saveDebounce = 500 * time.Millisecond

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Version int                        `json:"version"`
	Records map[string]json.RawMessage `json:"records"` // key: agent:<token>
}

// MemoryStore implements Store with an in-memory map. When a snapshot path
// is set the map is persisted to a JSON file so data survives restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save loop to stop
	wg           sync.WaitGroup
}

// NewMemoryStore creates an in-memory store. If snapshotPath is non-empty,
// existing data is loaded from it and later writes are flushed back.
func NewMemoryStore(snapshotPath string) *MemoryStore {
	m := &MemoryStore{
		values: make(map[string][]byte),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(snapshotPath), 0755); err != nil {
			log.Warn().Err(err).Str("path", snapshotPath).Msg("Cannot create data dir, persistence disabled")
		} else {
			m.snapshotPath = snapshotPath
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		m.wg.Add(1)
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

func (m *MemoryStore) saveLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			timer := time.NewTimer(saveDebounce)
			select {
			case <-m.doneCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all records to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Records: make(map[string]json.RawMessage, len(m.values))}
	for k, v := range m.values {
		snap.Records[k] = v
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Int("records", len(snap.Records)).Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads persisted data from disk into memory.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range snap.Records {
		m.values[k] = []byte(v)
	}
	log.Info().Int("records", len(m.values)).Str("path", m.snapshotPath).Msg("Loaded snapshot from disk")
}

func (m *MemoryStore) Get(_ context.Context, token string) (*models.AgentProgressRecord, error) {
	key := Key(token)
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeRecord(key, data)
}

func (m *MemoryStore) Put(_ context.Context, token string, rec *models.AgentProgressRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[Key(token)] = data
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListByPrefix(_ context.Context, prefix string) ([]models.AgentProgressRecord, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = m.values[k]
	}
	m.mu.RUnlock()

	out := make([]models.AgentProgressRecord, 0, len(keys))
	for i, k := range keys {
		rec, err := decodeRecord(k, raw[i])
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Skipping undecodable record")
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	key := Key(token)
	m.mu.Lock()
	_, ok := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: token}
	}
	m.requestSave()
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}
	m.wg.Wait()

	// Force a final snapshot write so no in-flight data is lost
	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}
