package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/google/go-cmp/cmp"
)

// newTestStore creates a fresh in-memory store with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(token string) *models.AgentProgressRecord {
	now := time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)
	rec := models.NewAgentProgressRecord(token, now)
	rec.First = "Ada"
	rec.Codename = "@" + token
	rec.VisitCount = 2
	rec.UpdateAction = "Mission 1 sent"
	rec.Missions[models.MissionOne] = models.MissionProgress{
		Status:          models.MissionLocked,
		LastSubmittedAt: &now,
		Data:            &models.MissionData{Feel: "grippy", FeelRating: 4},
	}
	return rec
}

// runStoreContract exercises the behavior every driver must share.
func runStoreContract(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		got, err := s.Get(ctx, "nobody")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != nil {
			t.Errorf("Get() = %+v, want nil", got)
		}
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		want := sampleRecord("ada")
		if err := s.Put(ctx, "ada", want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(ctx, "ada")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Get() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		rec := sampleRecord("grace")
		s.Put(ctx, "grace", rec)
		rec.VisitCount = 9
		s.Put(ctx, "grace", rec)
		got, _ := s.Get(ctx, "grace")
		if got.VisitCount != 9 {
			t.Errorf("VisitCount = %d, want 9", got.VisitCount)
		}
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		s.Put(ctx, "zed", sampleRecord("zed"))
		got, err := s.ListByPrefix(ctx, store.KeyPrefix)
		if err != nil {
			t.Fatalf("ListByPrefix() error = %v", err)
		}
		var tokens []string
		for _, r := range got {
			tokens = append(tokens, r.Token)
		}
		if diff := cmp.Diff([]string{"ada", "grace", "zed"}, tokens); diff != "" {
			t.Errorf("ListByPrefix() tokens mismatch (-want +got):\n%s", diff)
		}

		none, err := s.ListByPrefix(ctx, "other:")
		if err != nil {
			t.Fatalf("ListByPrefix(other) error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("ListByPrefix(other) returned %d records, want 0", len(none))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, "zed"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		got, _ := s.Get(ctx, "zed")
		if got != nil {
			t.Errorf("Get() after Delete = %+v, want nil", got)
		}
		var nf *store.ErrNotFound
		if err := s.Delete(ctx, "zed"); !errors.As(err, &nf) {
			t.Errorf("Delete() twice error = %v, want *ErrNotFound", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, newTestStore(t))
}

func TestMemoryStore_BackfillsPartialMissionMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")
	legacy := `{"version":1,"records":{"agent:old":{"token":"old","missions":{"m1":{"status":"LOCKED"}}}}}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	s := store.NewMemoryStore(path)
	defer s.Close()

	got, err := s.Get(context.Background(), "old")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Missions[models.MissionThree].Status != models.MissionNotStarted {
		t.Errorf("m3 status = %q, want %q", got.Missions[models.MissionThree].Status, models.MissionNotStarted)
	}
	if !got.Missions[models.MissionOne].Locked() {
		t.Errorf("m1 should stay LOCKED")
	}
}

func TestMemoryStore_SnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "progress.json")
	ctx := context.Background()

	s1 := store.NewMemoryStore(path)
	if err := s1.Put(ctx, "ada", sampleRecord("ada")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// Close flushes the pending debounced write.
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	s2 := store.NewMemoryStore(path)
	defer s2.Close()
	got, err := s2.Get(ctx, "ada")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(sampleRecord("ada"), got); diff != "" {
		t.Errorf("restored record mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStore_CorruptSnapshotStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	s := store.NewMemoryStore(path)
	defer s.Close()
	got, err := s.ListByPrefix(context.Background(), store.KeyPrefix)
	if err != nil {
		t.Fatalf("ListByPrefix() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListByPrefix() = %d records, want 0", len(got))
	}
}
