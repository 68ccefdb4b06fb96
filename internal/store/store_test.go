package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != SchemaVersion {
		t.Errorf("version = %d, want %d", result.Version, SchemaVersion)
	}
}

func TestOpenMigrated(t *testing.T) {
	db, res, err := OpenMigrated(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if !res.Changed || res.Version != SchemaVersion {
		t.Errorf("result = %+v", res)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"read state", "INSERT INTO read_state (conversation_id, last_read_at) VALUES (?, ?)", []any{"c1", 1000}},
		{"sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
		{"mute", "INSERT INTO mutes (conversation_id, muted_until) VALUES (?, ?)", []any{"c1", 0}},
		{"gap", "INSERT INTO disconnect_gaps (started_at, ended_at) VALUES (?, ?)", []any{1, 2}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestMarkReadKeepsLatest(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.LastRead(ctx, "c1"); err != nil || ok {
		t.Fatalf("LastRead on fresh db = ok %v, err %v", ok, err)
	}

	later := time.UnixMilli(2_000_000)
	earlier := time.UnixMilli(1_000_000)
	if err := db.MarkRead(ctx, "c1", later); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkRead(ctx, "c1", earlier); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.LastRead(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("LastRead: ok %v err %v", ok, err)
	}
	if !got.Equal(later) {
		t.Errorf("last read = %v, want %v", got, later)
	}
}

func TestMutes(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.UnixMilli(10_000_000)

	if err := db.Mute(ctx, "forever", time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := db.Mute(ctx, "expired", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.Mute(ctx, "hour", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want bool
	}{
		{"forever", true},
		{"expired", false},
		{"hour", true},
		{"never", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := db.IsMuted(ctx, tt.id, now)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("IsMuted(%s) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}

	mutes, err := db.ListMutes(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(mutes) != 2 || mutes[0].ConversationID != "forever" || mutes[1].ConversationID != "hour" {
		t.Errorf("ListMutes = %+v", mutes)
	}

	if err := db.Unmute(ctx, "forever"); err != nil {
		t.Fatal(err)
	}
	if muted, _ := db.IsMuted(ctx, "forever", now); muted {
		t.Error("unmuted conversation still muted")
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Checkpoint(ctx, "missing"); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	if err := db.SetCheckpoint(ctx, "last_event", "e1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "last_event", "e2"); err != nil {
		t.Fatal(err)
	}
	got, err := db.Checkpoint(ctx, "last_event")
	if err != nil {
		t.Fatal(err)
	}
	if got != "e2" {
		t.Errorf("checkpoint = %q, want e2", got)
	}
}

func TestGaps(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := db.RecordGap(ctx, time.UnixMilli(i*1000), time.UnixMilli(i*1000+500)); err != nil {
			t.Fatal(err)
		}
	}
	gaps, err := db.Gaps(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(gaps) != 2 {
		t.Fatalf("got %d gaps, want 2", len(gaps))
	}
	if gaps[0].StartedAt.UnixMilli() != 3000 || gaps[0].EndedAt.UnixMilli() != 3500 {
		t.Errorf("newest gap = %+v", gaps[0])
	}
}
