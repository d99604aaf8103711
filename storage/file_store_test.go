package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sherlock/detect"
)

func newTestRecord(taskID string, ts time.Time, verdict string) Record {
	return Record{
		TaskID:    taskID,
		Timestamp: ts,
		Filename:  taskID + ".mp4",
		ModelID:   "xception",
		Report: detect.Report{
			Verdict:         verdict,
			Confidence:      91.2,
			FakeProbability: 73.4,
			Statistics:      detect.Statistics{TotalFrames: 42},
			ModelID:         "xception",
			Threshold:       0.5,
			FrameCount:      42,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	rec := newTestRecord("round-trip", time.Now(), detect.VerdictFake)
	path, err := store.Save(rec)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if filepath.Ext(path) != ".json" {
		t.Fatalf("unexpected record path: %s", path)
	}

	loaded, found, err := store.Load("round-trip")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !found {
		t.Fatal("saved record not found")
	}
	if loaded.TaskID != rec.TaskID || loaded.Filename != rec.Filename {
		t.Fatalf("record metadata lost: %+v", loaded)
	}
	if loaded.Report.Verdict != detect.VerdictFake || loaded.Report.Statistics.TotalFrames != 42 {
		t.Fatalf("report payload lost: %+v", loaded.Report)
	}

	if _, found, err := store.Load("missing"); err != nil || found {
		t.Fatalf("expected a clean miss, got found=%v err=%v", found, err)
	}
}

func TestFileStoreLoadIgnoresSuffixCollisions(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	// "id" is a suffix of "other-id"; a plain substring match would
	// return the wrong record.
	if _, err := store.Save(newTestRecord("other-id", time.Now(), detect.VerdictFake)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if _, found, err := store.Load("id"); err != nil || found {
		t.Fatalf("suffix collision: found=%v err=%v", found, err)
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"first", "second", "third"} {
		if _, err := store.Save(newTestRecord(id, base.Add(time.Duration(i)*time.Minute), detect.VerdictReal)); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		time.Sleep(5 * time.Millisecond) // distinct mtimes for ordering
	}

	summaries, err := store.List(2, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].TaskID != "third" || summaries[1].TaskID != "second" {
		t.Fatalf("expected newest-first ordering, got %s, %s", summaries[0].TaskID, summaries[1].TaskID)
	}
	if summaries[0].Verdict != detect.VerdictReal || summaries[0].TotalFrames != 42 {
		t.Fatalf("summary lost report fields: %+v", summaries[0])
	}

	summaries, err = store.List(10, 2)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].TaskID != "first" {
		t.Fatalf("offset pagination broken: %+v", summaries)
	}
}

func TestFileStoreListSkipsUnreadableRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	if _, err := store.Save(newTestRecord("good", time.Now(), detect.VerdictReal)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	garbage := filepath.Join(dir, "20990101_000000_corrupt.json")
	if err := os.WriteFile(garbage, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to plant corrupt record: %v", err)
	}

	summaries, err := store.List(10, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].TaskID != "good" {
		t.Fatalf("corrupt record was not skipped: %+v", summaries)
	}
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	if _, err := store.Save(newTestRecord("doomed", time.Now(), detect.VerdictFake)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	deleted, err := store.Delete("doomed")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if !deleted {
		t.Fatal("existing record was not deleted")
	}
	if _, found, _ := store.Load("doomed"); found {
		t.Fatal("deleted record still loads")
	}

	deleted, err = store.Delete("doomed")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if deleted {
		t.Fatal("second delete reported success")
	}
}

func TestFileStoreStats(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Count != 0 || stats.TotalSizeBytes != 0 {
		t.Fatalf("empty store has non-zero stats: %+v", stats)
	}

	for _, id := range []string{"one", "two"} {
		if _, err := store.Save(newTestRecord(id, time.Now(), detect.VerdictReal)); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}

	stats, err = store.Stats()
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Count != 2 {
		t.Fatalf("expected 2 reports, got %d", stats.Count)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Fatalf("expected positive total size, got %d", stats.TotalSizeBytes)
	}
}
