package diskguard

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCheckpointDir(t *testing.T, root, name string, age time.Duration, size int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "checkpoint.json"), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(dir, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return dir
}

func TestPruneKeepsRetentionCountAndPointers(t *testing.T) {
	root := t.TempDir()
	for i, name := range []string{"ckpt-a", "ckpt-b", "ckpt-c", "ckpt-d", "ckpt-e"} {
		writeCheckpointDir(t, root, name, time.Duration(5-i)*time.Hour, 10)
	}
	writeCheckpointDir(t, root, "latest", 100*time.Hour, 10)
	writeCheckpointDir(t, root, "best", 100*time.Hour, 10)

	cfg := DefaultConfig()
	cfg.CheckpointDir = root
	cfg.KeepCheckpoints = 2
	cfg.MinInterval = 0
	if err := New(cfg).PruneCheckpoints(); err != nil {
		t.Fatalf("prune: %v", err)
	}

	for _, name := range []string{"latest", "best", "ckpt-d", "ckpt-e"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("%s should survive pruning: %v", name, err)
		}
	}
	for _, name := range []string{"ckpt-a", "ckpt-b", "ckpt-c"} {
		if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should have been pruned", name)
		}
	}
}

func TestPruneEnforcesSizeBudget(t *testing.T) {
	root := t.TempDir()
	// Three checkpoints of 1 MiB each against a 2 MiB budget.
	writeCheckpointDir(t, root, "ckpt-a", 3*time.Hour, megabyte)
	writeCheckpointDir(t, root, "ckpt-b", 2*time.Hour, megabyte)
	writeCheckpointDir(t, root, "ckpt-c", 1*time.Hour, megabyte)
	writeCheckpointDir(t, root, "best", 100*time.Hour, megabyte)

	cfg := DefaultConfig()
	cfg.CheckpointDir = root
	cfg.KeepCheckpoints = 10
	cfg.CheckpointBudgetMB = 2
	cfg.MinInterval = 0
	if err := New(cfg).PruneCheckpoints(); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "ckpt-a")); !os.IsNotExist(err) {
		t.Fatalf("oldest checkpoint should go first when over budget")
	}
	for _, name := range []string{"ckpt-b", "ckpt-c", "best"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("%s should survive: %v", name, err)
		}
	}
}

func TestPruneNeverDeletesPointers(t *testing.T) {
	root := t.TempDir()
	writeCheckpointDir(t, root, "latest", 50*time.Hour, megabyte)
	writeCheckpointDir(t, root, "best", 60*time.Hour, megabyte)

	// Zero retention headroom and a zero byte budget: the pointers must
	// still survive.
	cfg := DefaultConfig()
	cfg.CheckpointDir = root
	cfg.KeepCheckpoints = 1
	cfg.CheckpointBudgetMB = 0
	cfg.MinInterval = 0
	if err := New(cfg).PruneCheckpoints(); err != nil {
		t.Fatalf("prune: %v", err)
	}
	for _, name := range []string{"latest", "best"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("pointer %s was deleted: %v", name, err)
		}
	}
}

func TestPruneIsRateLimited(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.CheckpointDir = root
	cfg.KeepCheckpoints = 1
	cfg.MinInterval = time.Hour
	g := New(cfg)
	if err := g.PruneCheckpoints(); err != nil {
		t.Fatalf("first prune: %v", err)
	}

	writeCheckpointDir(t, root, "ckpt-a", 2*time.Hour, 10)
	writeCheckpointDir(t, root, "ckpt-b", 1*time.Hour, 10)
	if err := g.PruneCheckpoints(); err != nil {
		t.Fatalf("second prune: %v", err)
	}
	// Inside the interval, so nothing may have been deleted.
	for _, name := range []string{"ckpt-a", "ckpt-b"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("rate-limited prune deleted %s", name)
		}
	}
}

func TestPruneMissingDirectoryIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointDir = filepath.Join(t.TempDir(), "does-not-exist")
	cfg.MinInterval = 0
	if err := New(cfg).PruneCheckpoints(); err != nil {
		t.Fatalf("prune on missing dir: %v", err)
	}
}

func rotationGuard(t *testing.T, dir string) *Guard {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogDir = dir
	cfg.LogMaxMB = 0 // every non-empty file is over threshold
	cfg.KeepLogArchives = 3
	cfg.MinInterval = 0
	return New(cfg)
}

func readArchive(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	return data
}

func TestRotateCompressesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "train.log")
	payload := []byte(`{"type":"metrics","episode":1}` + "\n")
	if err := os.WriteFile(live, payload, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if err := rotationGuard(t, dir).RotateLogs("train.log"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	info, err := os.Stat(live)
	if err != nil {
		t.Fatalf("live log gone after rotation: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("live log not truncated, size %d", info.Size())
	}
	if got := readArchive(t, live+".1.gz"); !bytes.Equal(got, payload) {
		t.Fatalf("archive content = %q, want %q", got, payload)
	}
}

func TestRotateShiftsNumberedArchives(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "train.log")
	g := rotationGuard(t, dir)

	for _, content := range []string{"first\n", "second\n", "third\n"} {
		if err := os.WriteFile(live, []byte(content), 0o644); err != nil {
			t.Fatalf("write log: %v", err)
		}
		if err := g.RotateLogs("train.log"); err != nil {
			t.Fatalf("rotate: %v", err)
		}
	}

	want := map[string]string{
		live + ".1.gz": "third\n",
		live + ".2.gz": "second\n",
		live + ".3.gz": "first\n",
	}
	for path, content := range want {
		if got := readArchive(t, path); string(got) != content {
			t.Fatalf("%s = %q, want %q", filepath.Base(path), got, content)
		}
	}
}

func TestRotateDropsArchivesBeyondRetention(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "train.log")
	g := rotationGuard(t, dir)
	g.cfg.KeepLogArchives = 2

	for _, content := range []string{"first\n", "second\n", "third\n"} {
		if err := os.WriteFile(live, []byte(content), 0o644); err != nil {
			t.Fatalf("write log: %v", err)
		}
		if err := g.RotateLogs("train.log"); err != nil {
			t.Fatalf("rotate: %v", err)
		}
	}

	if _, err := os.Stat(live + ".3.gz"); !os.IsNotExist(err) {
		t.Fatalf("archive beyond retention count survived")
	}
	if got := readArchive(t, live+".2.gz"); string(got) != "second\n" {
		t.Fatalf("oldest retained archive = %q, want %q", got, "second\n")
	}
}

func TestRotateMissingLogIsNoop(t *testing.T) {
	if err := rotationGuard(t, t.TempDir()).RotateLogs("train.log"); err != nil {
		t.Fatalf("rotate on missing log: %v", err)
	}
}

func TestRotateBelowThresholdIsNoop(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "train.log")
	if err := os.WriteFile(live, []byte("small\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	g := rotationGuard(t, dir)
	g.cfg.LogMaxMB = 64
	if err := g.RotateLogs("train.log"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := os.Stat(live + ".1.gz"); !os.IsNotExist(err) {
		t.Fatalf("archive created below size threshold")
	}
}

func TestRotateRateLimitIsPerLog(t *testing.T) {
	dir := t.TempDir()
	g := rotationGuard(t, dir)
	g.cfg.MinInterval = time.Hour

	for _, name := range []string{"train.log", "eval.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name+"\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := g.RotateLogs("train.log"); err != nil {
		t.Fatalf("rotate train.log: %v", err)
	}
	// A different log inside the interval still rotates.
	if err := g.RotateLogs("eval.log"); err != nil {
		t.Fatalf("rotate eval.log: %v", err)
	}
	if got := readArchive(t, filepath.Join(dir, "eval.log.1.gz")); string(got) != "eval.log\n" {
		t.Fatalf("eval archive = %q, want %q", got, "eval.log\n")
	}

	// The same log inside the interval does not.
	if err := os.WriteFile(filepath.Join(dir, "train.log"), []byte("again\n"), 0o644); err != nil {
		t.Fatalf("rewrite train.log: %v", err)
	}
	if err := g.RotateLogs("train.log"); err != nil {
		t.Fatalf("second train rotate: %v", err)
	}
	if got := readArchive(t, filepath.Join(dir, "train.log.1.gz")); string(got) != "train.log\n" {
		t.Fatalf("rate-limited rotation replaced archive: %q", got)
	}
}
