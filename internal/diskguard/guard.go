package diskguard

import (
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const megabyte = 1 << 20

// Guard enforces count and size budgets on checkpoints and logs. It is not a
// concurrency primitive: its rate limiting only prevents one caller from
// running guard cycles back to back.
type Guard struct {
	cfg Config

	lastPrune time.Time
	// lastRotate is keyed by log name so one busy log cannot starve the
	// rotation of another sharing the same guard.
	lastRotate map[string]time.Time
}

// New creates a guard over the directories named in cfg.
func New(cfg Config) *Guard {
	if cfg.KeepCheckpoints < 1 {
		cfg.KeepCheckpoints = 1
	}
	if cfg.KeepLogArchives < 1 {
		cfg.KeepLogArchives = 1
	}
	return &Guard{cfg: cfg, lastRotate: make(map[string]time.Time)}
}

// #region prune

// PruneCheckpoints deletes checkpoint directories beyond the retention count,
// then keeps deleting oldest-first while the total size exceeds the byte
// budget. The latest/ and best/ pointer directories are never touched.
// Rate-limited: a call inside MinInterval of the previous one is a no-op.
func (g *Guard) PruneCheckpoints() error {
	now := time.Now()
	if now.Sub(g.lastPrune) < g.cfg.MinInterval {
		return nil
	}
	g.lastPrune = now

	candidates, err := g.listCheckpoints()
	if err != nil {
		return err
	}

	// Oldest beyond the retention count.
	for len(candidates) > g.cfg.KeepCheckpoints {
		if err := removeTree(candidates[0].path); err != nil {
			return err
		}
		candidates = candidates[1:]
	}

	// Oldest while over the byte budget.
	budget := g.cfg.CheckpointBudgetMB * megabyte
	total := int64(0)
	for _, c := range candidates {
		total += c.size
	}
	for len(candidates) > 1 && total > budget {
		if err := removeTree(candidates[0].path); err != nil {
			return err
		}
		total -= candidates[0].size
		candidates = candidates[1:]
	}
	return nil
}

type checkpointEntry struct {
	path    string
	modTime time.Time
	size    int64
}

// listCheckpoints returns prunable checkpoint directories sorted by
// modification time ascending. Pointer directories and stray files are
// excluded.
func (g *Guard) listCheckpoints() ([]checkpointEntry, error) {
	entries, err := os.ReadDir(g.cfg.CheckpointDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var out []checkpointEntry
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "latest" || e.Name() == "best" {
			continue
		}
		// Orphaned .tmp directories from interrupted saves are fair game.
		path := filepath.Join(g.cfg.CheckpointDir, e.Name())
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat checkpoint %s: %w", e.Name(), err)
		}
		size, err := treeSize(path)
		if err != nil {
			return nil, err
		}
		out = append(out, checkpointEntry{path: path, modTime: info.ModTime(), size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })
	return out, nil
}

// #endregion prune

// #region rotate

// RotateLogs compresses the named live log into a numbered gzip archive once
// it exceeds the size threshold, truncates the live file, and trims old
// archives beyond the retention count and size budget. Rate-limited like
// PruneCheckpoints, per log name.
func (g *Guard) RotateLogs(name string) error {
	now := time.Now()
	if now.Sub(g.lastRotate[name]) < g.cfg.MinInterval {
		return nil
	}
	g.lastRotate[name] = now

	live := filepath.Join(g.cfg.LogDir, name)
	info, err := os.Stat(live)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log: %w", err)
	}
	if info.Size() < g.cfg.LogMaxMB*megabyte {
		return nil
	}

	// Shift name.i.gz up by one, dropping any past the retention count.
	for i := g.cfg.KeepLogArchives; i >= 1; i-- {
		src := archivePath(live, i)
		if i == g.cfg.KeepLogArchives {
			if err := removeFile(src); err != nil {
				return err
			}
			continue
		}
		if err := renameIfExists(src, archivePath(live, i+1)); err != nil {
			return err
		}
	}
	if err := compressTo(live, archivePath(live, 1)); err != nil {
		return err
	}
	// The writer keeps the file open in append mode, so truncation is safe.
	if err := os.Truncate(live, 0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	return g.trimArchives(live)
}

func archivePath(live string, n int) string {
	return fmt.Sprintf("%s.%d.gz", live, n)
}

// trimArchives deletes highest-numbered archives while the total archive size
// exceeds the budget. At least one archive always survives.
func (g *Guard) trimArchives(live string) error {
	budget := g.cfg.LogBudgetMB * megabyte
	for n := g.cfg.KeepLogArchives; n > 1; n-- {
		total, err := archivesSize(live, g.cfg.KeepLogArchives)
		if err != nil {
			return err
		}
		if total <= budget {
			return nil
		}
		if err := removeFile(archivePath(live, n)); err != nil {
			return err
		}
	}
	return nil
}

func archivesSize(live string, max int) (int64, error) {
	total := int64(0)
	for n := 1; n <= max; n++ {
		info, err := os.Stat(archivePath(live, n))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, fmt.Errorf("stat archive: %w", err)
		}
		total += info.Size()
	}
	return total, nil
}

func compressTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open log for rotation: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return fmt.Errorf("compress log: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// #endregion rotate

// #region fs-helpers

// Deletes are idempotent: a target that is already gone counts as success.

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func removeTree(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func renameIfExists(src, dst string) error {
	if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	return nil
}

func treeSize(root string) (int64, error) {
	total := int64(0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", root, err)
	}
	return total, nil
}

// #endregion fs-helpers
