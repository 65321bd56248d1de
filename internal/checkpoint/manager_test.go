package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nomarcus/Snake-ML/go-trainer/internal/config"
)

func testRequest(episode int, reason Reason, best bool) SaveRequest {
	return SaveRequest{
		Agent:   json.RawMessage(`{"weights":[0.1,0.2]}`),
		Rewards: config.DefaultRewardConfig(),
		Meta:    Meta{RunID: "run-1", Episode: episode, Step: int64(episode) * 100, BoardSize: 8},
		IsBest:  best,
		Reason:  reason,
	}
}

func TestSaveAndLoadLatest(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	name, err := m.Save(testRequest(42, ReasonPeriodic, false))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name == "" {
		t.Fatalf("save returned empty checkpoint name")
	}

	doc, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if doc.Meta.Episode != 42 || doc.Reason != ReasonPeriodic {
		t.Fatalf("loaded doc = %+v", doc)
	}
	if doc.Version != documentVersion {
		t.Fatalf("version = %d, want %d", doc.Version, documentVersion)
	}
	if string(doc.Agent) != `{"weights":[0.1,0.2]}` {
		t.Fatalf("agent blob altered: %s", doc.Agent)
	}
	if doc.RewardConfig.FruitReward != 10 {
		t.Fatalf("reward config not preserved: %+v", doc.RewardConfig)
	}
}

func TestLoadMissingPointer(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.LoadLatest(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load latest on empty root = %v, want ErrNotFound", err)
	}
	if _, err := m.LoadBest(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load best on empty root = %v, want ErrNotFound", err)
	}
}

func TestBestPointerOnlyMovesOnBestSaves(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Save(testRequest(10, ReasonBestEval, true)); err != nil {
		t.Fatalf("best save: %v", err)
	}
	if _, err := m.Save(testRequest(20, ReasonPeriodic, false)); err != nil {
		t.Fatalf("periodic save: %v", err)
	}

	latest, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	best, err := m.LoadBest()
	if err != nil {
		t.Fatalf("load best: %v", err)
	}
	if latest.Meta.Episode != 20 {
		t.Fatalf("latest episode = %d, want 20", latest.Meta.Episode)
	}
	if best.Meta.Episode != 10 {
		t.Fatalf("best episode = %d, want 10", best.Meta.Episode)
	}
}

func TestRepointReplacesPreviousLatest(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for ep := 1; ep <= 3; ep++ {
		if _, err := m.Save(testRequest(ep, ReasonPeriodic, false)); err != nil {
			t.Fatalf("save %d: %v", ep, err)
		}
	}
	doc, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if doc.Meta.Episode != 3 {
		t.Fatalf("latest episode = %d, want 3", doc.Meta.Episode)
	}
	// No staging or retired pointer directories may be left behind.
	for _, leftover := range []string{"latest.next", "latest.old"} {
		if _, err := os.Stat(filepath.Join(m.dir, leftover)); !os.IsNotExist(err) {
			t.Fatalf("leftover pointer directory %s", leftover)
		}
	}
}

// A crash between temp-write and rename must leave the previous latest
// pointer fully intact and readable.
func TestCrashBeforePublishLeavesLatestIntact(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Save(testRequest(7, ReasonPeriodic, false)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Simulated crash: an orphaned temp directory with a half-written
	// document, never renamed into place.
	orphan := filepath.Join(root, "ckpt-crashed.tmp")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatalf("mkdir orphan: %v", err)
	}
	if err := os.WriteFile(filepath.Join(orphan, documentFile), []byte(`{"createdAt":`), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	doc, err := m.LoadLatest()
	if err != nil {
		t.Fatalf("latest unreadable after simulated crash: %v", err)
	}
	if doc.Meta.Episode != 7 {
		t.Fatalf("latest episode = %d, want 7", doc.Meta.Episode)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Save(testRequest(1, ReasonFinal, false)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Rewrite the pointer document with a future version tag.
	path := filepath.Join(root, "latest", documentFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	raw["version"] = json.RawMessage("99")
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite latest: %v", err)
	}

	if _, err := m.LoadLatest(); err == nil {
		t.Fatalf("expected error loading version-99 document")
	}
}
