package slots

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Jonesus/taulu/internal/immich"
)

// seqLibrary 每次调用返回一个新的唯一资产
type seqLibrary struct {
	mu        sync.Mutex
	finds     int
	downloads int
	block     chan struct{} // 非 nil 时抓取会阻塞在这里
	failFind  bool
}

func (l *seqLibrary) FindRandomGroupPhoto(ctx context.Context, personIDs []string, exclude map[string]bool) (*immich.Asset, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failFind {
		return nil, immich.ErrNoCandidate
	}
	l.finds++
	return &immich.Asset{ID: fmt.Sprintf("asset-%d", l.finds)}, nil
}

func (l *seqLibrary) DownloadOriginal(ctx context.Context, assetID string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downloads++
	return []byte("raw-" + assetID), nil
}

func (l *seqLibrary) findCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finds
}

// poolLibrary 固定候选池，尊重排除集合
type poolLibrary struct {
	mu   sync.Mutex
	pool []string
}

func (l *poolLibrary) FindRandomGroupPhoto(ctx context.Context, personIDs []string, exclude map[string]bool) (*immich.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.pool {
		if !exclude[id] {
			return &immich.Asset{ID: id}, nil
		}
	}
	return nil, immich.ErrNoCandidate
}

func (l *poolLibrary) DownloadOriginal(ctx context.Context, assetID string) ([]byte, error) {
	return []byte("raw-" + assetID), nil
}

func newTestManager(t *testing.T, library Library) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), library, []string{"p1"}, 0, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	m.convertFn = func(data []byte) ([]byte, error) {
		return append([]byte("packed-"), data...), nil
	}
	m.now = func() time.Time {
		return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	}
	return m
}

func TestEnsureImagesFillsAllSlots(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.Close()

	// 三个轮播槽位加一个次日槽位，共 4 个抓取任务
	if got := lib.findCount(); got != 4 {
		t.Fatalf("expected 4 fetch tasks, got %d", got)
	}
	for i := 0; i < slotCount; i++ {
		if m.slots[i] == nil {
			t.Fatalf("slot %d still empty", i)
		}
	}
	if m.nextDaily == nil {
		t.Fatalf("nextDaily still empty")
	}

	id, data, err := m.CurrentPacked()
	if err != nil {
		t.Fatalf("current packed failed: %v", err)
	}
	if id != m.slots[0].ID {
		t.Fatalf("expected slot 0 asset %s, got %s", m.slots[0].ID, id)
	}
	if len(data) == 0 {
		t.Fatalf("empty bitmap returned")
	}
}

func TestEnsureImagesDeduplicatesInFlight(t *testing.T) {
	lib := &seqLibrary{block: make(chan struct{})}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.EnsureImages() // 任务尚未完成，不应重复起任务

	close(lib.block)
	m.Close()

	if got := lib.findCount(); got != 4 {
		t.Fatalf("expected 4 fetch tasks after duplicate trigger, got %d", got)
	}
}

func TestDailyRolloverSwapsPrefetchedImage(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.Close()

	prefetched := m.nextDaily.ID
	m.HandleAction("next") // 移开 0 号槽位，验证回滚会复位

	// 第二天
	m.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}
	m.EnsureImages()
	m.Close()

	if m.currentIndex != 0 {
		t.Fatalf("expected currentIndex 0 after rollover, got %d", m.currentIndex)
	}
	if m.slots[0] == nil || m.slots[0].ID != prefetched {
		t.Fatalf("expected prefetched %s in slot 0, got %+v", prefetched, m.slots[0])
	}
	if m.nextDaily == nil || m.nextDaily.ID == prefetched {
		t.Fatalf("expected a fresh nextDaily after rollover")
	}
	if m.lastDate != "2026-08-30" {
		t.Fatalf("lastDate not updated: %s", m.lastDate)
	}
}

func TestDailyRolloverWithoutPrefetch(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.Close()

	// 人为清掉次日槽位再触发回滚
	m.mu.Lock()
	m.nextDaily = nil
	m.mu.Unlock()

	m.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}
	m.EnsureImages()
	m.Close()

	// 0 号槽位先变空，随后由自己的抓取任务补上
	if m.slots[0] == nil {
		t.Fatalf("slot 0 not refilled after rollover without prefetch")
	}
	if m.currentIndex != 0 {
		t.Fatalf("expected currentIndex 0, got %d", m.currentIndex)
	}
}

func TestHandleActionNextSchedulesRefresh(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.Close()

	slot0 := m.slots[0].ID
	slot1 := m.slots[1].ID
	before := lib.findCount()

	m.HandleAction("next")
	m.Close()

	if m.currentIndex != 1 {
		t.Fatalf("expected currentIndex 1, got %d", m.currentIndex)
	}
	// 新索引 1 的槽位被刷新，0 号槽位不动
	if got := lib.findCount(); got != before+1 {
		t.Fatalf("expected exactly one refresh task, got %d", got-before)
	}
	if m.slots[1].ID == slot1 {
		t.Fatalf("slot 1 was not refreshed")
	}
	if m.slots[0].ID != slot0 {
		t.Fatalf("slot 0 must not be refreshed by next")
	}
}

func TestHandleActionPreviousDoesNotRefresh(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)

	m.EnsureImages()
	m.Close()
	before := lib.findCount()

	m.HandleAction("previous")
	m.Close()

	if m.currentIndex != slotCount-1 {
		t.Fatalf("expected wraparound to %d, got %d", slotCount-1, m.currentIndex)
	}
	if got := lib.findCount(); got != before {
		t.Fatalf("previous must not schedule fetches, got %d extra", got-before)
	}
}

func TestNextThenPreviousIsIdentity(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()

	for start := 0; start < slotCount; start++ {
		m.mu.Lock()
		m.currentIndex = start
		m.mu.Unlock()

		m.HandleAction("next")
		m.HandleAction("previous")

		if m.currentIndex != start {
			t.Fatalf("next+previous from %d ended at %d", start, m.currentIndex)
		}
	}
}

func TestUnknownActionIsNoop(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()
	before := lib.findCount()

	m.HandleAction("flip-over")
	m.Close()

	if m.currentIndex != 0 {
		t.Fatalf("unknown action changed index to %d", m.currentIndex)
	}
	if lib.findCount() != before {
		t.Fatalf("unknown action scheduled a fetch")
	}
}

func TestCurrentPackedFallsBackToSlotZero(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()

	// 当前槽位清空，应退回 0 号槽位
	m.mu.Lock()
	m.currentIndex = 2
	m.slots[2] = nil
	m.mu.Unlock()

	id, _, err := m.CurrentPacked()
	if err != nil {
		t.Fatalf("expected fallback to slot 0, got error: %v", err)
	}
	if id != m.slots[0].ID {
		t.Fatalf("expected slot 0 asset, got %s", id)
	}
}

func TestCurrentPackedNotReady(t *testing.T) {
	lib := &seqLibrary{failFind: true}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()

	if _, _, err := m.CurrentPacked(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestCurrentPackedRecordsShownHistory(t *testing.T) {
	lib := &seqLibrary{}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()

	id, _, err := m.CurrentPacked()
	if err != nil {
		t.Fatalf("current packed failed: %v", err)
	}

	m.mu.Lock()
	shown := m.shownIDs[id]
	m.mu.Unlock()
	if !shown {
		t.Fatalf("asset %s not recorded in shown history", id)
	}

	// 持久化文件里也要有
	var state managerState
	if err := readJSON(m.statePath(), &state); err != nil {
		t.Fatalf("read state failed: %v", err)
	}
	found := false
	for _, s := range state.ShownIDs {
		if s == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("shown id %s not persisted", id)
	}
}

func TestHistoryExhaustionResets(t *testing.T) {
	lib := &poolLibrary{pool: []string{"a1", "a2"}}
	m := newTestManager(t, lib)

	// 展示历史已覆盖整个候选池
	m.mu.Lock()
	m.shownIDs = map[string]bool{"a1": true, "a2": true}
	m.mu.Unlock()

	m.EnsureImages()
	m.Close()

	if m.slots[0] == nil {
		t.Fatalf("expected slot fill after history reset")
	}
	m.mu.Lock()
	remaining := len(m.shownIDs)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected shown history cleared, %d entries left", remaining)
	}
}

func TestFetchFailureLeavesSlotEmpty(t *testing.T) {
	lib := &seqLibrary{failFind: true}
	m := newTestManager(t, lib)
	m.EnsureImages()
	m.Close()

	for i := 0; i < slotCount; i++ {
		if m.slots[i] != nil {
			t.Fatalf("slot %d filled despite fetch failure", i)
		}
	}
	m.mu.Lock()
	pending := len(m.inFlight)
	m.mu.Unlock()
	if pending != 0 {
		t.Fatalf("in-flight markers not cleared: %d", pending)
	}

	// 失败后下一次 EnsureImages 还会重试
	lib.mu.Lock()
	lib.failFind = false
	lib.mu.Unlock()
	m.EnsureImages()
	m.Close()
	if m.slots[0] == nil {
		t.Fatalf("slot 0 not refilled on retry")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	lib := &seqLibrary{}
	dataDir := t.TempDir()

	m, err := NewManager(dataDir, lib, []string{"p1"}, 0, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	m.convertFn = func(data []byte) ([]byte, error) { return data, nil }
	m.EnsureImages()
	m.Close()
	m.HandleAction("next")
	m.Close()

	restarted, err := NewManager(dataDir, lib, []string{"p1"}, 0, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if restarted.currentIndex != m.currentIndex {
		t.Fatalf("currentIndex not restored: %d != %d", restarted.currentIndex, m.currentIndex)
	}
	for i := 0; i < slotCount; i++ {
		if restarted.slots[i] == nil || restarted.slots[i].ID != m.slots[i].ID {
			t.Fatalf("slot %d not restored", i)
		}
	}
}

func TestLoadDropsEntriesWithMissingBitmaps(t *testing.T) {
	dataDir := t.TempDir()
	state := managerState{
		Images: []*Image{
			{ID: "gone", Path: dataDir + "/ready/gone.bin"},
			nil,
			nil,
		},
		CurrentIndex: 0,
		LastDate:     "2026-08-28",
	}
	if err := writeJSONAtomic(dataDir+"/state.json", state); err != nil {
		t.Fatalf("seed state failed: %v", err)
	}

	m, err := NewManager(dataDir, &seqLibrary{}, []string{"p1"}, 0, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	if m.slots[0] != nil {
		t.Fatalf("entry with missing bitmap not dropped")
	}
}

func TestStatusReflectsInFlight(t *testing.T) {
	lib := &seqLibrary{block: make(chan struct{})}
	m := newTestManager(t, lib)

	m.EnsureImages()
	st := m.Status()
	if !st.Updating {
		t.Fatalf("expected updating=true while fetches run")
	}
	if st.HasImage {
		t.Fatalf("expected hasImage=false before any fetch completes")
	}

	close(lib.block)
	m.Close()

	st = m.Status()
	if st.Updating {
		t.Fatalf("expected updating=false after tasks finish")
	}
	if !st.HasImage || st.ImageCount != slotCount {
		t.Fatalf("unexpected status after fill: %+v", st)
	}
}
