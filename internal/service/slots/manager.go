// Package slots 槽位管理器：维护一组轮播图像槽位和一个次日预取槽位，
// 后台抓取、转换并持久化图像，客户端请求永远不会被网络抓取阻塞。
package slots

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Jonesus/taulu/internal/convert"
	"github.com/Jonesus/taulu/internal/immich"
)

const (
	// slotCount 轮播槽位数，0 号槽位保留给每日新图
	slotCount = 3

	// nextDailyIndex 次日预取槽位在 inFlight 集合中的键
	nextDailyIndex = -1

	defaultFetchTimeout = 2 * time.Minute
)

// ErrNotReady 没有任何可供展示的图像
var ErrNotReady = errors.New("no image ready")

// Library 远端照片库（由 immich.Client 实现）
type Library interface {
	FindRandomGroupPhoto(ctx context.Context, personIDs []string, exclude map[string]bool) (*immich.Asset, error)
	DownloadOriginal(ctx context.Context, assetID string) ([]byte, error)
}

// Manager 槽位管理器
//
// 锁只保护内存状态和同步持久化；网络下载、图像转换和位图文件写入
// 都在锁外进行，后台任务只在提交结果和清除 in-flight 标记时拿锁。
type Manager struct {
	dataDir   string
	library   Library
	personIDs []string
	logger    hclog.Logger

	convertFn    func([]byte) ([]byte, error)
	fetchTimeout time.Duration
	now          func() time.Time

	mu           sync.Mutex
	slots        [slotCount]*Image
	nextDaily    *Image
	currentIndex int
	lastDate     string
	shownIDs     map[string]bool
	inFlight     map[int]bool

	wg sync.WaitGroup
}

// NewManager 创建管理器并加载持久化状态
// 状态里指向已不存在位图文件的槽位会被直接丢弃
func NewManager(dataDir string, library Library, personIDs []string, fetchTimeout time.Duration, logger hclog.Logger) (*Manager, error) {
	if dataDir == "" {
		return nil, errors.New("dataDir is required")
	}
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	m := &Manager{
		dataDir:      dataDir,
		library:      library,
		personIDs:    personIDs,
		logger:       logger.Named("slots"),
		convertFn:    convert.ToPacked,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		shownIDs:     map[string]bool{},
		inFlight:     map[int]bool{},
	}

	if err := ensureDir(m.readyDir()); err != nil {
		return nil, err
	}
	if err := m.loadState(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) statePath() string {
	return filepath.Join(m.dataDir, "state.json")
}

func (m *Manager) readyDir() string {
	return filepath.Join(m.dataDir, "ready")
}

func (m *Manager) bitmapPath(assetID string) string {
	return filepath.Join(m.readyDir(), assetID+".bin")
}

func (m *Manager) loadState() error {
	path := m.statePath()
	if !fileExists(path) {
		return nil
	}

	var state managerState
	if err := readJSON(path, &state); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	for i := 0; i < slotCount && i < len(state.Images); i++ {
		img := state.Images[i]
		if img != nil && fileExists(img.Path) {
			m.slots[i] = img
		}
	}
	if state.NextDaily != nil && fileExists(state.NextDaily.Path) {
		m.nextDaily = state.NextDaily
	}
	if state.CurrentIndex >= 0 && state.CurrentIndex < slotCount {
		m.currentIndex = state.CurrentIndex
	}
	m.lastDate = state.LastDate
	for _, id := range state.ShownIDs {
		m.shownIDs[id] = true
	}
	return nil
}

// persistLocked 持久化当前状态（原子替换写）
// 写失败只记日志不回滚内存状态，下一次变更会重试
func (m *Manager) persistLocked() {
	shown := make([]string, 0, len(m.shownIDs))
	for id := range m.shownIDs {
		shown = append(shown, id)
	}
	sort.Strings(shown)

	state := managerState{
		Images:       m.slots[:],
		NextDaily:    m.nextDaily,
		CurrentIndex: m.currentIndex,
		LastDate:     m.lastDate,
		ShownIDs:     shown,
	}
	if err := writeJSONAtomic(m.statePath(), state); err != nil {
		m.logger.Error("state persist failed", "error", err)
	}
}

// EnsureImages 确保槽位就绪（非阻塞）
//
// 日期变化时把预取的次日图像换入 0 号槽位、复位当前索引，然后给所有
// 空槽位（含次日槽位）各起一个后台抓取任务，同一槽位不会重复抓取。
func (m *Manager) EnsureImages() {
	today := m.now().Format("2006-01-02")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastDate != today {
		m.slots[0] = m.nextDaily
		m.nextDaily = nil
		m.currentIndex = 0
		m.lastDate = today
		m.persistLocked()
		m.logger.Info("daily rollover", "date", today, "hasPrefetched", m.slots[0] != nil)
	}

	for i := 0; i < slotCount; i++ {
		if m.slots[i] == nil {
			m.spawnFetchLocked(i)
		}
	}
	if m.nextDaily == nil {
		m.spawnFetchLocked(nextDailyIndex)
	}
}

// spawnFetchLocked 给指定槽位起后台抓取任务，已有任务在跑则忽略
func (m *Manager) spawnFetchLocked(index int) {
	if m.inFlight[index] {
		return
	}
	m.inFlight[index] = true
	m.wg.Add(1)
	go m.fetch(index)
}

// fetch 后台抓取任务：选图、下载、转换、落盘，最后拿锁提交
// 任何一步失败都放弃本次任务，槽位维持原状，等下次 EnsureImages 重试
func (m *Manager) fetch(index int) {
	defer m.wg.Done()

	img := m.fetchImage(index)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, index)
	if img == nil {
		return
	}
	if index == nextDailyIndex {
		m.nextDaily = img
	} else {
		m.slots[index] = img
	}
	m.persistLocked()
}

// fetchImage 锁外执行的重活，失败返回 nil
func (m *Manager) fetchImage(index int) *Image {
	ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()

	m.mu.Lock()
	personIDs := append([]string(nil), m.personIDs...)
	exclude := make(map[string]bool, len(m.shownIDs))
	for id := range m.shownIDs {
		exclude[id] = true
	}
	m.mu.Unlock()

	asset, err := m.library.FindRandomGroupPhoto(ctx, personIDs, exclude)
	if err != nil && len(exclude) > 0 {
		// 候选池被展示历史排光了：清空历史，不带排除再试一次
		m.logger.Info("candidate pool exhausted, resetting shown history", "slot", index)
		m.mu.Lock()
		m.shownIDs = map[string]bool{}
		m.persistLocked()
		m.mu.Unlock()
		asset, err = m.library.FindRandomGroupPhoto(ctx, personIDs, nil)
	}
	if err != nil {
		m.logger.Warn("no candidate for slot", "slot", index, "error", err)
		return nil
	}

	data, err := m.library.DownloadOriginal(ctx, asset.ID)
	if err != nil {
		m.logger.Warn("download failed", "slot", index, "assetId", asset.ID, "error", err)
		return nil
	}

	packed, err := m.convertFn(data)
	if err != nil {
		m.logger.Warn("conversion failed", "slot", index, "assetId", asset.ID, "error", err)
		return nil
	}

	path := m.bitmapPath(asset.ID)
	if err := writeBytesAtomic(path, packed); err != nil {
		m.logger.Warn("bitmap write failed", "slot", index, "path", path, "error", err)
		return nil
	}

	m.logger.Info("slot updated", "slot", index, "assetId", asset.ID, "bytes", len(packed))
	return &Image{ID: asset.ID, Path: path}
}

// HandleAction 处理设备按键动作
//
// next 前进一格并给新索引的槽位（0 号除外，0 号只随日期轮换刷新）排一次
// 后台刷新；previous 只后退不刷新；其他动作忽略。索引变更同步持久化。
func (m *Manager) HandleAction(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch action {
	case "next":
		m.currentIndex = (m.currentIndex + 1) % slotCount
		m.persistLocked()
		if m.currentIndex != 0 {
			m.spawnFetchLocked(m.currentIndex)
		}
	case "previous":
		m.currentIndex = (m.currentIndex - 1 + slotCount) % slotCount
		m.persistLocked()
	}
}

// CurrentPacked 返回当前槽位的打包位图
// 当前槽位为空时退回 0 号槽位；都没有则返回 ErrNotReady。
// 同一资产第一次被成功送出时记入展示历史并持久化。
func (m *Manager) CurrentPacked() (string, []byte, error) {
	m.mu.Lock()
	img := m.slots[m.currentIndex]
	if img == nil {
		img = m.slots[0]
	}
	m.mu.Unlock()

	if img == nil {
		return "", nil, ErrNotReady
	}

	data, err := os.ReadFile(img.Path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	m.mu.Lock()
	if !m.shownIDs[img.ID] {
		m.shownIDs[img.ID] = true
		m.persistLocked()
	}
	m.mu.Unlock()

	return img.ID, data, nil
}

// Status 当前状态快照
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, img := range m.slots {
		if img != nil {
			count++
		}
	}

	currentID := ""
	if img := m.slots[m.currentIndex]; img != nil {
		currentID = img.ID
	} else if img := m.slots[0]; img != nil {
		currentID = img.ID
	}

	return Status{
		CurrentID:  currentID,
		HasImage:   count > 0,
		ImageCount: count,
		Updating:   len(m.inFlight) > 0,
	}
}

// SaveNow 立即持久化
func (m *Manager) SaveNow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

// Close 等待所有进行中的后台任务结束
func (m *Manager) Close() {
	m.wg.Wait()
}
