package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/segmentio/ksuid"

	"zonearena/world"
)

// Manager 管理多局相互隔离的比赛
type Manager struct {
	mu       sync.RWMutex
	ctx      context.Context
	defaults Options
	matches  map[string]*Match
}

func NewManager(ctx context.Context, defaults Options) *Manager {
	return &Manager{ctx: ctx, defaults: defaults, matches: make(map[string]*Match)}
}

// Defaults 新建比赛使用的配置
func (m *Manager) Defaults() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// Create 用默认配置创建比赛并启动 Tick 循环
func (m *Manager) Create() (*Match, error) {
	return m.CreateWith(m.Defaults())
}

// CreateWith 用给定配置创建比赛并启动 Tick 循环
func (m *Manager) CreateWith(opts Options) (*Match, error) {
	id := ksuid.New().String()
	var rec io.WriteCloser
	if opts.ReplayDir != "" {
		if err := os.MkdirAll(opts.ReplayDir, 0o755); err != nil {
			return nil, fmt.Errorf("replay dir: %w", err)
		}
		f, err := os.Create(filepath.Join(opts.ReplayDir, id+".zarp"))
		if err != nil {
			return nil, fmt.Errorf("replay file: %w", err)
		}
		rec = f
	}
	match, err := NewMatch(id, opts, rec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.matches[id] = match
	m.mu.Unlock()
	match.Start(m.ctx)
	go m.reap(match)
	Log.Infof("match %s created: %d zones, %d ticks/s", id, len(opts.Map.Zones), opts.TickRate)
	return match, nil
}

func (m *Manager) Get(id string) (*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	return match, nil
}

// reap 比赛自行停止后（结束宽限期满）从表中移除
func (m *Manager) reap(match *Match) {
	select {
	case <-match.Done():
	case <-m.ctx.Done():
		return
	}
	m.mu.Lock()
	if m.matches[match.ID] == match {
		delete(m.matches, match.ID)
	}
	m.mu.Unlock()
}

// GetOrDefault id 为空时返回最早创建且尚未结束的比赛，没有则新建一局
func (m *Manager) GetOrDefault(id string) (*Match, error) {
	if id != "" {
		return m.Get(id)
	}
	for _, info := range m.List() {
		if info.Phase == world.PhaseEnded.String() {
			continue
		}
		if match, err := m.Get(info.ID); err == nil {
			return match, nil
		}
	}
	return m.Create()
}

// End 结束比赛：停止循环，断开连接，丢弃排队中的消息
func (m *Manager) End(id string) error {
	m.mu.Lock()
	match, ok := m.matches[id]
	delete(m.matches, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	match.Stop()
	return nil
}

// List 按 id 排序（ksuid 按创建时间有序）
func (m *Manager) List() []MatchInfo {
	m.mu.RLock()
	out := make([]MatchInfo, 0, len(m.matches))
	for _, match := range m.matches {
		out = append(out, match.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown 结束全部比赛
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.matches
	m.matches = make(map[string]*Match)
	m.mu.Unlock()
	for _, match := range all {
		match.Stop()
	}
}
