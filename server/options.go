package server

import (
	"errors"
	"fmt"

	"zonearena/fixed"
	"zonearena/sim"
	"zonearena/trigger"
	"zonearena/world"
)

var (
	// ErrStaleInput 输入到达时已超过其 tick 的硬性期限
	ErrStaleInput = errors.New("stale input")
	// ErrTooEarly 输入的 tick 超出允许的提前量
	ErrTooEarly = errors.New("input too far ahead")
	// ErrTransportFailure 连接断开或读写失败
	ErrTransportFailure = errors.New("transport failure")
	ErrMatchClosed      = errors.New("match closed")
	ErrMatchNotFound    = errors.New("match not found")
)

// DisconnectPolicy 所有玩家掉线后比赛如何处理
type DisconnectPolicy string

const (
	DisconnectContinue DisconnectPolicy = "continue"
	// DisconnectPause 没有在线玩家时暂停，有人回来后恢复
	DisconnectPause DisconnectPolicy = "pause"
)

// Policy 运行期可热更新的同步策略
type Policy struct {
	// SnapshotEvery 每隔多少 tick 强制发送全量快照；0 表示只在需要时发送
	SnapshotEvery uint64 `json:"snapshotEvery"`
	// MaxLead 客户端输入最多可提前多少 tick
	MaxLead uint64 `json:"maxLead"`
	// StaleBound 迟到不超过该 tick 数的输入推迟到当前 tick，超过则丢弃
	StaleBound uint64 `json:"staleBound"`
	// ReorderWindow 输入接收端的重排窗口，1..64
	ReorderWindow int `json:"reorderWindow"`
	// MaxResyncs 在 ResyncWindow 个 tick 内允许的重同步次数，超过则重置连接
	MaxResyncs   int              `json:"maxResyncs"`
	ResyncWindow uint64           `json:"resyncWindow"`
	Disconnect   DisconnectPolicy `json:"disconnect"`
	// AllowClientControl 允许玩家通过连接发送开始/暂停/结束；默认只有管理接口可以
	AllowClientControl bool `json:"allowClientControl"`
	// DropProb/DupProb 模拟入站丢包与重复（调试用）
	DropProb float64 `json:"dropProb"`
	DupProb  float64 `json:"dupProb"`
}

func DefaultPolicy() Policy {
	return Policy{
		SnapshotEvery: 100,
		MaxLead:       10,
		StaleBound:    2,
		ReorderWindow: 32,
		MaxResyncs:    3,
		ResyncWindow:  200,
		Disconnect:    DisconnectContinue,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.ReorderWindow < 1 || p.ReorderWindow > 64:
		return fmt.Errorf("reorder window %d out of range 1..64", p.ReorderWindow)
	case p.MaxResyncs < 0:
		return fmt.Errorf("negative resync budget")
	case p.Disconnect != DisconnectContinue && p.Disconnect != DisconnectPause:
		return fmt.Errorf("unknown disconnect policy %q", p.Disconnect)
	case p.DropProb < 0 || p.DropProb > 1 || p.DupProb < 0 || p.DupProb > 1:
		return fmt.Errorf("simulated loss probabilities must be within [0,1]")
	}
	return nil
}

// Options 一局比赛的全部配置
type Options struct {
	TickRate int
	Map      world.MapSpec
	Rules    sim.Rules
	Triggers trigger.Config
	Policy   Policy

	// 队列容量
	InboxSize   int
	ControlSize int
	OutboxSize  int
	// HistoryDepth 保留多少个已确认状态用于计算增量
	HistoryDepth int
	// ReplayDir 非空时每局写一个回放文件
	ReplayDir string
	// EndGrace 比赛结束后继续推进多少 tick 让客户端收到结果，随后自动停止；0 表示不自动停止
	EndGrace uint64
}

func DefaultOptions() Options {
	return Options{
		TickRate:     20,
		Map:          world.Corridor(5, fixed.FromInt(200), 100, 1, 0, 0, 0, 2),
		Rules:        sim.DefaultRules(),
		Triggers:     trigger.DefaultConfig(),
		Policy:       DefaultPolicy(),
		InboxSize:    1024,
		ControlSize:  64,
		OutboxSize:   64,
		HistoryDepth: 64,
		EndGrace:     200,
	}
}

func (o Options) Validate() error {
	if o.TickRate <= 0 || o.TickRate > 1000 {
		return fmt.Errorf("tick rate %d out of range", o.TickRate)
	}
	if o.InboxSize <= 0 || o.ControlSize <= 0 || o.OutboxSize <= 0 {
		return fmt.Errorf("queue sizes must be positive")
	}
	if o.HistoryDepth < 2 {
		return fmt.Errorf("history depth %d too small", o.HistoryDepth)
	}
	if err := o.Triggers.Validate(); err != nil {
		return err
	}
	return o.Policy.Validate()
}
