package server

import (
	"sync/atomic"
)

// MatchMetrics 记录比赛运行期的关键指标（用于监控与调试）
type MatchMetrics struct {
	TickCount           int64 // 推进的 tick 数
	InputsAccepted      int64 // 命中当前 tick 或提前缓存的输入
	InputsDeferred      int64 // 迟到但在容忍范围内、推迟到当前 tick 的输入
	StaleDropped        int64 // 超过硬性期限被丢弃的输入
	FutureDropped       int64 // 提前量过大被丢弃的输入
	DuplicateMessages   int64 // 重复序号被忽略的上行消息
	DropsSimulated      int64 // 因模拟丢包被丢弃的入站消息
	DupsSimulated       int64 // 因模拟重复而多投递的入站消息
	InboxFullDiscarded  int64 // 因入站队列满被丢弃的消息
	MalformedFrames     int64
	SnapshotsSent       int64
	DeltasSent          int64
	Resyncs             int64
	ConnectionResets    int64
	TriggerFaults       int64
	InvariantViolations int64
	OutboxOverflow      int64 // 出站队列满，改为下个 tick 发送全量快照
	TotalTickNs         int64 // Tick 累计耗时（纳秒）
}

func (m *MatchMetrics) inc(p *int64) { atomic.AddInt64(p, 1) }
func (m *MatchMetrics) IncAccepted() { m.inc(&m.InputsAccepted) }
func (m *MatchMetrics) IncDeferred() { m.inc(&m.InputsDeferred) }
func (m *MatchMetrics) IncStale() { m.inc(&m.StaleDropped) }
func (m *MatchMetrics) IncFuture() { m.inc(&m.FutureDropped) }
func (m *MatchMetrics) IncDuplicate() { m.inc(&m.DuplicateMessages) }
func (m *MatchMetrics) IncDropsSimulated() { m.inc(&m.DropsSimulated) }
func (m *MatchMetrics) IncDupsSimulated() { m.inc(&m.DupsSimulated) }
func (m *MatchMetrics) IncInboxFull() { m.inc(&m.InboxFullDiscarded) }
func (m *MatchMetrics) IncMalformed() { m.inc(&m.MalformedFrames) }
func (m *MatchMetrics) IncSnapshot() { m.inc(&m.SnapshotsSent) }
func (m *MatchMetrics) IncDelta() { m.inc(&m.DeltasSent) }
func (m *MatchMetrics) IncResync() { m.inc(&m.Resyncs) }
func (m *MatchMetrics) IncReset() { m.inc(&m.ConnectionResets) }
func (m *MatchMetrics) IncTriggerFault() { m.inc(&m.TriggerFaults) }
func (m *MatchMetrics) IncInvariantViolation() { m.inc(&m.InvariantViolations) }
func (m *MatchMetrics) IncOverflow() { m.inc(&m.OutboxOverflow) }
func (m *MatchMetrics) Load(p *int64) int64 { return atomic.LoadInt64(p) }
func (m *MatchMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *MatchMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":           tick,
		"inputs_accepted":      m.Load(&m.InputsAccepted),
		"inputs_deferred":      m.Load(&m.InputsDeferred),
		"stale_dropped":        m.Load(&m.StaleDropped),
		"future_dropped":       m.Load(&m.FutureDropped),
		"duplicate_messages":   m.Load(&m.DuplicateMessages),
		"drops_simulated":      m.Load(&m.DropsSimulated),
		"dups_simulated":       m.Load(&m.DupsSimulated),
		"inbox_full_discarded": m.Load(&m.InboxFullDiscarded),
		"malformed_frames":     m.Load(&m.MalformedFrames),
		"snapshots_sent":       m.Load(&m.SnapshotsSent),
		"deltas_sent":          m.Load(&m.DeltasSent),
		"resyncs":              m.Load(&m.Resyncs),
		"connection_resets":    m.Load(&m.ConnectionResets),
		"trigger_faults":       m.Load(&m.TriggerFaults),
		"invariant_violations": m.Load(&m.InvariantViolations),
		"outbox_overflow":      m.Load(&m.OutboxOverflow),
		"avg_tick_ms":          avgMs,
	}
}
