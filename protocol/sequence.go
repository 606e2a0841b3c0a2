package protocol

import (
	"sort"
	"time"
)

// AckState 记录已收到的序号，生成累积确认 + 64 位位图
type AckState struct {
	latest uint64
	bits   uint64
}

// Record 记录收到 seq；返回 false 表示重复
func (a *AckState) Record(seq uint64) bool {
	switch {
	case seq == 0:
		return false
	case seq > a.latest:
		shift := seq - a.latest
		if a.latest == 0 {
			a.bits = 0
		} else if shift > 64 {
			a.bits = 0
		} else {
			a.bits = a.bits<<shift | 1<<(shift-1)
		}
		a.latest = seq
		return true
	default:
		if a.Ack().Covers(seq) {
			return false
		}
		d := a.latest - 1 - seq
		if d < 64 {
			a.bits |= 1 << d
		}
		return true
	}
}

func (a *AckState) Ack() Ack { return Ack{Latest: a.latest, Bits: a.bits} }

func (a *AckState) Latest() uint64 { return a.latest }

// ReceiverStats 接收统计
type ReceiverStats struct {
	Received   uint64 `json:"received"`
	Delivered  uint64 `json:"delivered"`
	Duplicates uint64 `json:"duplicates"`
	Lost       uint64 `json:"lost"`
	Reordered  uint64 `json:"reordered"`
}

// Receiver 单方向的接收端：幂等去重、有限重排窗口、过旧消息视为丢失。
// ordered 为 false 时只去重不重排（服务端收输入时使用，输入自带 tick）
type Receiver struct {
	window  uint64
	ordered bool
	next    uint64
	pending map[uint64]*Message
	ack     AckState
	stats   ReceiverStats
}

func NewReceiver(window int, ordered bool) *Receiver {
	r := &Receiver{ordered: ordered, next: 1, pending: make(map[uint64]*Message)}
	r.SetWindow(window)
	return r
}

// SetWindow 调整重排窗口（限制在 1..64），从下一条消息起生效
func (r *Receiver) SetWindow(window int) {
	if window < 1 {
		window = 1
	}
	if window > 64 {
		window = 64
	}
	r.window = uint64(window)
}

// Push 收到一条消息，返回现在可以按序交付的消息
func (r *Receiver) Push(m *Message) []*Message {
	r.stats.Received++
	seq := m.Seq
	if seq == 0 {
		r.stats.Lost++
		return nil
	}
	if !r.ordered {
		if latest := r.ack.Latest(); seq+r.window <= latest {
			r.stats.Lost++
			return nil
		}
		if !r.ack.Record(seq) {
			r.stats.Duplicates++
			return nil
		}
		r.stats.Delivered++
		return []*Message{m}
	}

	if seq < r.next {
		if r.ack.Ack().Covers(seq) {
			r.stats.Duplicates++
		} else {
			r.stats.Lost++
		}
		return nil
	}
	if _, ok := r.pending[seq]; ok {
		r.stats.Duplicates++
		return nil
	}
	r.ack.Record(seq)
	if seq != r.next {
		r.stats.Reordered++
	}
	r.pending[seq] = m

	var out []*Message
	if seq >= r.next+r.window {
		out = r.skipTo(seq - r.window + 1)
	}
	return append(out, r.flush()...)
}

// Skip 放弃等待当前缺口，交付缺口之后连续的消息
func (r *Receiver) Skip() []*Message {
	if len(r.pending) == 0 {
		return nil
	}
	min := uint64(0)
	for s := range r.pending {
		if min == 0 || s < min {
			min = s
		}
	}
	out := r.skipTo(min)
	return append(out, r.flush()...)
}

// Waiting 是否有消息在等待缺口补齐
func (r *Receiver) Waiting() bool { return len(r.pending) > 0 }

func (r *Receiver) skipTo(next uint64) []*Message {
	var out []*Message
	for s := r.next; s < next; s++ {
		if m, ok := r.pending[s]; ok {
			out = append(out, m)
			delete(r.pending, s)
			r.stats.Delivered++
		} else {
			r.stats.Lost++
		}
	}
	r.next = next
	return out
}

func (r *Receiver) flush() []*Message {
	var out []*Message
	for {
		m, ok := r.pending[r.next]
		if !ok {
			return out
		}
		delete(r.pending, r.next)
		r.next++
		r.stats.Delivered++
		out = append(out, m)
	}
}

func (r *Receiver) Ack() Ack { return r.ack.Ack() }

func (r *Receiver) Stats() ReceiverStats { return r.stats }

type outstanding struct {
	msg  *Message
	sent time.Time
}

// Sender 单方向的发送端：分配序号，保留未确认的输入以便重传
type Sender struct {
	seq         uint64
	retransmit  time.Duration
	maxUnacked  int
	outstanding []outstanding
	resent      uint64
}

func NewSender(retransmit time.Duration, maxUnacked int) *Sender {
	if maxUnacked < 1 {
		maxUnacked = 1
	}
	return &Sender{retransmit: retransmit, maxUnacked: maxUnacked}
}

// Stamp 分配下一个序号
func (s *Sender) Stamp(m *Message) *Message {
	s.seq++
	m.Seq = s.seq
	return m
}

// Seq 最近分配的序号
func (s *Sender) Seq() uint64 { return s.seq }

// Track 记录已发送的输入，直到被确认；超出上限时丢弃最旧的
func (s *Sender) Track(m *Message, now time.Time) {
	if m.Kind != KindInput {
		return
	}
	s.outstanding = append(s.outstanding, outstanding{msg: m, sent: now})
	if over := len(s.outstanding) - s.maxUnacked; over > 0 {
		s.outstanding = append(s.outstanding[:0:0], s.outstanding[over:]...)
	}
}

// Ack 处理确认，释放已确认的输入，返回释放数量
func (s *Sender) Ack(a Ack) int {
	kept := s.outstanding[:0]
	released := 0
	for _, o := range s.outstanding {
		if a.Covers(o.msg.Seq) {
			released++
			continue
		}
		kept = append(kept, o)
	}
	s.outstanding = kept
	return released
}

// Unacked 返回到期需要重传的输入（保持原序号），并刷新发送时间
func (s *Sender) Unacked(now time.Time) []*Message {
	var out []*Message
	for i := range s.outstanding {
		if now.Sub(s.outstanding[i].sent) < s.retransmit {
			continue
		}
		s.outstanding[i].sent = now
		out = append(out, s.outstanding[i].msg)
	}
	s.resent += uint64(len(out))
	return out
}

// Pending 未确认输入的序号，升序
func (s *Sender) Pending() []uint64 {
	out := make([]uint64, len(s.outstanding))
	for i, o := range s.outstanding {
		out[i] = o.msg.Seq
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Sender) Resent() uint64 { return s.resent }

// SnapshotPolicy 周期性强制全量快照，让漏掉增量的客户端无需回放历史即可恢复
type SnapshotPolicy struct {
	// Every 每隔多少 tick 发送一次全量快照；0 表示仅在需要时发送
	Every uint64 `json:"every"`
}

// Due lastFull 之后是否到了发送全量快照的时候
func (p SnapshotPolicy) Due(tick, lastFull uint64) bool {
	return p.Every > 0 && tick >= lastFull+p.Every
}

// SnapshotState 单个接收方的全量快照进度
type SnapshotState struct {
	lastFull uint64
	forced   bool
}

// Force 下一次发送必须是全量快照（加入、重同步、队列溢出后）
func (s *SnapshotState) Force() { s.forced = true }

// Forced 是否有待发送的强制快照
func (s *SnapshotState) Forced() bool { return s.forced }

// Due 本 tick 是否应发送全量快照
func (s *SnapshotState) Due(p SnapshotPolicy, tick uint64) bool {
	return s.forced || p.Due(tick, s.lastFull)
}

// Last 最近一次全量快照的 tick
func (s *SnapshotState) Last() uint64 { return s.lastFull }

// Sent 记录 tick 的全量快照已入队
func (s *SnapshotState) Sent(tick uint64) {
	s.lastFull = tick
	s.forced = false
}
