package client

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"zonearena/protocol"
	"zonearena/sim"
	"zonearena/world"
)

// keepStates 保留的权威状态个数，与服务端默认历史深度一致
const keepStates = 64

// SessionStats 客户端会话统计
type SessionStats struct {
	Snapshots   uint64 `json:"snapshots"`
	Deltas      uint64 `json:"deltas"`
	Skipped     uint64 `json:"skipped"`
	Desyncs     uint64 `json:"desyncs"`
	Corrections uint64 `json:"corrections"`
	Snaps       uint64 `json:"snaps"`
	AckedInputs uint64 `json:"ackedInputs"`
}

// Session 客户端一侧的协议状态机，与传输无关。
// Handle 处理服务端消息，Input 生成输入，待发送的消息经 Flush 取出
type Session struct {
	mu   sync.Mutex
	opts Options
	log  *zap.SugaredLogger

	recv *protocol.Receiver
	send *protocol.Sender

	welcome *protocol.Welcome
	auth    *world.State
	// known 最近的权威状态，按 tick 取模存放，服务端以客户端确认过的任一状态为增量基准
	known  [keepStates]*world.State
	pred   *Predictor
	interp Interpolator

	// awaitingFull 已请求重同步，在收到快照前忽略增量
	awaitingFull bool
	match        string
	events       []world.Event
	outbox       []*protocol.Message
	pendingAck   *protocol.Message
	last         Correction
	stats        SessionStats
}

func NewSession(opts Options) *Session {
	return &Session{
		opts: opts,
		log:  opts.logger(),
		recv: protocol.NewReceiver(opts.ReorderWindow, true),
		send: protocol.NewSender(opts.Retransmit, opts.MaxUnacked),
	}
}

// Hello 握手消息，必须是连接上的第一帧
func (s *Session) Hello() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.Stamp(protocol.NewHello(s.opts.Name, s.opts.Team))
}

// Handle 处理一条服务端消息。重复或过旧的消息被静默丢弃；
// 增量基准缺失时返回包装了 ProtocolDesync 的错误并排队一条重同步请求
func (s *Session) Handle(m *protocol.Message) error {
	if err := m.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Match != "" {
		s.match = m.Match
	}

	batch := s.recv.Push(m)
	if len(batch) == 0 && s.recv.Waiting() && s.standalone(m) {
		batch = s.recv.Skip()
	}
	// 同一批里有快照时，之前的增量已无意义
	lastFull := -1
	for i, msg := range batch {
		if msg.Kind == protocol.KindSnapshot {
			lastFull = i
		}
	}

	var errs []error
	for i, msg := range batch {
		if msg.Kind == protocol.KindDelta && i < lastFull {
			s.stats.Skipped++
			continue
		}
		if err := s.apply(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

// standalone 不依赖缺口中的消息即可应用：快照，或基准状态仍在手里的增量
func (s *Session) standalone(m *protocol.Message) bool {
	switch m.Kind {
	case protocol.KindSnapshot:
		return true
	case protocol.KindDelta:
		return !s.awaitingFull && s.stateAt(m.Delta.BaseTick) != nil
	}
	return false
}

func (s *Session) stateAt(tick uint64) *world.State {
	st := s.known[tick%keepStates]
	if st == nil || st.Tick() != tick {
		return nil
	}
	return st
}

func (s *Session) apply(m *protocol.Message) error {
	switch m.Kind {
	case protocol.KindWelcome:
		w := *m.Welcome
		s.welcome = &w
		s.pred = NewPredictor(w.Entity, w.Rules, s.opts)
		if s.auth != nil {
			_, _ = s.pred.Reconcile(s.auth)
		}
		s.log.Infof("joined match %s as entity %d on team %d", s.match, w.Entity, w.Team)
	case protocol.KindSnapshot:
		st, err := world.FromSnapshot(*m.Snapshot)
		if err != nil {
			return fmt.Errorf("snapshot at tick %d: %w", m.Snapshot.Tick, err)
		}
		s.stats.Snapshots++
		s.awaitingFull = false
		s.known = [keepStates]*world.State{}
		s.interp.Reset(st)
		s.setAuthoritative(st)
	case protocol.KindDelta:
		return s.applyDelta(m.Delta)
	case protocol.KindAck:
		s.stats.AckedInputs += uint64(s.send.Ack(*m.Ack))
	case protocol.KindEvents:
		s.events = append(s.events, m.Events...)
	case protocol.KindControl:
		s.log.Infof("server control: %s (%s)", m.Control.Op, m.Control.Reason)
	default:
		s.log.Debugf("ignoring %s at tick %d", m.Kind, m.Tick)
	}
	return nil
}

func (s *Session) applyDelta(d *world.Delta) error {
	if s.awaitingFull {
		s.stats.Skipped++
		return nil
	}
	if s.auth != nil && d.Tick <= s.auth.Tick() {
		s.stats.Skipped++
		return nil
	}
	if s.auth == nil {
		return s.desync(fmt.Errorf("delta %d->%d before any snapshot", d.BaseTick, d.Tick))
	}
	base := s.stateAt(d.BaseTick)
	if base == nil {
		return s.desync(fmt.Errorf("%w: no state at tick %d for delta to %d", world.ErrDeltaBase, d.BaseTick, d.Tick))
	}
	st, err := world.ApplyDelta(base, *d)
	if err != nil {
		return s.desync(err)
	}
	s.stats.Deltas++
	s.interp.Push(st)
	s.setAuthoritative(st)
	return nil
}

// desync 无法应用增量：请求全量快照，直到快照到达前忽略后续增量
func (s *Session) desync(cause error) error {
	s.stats.Desyncs++
	s.awaitingFull = true
	have := uint64(0)
	if s.auth != nil {
		have = s.auth.Tick()
	}
	err := fmt.Errorf("%w: %w", protocol.ErrProtocolDesync, cause)
	s.log.Warnf("requesting resync at tick %d: %v", have, err)
	s.outbox = append(s.outbox, s.send.Stamp(protocol.NewResync(have, have, cause.Error())))
	return err
}

func (s *Session) setAuthoritative(st *world.State) {
	s.auth = st
	s.known[st.Tick()%keepStates] = st
	a := s.recv.Ack()
	a.Tick = st.Tick()
	s.pendingAck = protocol.NewAck(st.Tick(), a)
	if s.pred == nil {
		return
	}
	c, err := s.pred.Reconcile(st)
	if err != nil {
		s.log.Warnf("reconcile at tick %d: %v", st.Tick(), err)
	}
	s.last = c
	switch c.Mode {
	case CorrectionSmooth:
		s.stats.Corrections++
	case CorrectionSnap:
		s.stats.Corrections++
		s.stats.Snaps++
	}
}

// Input 预测一条本地指令并生成带序号的输入消息，消息被记录以便重传
func (s *Session) Input(actions sim.ActionSet, aimX, aimY int8, now time.Time) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pred == nil {
		return nil, ErrNotReady
	}
	cmd, err := s.pred.Predict(actions, aimX, aimY)
	if err != nil {
		return nil, err
	}
	m := s.send.Stamp(protocol.NewInput(cmd.Tick, cmd))
	s.send.Track(m, now)
	return m, nil
}

// Retransmit 到期未确认的输入，保持原序号
func (s *Session) Retransmit(now time.Time) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.Unacked(now)
}

// Flush 取出排队的控制类消息（重同步请求、状态确认）
func (s *Session) Flush() []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	if s.pendingAck != nil {
		out = append(out, s.send.Stamp(s.pendingAck))
		s.pendingAck = nil
	}
	return out
}

// Control 请求比赛控制（开始、暂停等）
func (s *Session) Control(op protocol.ControlOp, reason string) *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick := uint64(0)
	if s.auth != nil {
		tick = s.auth.Tick()
	}
	return s.send.Stamp(protocol.NewControl(tick, op, reason))
}

// Welcome 加入结果；尚未加入时 ok 为 false
func (s *Session) Welcome() (protocol.Welcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.welcome == nil {
		return protocol.Welcome{}, false
	}
	return *s.welcome, true
}

// Authoritative 最新的权威状态（本客户端视野内）
func (s *Session) Authoritative() *world.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// Predicted 当前推测状态
func (s *Session) Predicted() *world.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pred == nil {
		return s.auth
	}
	return s.pred.Head()
}

// Self 渲染用的本地实体
func (s *Session) Self() (world.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pred == nil {
		return world.Entity{}, false
	}
	return s.pred.Self()
}

// Remote 渲染用的远端实体，位置在最近两个权威状态间插值
func (s *Session) Remote(num, den int64) []world.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	self := world.EntityID(0)
	if s.welcome != nil {
		self = s.welcome.Entity
	}
	return s.interp.Remote(self, num, den)
}

// Events 取出累积的游戏事件
func (s *Session) Events() []world.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// LastCorrection 最近一次对账结果
func (s *Session) LastCorrection() Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PendingInputs 未被确认的输入序号
func (s *Session) PendingInputs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.Pending()
}
