package server

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"zonearena/protocol"
	"zonearena/replay"
	"zonearena/trigger"
	"zonearena/world"
)

type reqKind uint8

const (
	reqJoin reqKind = iota + 1
	reqLeave
	reqControl
)

// request 需要在 tick 线程中处理的连接管理请求
type request struct {
	kind   reqKind
	client *Client
	op     replay.OpKind
	reason string
	err    error
}

type inbound struct {
	c   *Client
	msg *protocol.Message
}

// MatchInfo 对外公布的比赛概况，每个 tick 结束时刷新
type MatchInfo struct {
	ID      string  `json:"id"`
	Tick    uint64  `json:"tick"`
	Phase   string  `json:"phase"`
	Players int     `json:"players"`
	Winner  uint8   `json:"winner,omitempty"`
	Scores  []int64 `json:"scores"`
	Reason  string  `json:"reason,omitempty"`
}

// Match 一局比赛：权威状态只由 tick 线程读写，网络协程通过有界通道与其通信
type Match struct {
	ID      string
	opts    Options
	metrics *MatchMetrics

	inbox    chan inbound
	control  chan request
	done     chan struct{}
	stopOnce sync.Once
	shutOnce sync.Once
	running  atomic.Bool
	clientID atomic.Uint64

	pmu    sync.RWMutex
	policy Policy

	imu  sync.RWMutex
	info MatchInfo

	// 以下只由 tick 线程访问
	state      *world.State
	eng        *trigger.Engine
	history    *history
	buffer     *inputBuffer
	clients    map[ClientID]*Client
	joining    map[uint64]*Client
	ops        []replay.Op
	nextRef    uint64
	autoPaused bool
	ended      bool
	endedAt    uint64
	rec        *replay.Writer
	recFile    io.Closer
}

// NewMatch 创建比赛并写入回放文件头；rec 为 nil 时不记录回放
func NewMatch(id string, opts Options, rec io.WriteCloser) (*Match, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}
	state, err := world.New(opts.Map)
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}
	m := &Match{
		ID:      id,
		opts:    opts,
		metrics: &MatchMetrics{},
		inbox:   make(chan inbound, opts.InboxSize),
		control: make(chan request, opts.ControlSize),
		done:    make(chan struct{}),
		policy:  opts.Policy,
		state:   state,
		history: newHistory(opts.HistoryDepth),
		buffer:  newInputBuffer(),
		clients: make(map[ClientID]*Client),
		joining: make(map[uint64]*Client),
		nextRef: 1,
	}
	m.eng, err = trigger.New(opts.Triggers,
		trigger.WithLogger(Log),
		trigger.WithFaultHook(func(*trigger.Fault) { m.metrics.IncTriggerFault() }))
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", id, err)
	}
	m.eng.Install(state)
	m.history.push(state)

	if rec != nil {
		w, err := replay.NewWriter(rec, replay.Header{
			Match:    id,
			TickRate: opts.TickRate,
			Rules:    opts.Rules,
			Triggers: opts.Triggers,
			Initial:  state.Snapshot(),
		})
		if err != nil {
			_ = rec.Close()
			return nil, fmt.Errorf("match %s replay: %w", id, err)
		}
		m.rec, m.recFile = w, rec
	}
	m.publish()
	return m, nil
}

func (m *Match) Metrics() *MatchMetrics { return m.metrics }

func (m *Match) Policy() Policy {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	return m.policy
}

// SetPolicy 热更新同步策略，下一个 tick 生效
func (m *Match) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.pmu.Lock()
	m.policy = p
	m.pmu.Unlock()
	return nil
}

func (m *Match) Info() MatchInfo {
	m.imu.RLock()
	defer m.imu.RUnlock()
	return m.info
}

// Accept 完成握手并让连接加入比赛，随后启动读写协程
func (m *Match) Accept(conn Conn, codec protocol.Codec) (*Client, error) {
	hello, err := handshake(conn, codec, 5*time.Second)
	if err != nil {
		return nil, err
	}
	c := newClient(ClientID(m.clientID.Add(1)), conn, codec, hello, m.Policy(), m.opts.OutboxSize)
	if err := m.request(request{kind: reqJoin, client: c}); err != nil {
		return nil, err
	}
	go c.writePump(m)
	go c.readPump(m)
	return c, nil
}

// Leave 请求在 tick 线程中断开该客户端；其实体保留并标记为掉线
func (m *Match) Leave(c *Client, cause error) {
	_ = m.request(request{kind: reqLeave, client: c, err: cause})
}

// Control 请求开始/暂停/恢复/结束比赛，下一个 tick 边界生效
func (m *Match) Control(op protocol.ControlOp, reason string) error {
	kind, err := opFor(op)
	if err != nil {
		return err
	}
	return m.request(request{kind: reqControl, op: kind, reason: reason})
}

func opFor(op protocol.ControlOp) (replay.OpKind, error) {
	switch op {
	case protocol.ControlStart:
		return replay.OpStart, nil
	case protocol.ControlPause:
		return replay.OpPause, nil
	case protocol.ControlResume:
		return replay.OpResume, nil
	case protocol.ControlEnd:
		return replay.OpEnd, nil
	}
	return 0, fmt.Errorf("unknown control op %d", op)
}

func (m *Match) request(r request) error {
	select {
	case <-m.done:
		return ErrMatchClosed
	default:
	}
	select {
	case m.control <- r:
		return nil
	case <-m.done:
		return ErrMatchClosed
	}
}

// deliver 入站消息不阻塞：队列满时丢弃，保证 tick 准时
func (m *Match) deliver(c *Client, msg *protocol.Message) {
	select {
	case m.inbox <- inbound{c: c, msg: msg}:
	default:
		m.metrics.IncInboxFull()
	}
}

func (m *Match) drainControl() {
	for {
		select {
		case r := <-m.control:
			m.handle(r)
		default:
			return
		}
	}
}

func (m *Match) handle(r request) {
	switch r.kind {
	case reqJoin:
		c := r.client
		ref := m.nextRef
		m.nextRef++
		c.Team = m.pickTeam(c.Team)
		if id := m.reclaim(c); id != 0 {
			c.Entity = id
			m.ops = append(m.ops, replay.Op{Kind: replay.OpReconnect, Entity: id, Ref: ref})
		} else {
			m.ops = append(m.ops, replay.Op{Kind: replay.OpJoin, Name: c.Name, Team: c.Team, Ref: ref})
		}
		m.joining[ref] = c
	case reqLeave:
		m.drop(r.client, r.err)
	case reqControl:
		m.autoPaused = false
		m.ops = append(m.ops, replay.Op{Kind: r.op, Reason: r.reason})
	}
}

// pickTeam 非法或未指定的队伍分配到人数最少的一队
func (m *Match) pickTeam(want world.TeamID) world.TeamID {
	teams := m.state.Teams()
	if want != world.TeamNeutral && int(want) <= teams {
		return want
	}
	count := make([]int, teams+1)
	for _, e := range m.state.EntitiesOf(world.KindPlayer) {
		if !e.Flags.Has(world.FlagDisconnected) {
			count[e.Team]++
		}
	}
	for _, c := range m.joining {
		count[c.Team]++
	}
	best := world.TeamID(1)
	for t := 2; t <= teams; t++ {
		if count[t] < count[best] {
			best = world.TeamID(t)
		}
	}
	return best
}

// reclaim 同名同队的掉线实体由重连的客户端接管
func (m *Match) reclaim(c *Client) world.EntityID {
	claimed := make(map[world.EntityID]bool)
	for _, o := range m.clients {
		claimed[o.Entity] = true
	}
	for _, o := range m.joining {
		claimed[o.Entity] = true
	}
	for _, e := range m.state.EntitiesOf(world.KindPlayer) {
		if e.Name == c.Name && e.Team == c.Team && e.Flags.Has(world.FlagDisconnected) && !claimed[e.ID] {
			return e.ID
		}
	}
	return 0
}

// drop 关闭连接；已加入的玩家实体标记为掉线，比赛继续
func (m *Match) drop(c *Client, cause error) {
	c.Close()
	for ref, j := range m.joining {
		if j != c {
			continue
		}
		delete(m.joining, ref)
		kept := m.ops[:0]
		for _, op := range m.ops {
			if op.Ref != ref {
				kept = append(kept, op)
			}
		}
		m.ops = kept
		Log.Infof("match %s: %s left before joining: %v", m.ID, c, cause)
		return
	}
	if _, ok := m.clients[c.ID]; !ok {
		return
	}
	delete(m.clients, c.ID)
	Log.Infof("match %s: %s disconnected: %v", m.ID, c, cause)
	m.ops = append(m.ops, replay.Op{Kind: replay.OpDisconnect, Entity: c.Entity})
}

// drainInbox 处理本 tick 截止前到达的消息
func (m *Match) drainInbox(p Policy) {
	tick := m.state.Tick()
	for n := len(m.inbox); n > 0; n-- {
		in := <-m.inbox
		if _, ok := m.clients[in.c.ID]; !ok {
			continue
		}
		m.handleMessage(in.c, in.msg, tick, p)
	}
}

// handleMessage 所有上行消息先按序号去重，重复投递的消息只处理一次
func (m *Match) handleMessage(c *Client, msg *protocol.Message, tick uint64, p Policy) {
	c.inputs.SetWindow(p.ReorderWindow)
	dups := c.inputs.Stats().Duplicates
	if len(c.inputs.Push(msg)) == 0 {
		if c.inputs.Stats().Duplicates > dups {
			m.metrics.IncDuplicate()
			// 重传说明确认可能丢了，再确认一次
			c.ackDirty = c.ackDirty || msg.Kind == protocol.KindInput
		} else {
			Log.Debugf("match %s: %s seq %d from %s outside window", m.ID, msg.Kind, msg.Seq, c)
		}
		return
	}

	switch msg.Kind {
	case protocol.KindInput:
		c.ackDirty = true
		for _, cmd := range msg.Inputs {
			cmd.Entity = c.Entity
			v, err := m.buffer.Admit(cmd, tick, p)
			switch {
			case v == inputDeferred:
				m.metrics.IncDeferred()
			case err == nil:
				m.metrics.IncAccepted()
			case errors.Is(err, ErrStaleInput):
				m.metrics.IncStale()
				Log.Debugf("match %s: %v", m.ID, err)
			default:
				m.metrics.IncFuture()
				Log.Debugf("match %s: %v", m.ID, err)
			}
		}
	case protocol.KindAck:
		if msg.Ack.Tick > c.ackTick && msg.Ack.Tick <= tick {
			c.ackTick = msg.Ack.Tick
		}
	case protocol.KindResync:
		m.resync(c, tick, p, msg.Resync.Reason)
	case protocol.KindControl:
		if !p.AllowClientControl {
			Log.Debugf("match %s: %s control from %s ignored", m.ID, msg.Control.Op, c)
			return
		}
		kind, err := opFor(msg.Control.Op)
		if err != nil {
			Log.Debugf("match %s: %s: %v", m.ID, c, err)
			return
		}
		m.autoPaused = false
		m.ops = append(m.ops, replay.Op{Kind: kind, Reason: msg.Control.Reason})
	default:
		Log.Debugf("match %s: unexpected %s from %s", m.ID, msg.Kind, c)
	}
}

// resync 客户端无法应用增量；预算内补发全量快照，超出则重置连接
func (m *Match) resync(c *Client, tick uint64, p Policy, reason string) {
	m.metrics.IncResync()
	if c.noteResync(tick, p) {
		m.metrics.IncReset()
		err := fmt.Errorf("%w: %d resyncs within %d ticks", protocol.ErrProtocolDesync, len(c.resyncs), p.ResyncWindow)
		Log.Warnf("match %s: resetting %s: %v", m.ID, c, err)
		m.drop(c, err)
		return
	}
	Log.Warnf("match %s: %s requested resync at tick %d: %s", m.ID, c, tick, reason)
	c.snap.Force()
}

// applyDisconnectPolicy 全员掉线时按策略暂停，有人回来后恢复
func (m *Match) applyDisconnectPolicy(p Policy) {
	online := len(m.clients) + len(m.joining)
	phase := m.state.Match().Phase
	switch {
	case p.Disconnect == DisconnectPause && online == 0 && phase == world.PhaseRunning && !m.autoPaused:
		m.autoPaused = true
		m.ops = append(m.ops, replay.Op{Kind: replay.OpPause, Reason: "no players connected"})
		Log.Infof("match %s: pausing, no players connected", m.ID)
	case m.autoPaused && online > 0 && phase == world.PhasePaused:
		m.autoPaused = false
		m.ops = append(m.ops, replay.Op{Kind: replay.OpResume, Reason: "player reconnected"})
		Log.Infof("match %s: resuming", m.ID)
	}
}

// settleJoins 把加入结果通知客户端；未被应用的加入请求关闭连接
func (m *Match) settleJoins(applied []replay.Op, tick uint64) {
	for _, op := range applied {
		c, ok := m.joining[op.Ref]
		if !ok || op.Ref == 0 {
			continue
		}
		delete(m.joining, op.Ref)
		c.Entity = op.Entity
		c.snap.Force()
		m.clients[c.ID] = c
		c.send(protocol.NewWelcome(tick, protocol.Welcome{
			Entity:   c.Entity,
			Team:     c.Team,
			Rules:    m.opts.Rules,
			TickRate: m.opts.TickRate,
		}), m.ID)
		Log.Infof("match %s: %s joined as entity %d on team %d", m.ID, c, c.Entity, c.Team)
	}
	for ref, c := range m.joining {
		delete(m.joining, ref)
		Log.Warnf("match %s: join of %s rejected", m.ID, c)
		c.Close()
	}
}

func (m *Match) sortedClients() []*Client {
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// broadcast 为每个客户端计算其视野内的增量（或全量快照）并按 tick 顺序入队
func (m *Match) broadcast(events []world.Event, p Policy) {
	cur := m.state
	tick := cur.Tick()
	for _, c := range m.sortedClients() {
		if c.ackDirty {
			a := c.inputs.Ack()
			a.Tick = tick
			c.send(protocol.NewAck(tick, a), m.ID)
			c.ackDirty = false
		}
		m.sendState(c, cur, p)
		if len(events) > 0 {
			c.send(protocol.NewEvents(tick, events), m.ID)
		}
	}
}

// sendState 增量以客户端确认过的状态为基准，丢掉的增量由下一条补上；
// 基准已滑出历史时退回全量快照
func (m *Match) sendState(c *Client, cur *world.State, p Policy) {
	tick := cur.Tick()
	view := world.FogOfWar{Team: c.Team}
	var base *world.State
	if c.sentAny {
		base = m.history.get(deltaBase(c.ackTick, c.snap.Last()))
	}
	full := base == nil || c.snap.Due(protocol.SnapshotPolicy{Every: p.SnapshotEvery}, tick)

	var msg *protocol.Message
	if full {
		msg = protocol.NewSnapshot(cur.Filtered(view).Snapshot())
	} else {
		msg = protocol.NewDelta(world.Diff(base, cur, view))
	}
	ok := c.send(msg, m.ID)
	c.sentAny = true
	if !ok {
		m.metrics.IncOverflow()
		c.snap.Force()
		return
	}
	if full {
		c.snap.Sent(tick)
		m.metrics.IncSnapshot()
		return
	}
	m.metrics.IncDelta()
}

// deltaBase 确认早于最近一次全量快照时，客户端已丢弃那些状态
func deltaBase(acked, lastFull uint64) uint64 {
	if acked < lastFull {
		return lastFull
	}
	return acked
}

func (m *Match) publish() {
	s := m.state
	mt := s.Match()
	info := MatchInfo{
		ID:      m.ID,
		Tick:    s.Tick(),
		Phase:   mt.Phase.String(),
		Players: len(m.clients),
		Winner:  uint8(mt.Winner),
		Scores:  s.Scores(),
		Reason:  mt.Reason,
	}
	m.imu.Lock()
	m.info = info
	m.imu.Unlock()
}
