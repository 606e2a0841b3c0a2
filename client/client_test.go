package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonearena/fixed"
	"zonearena/protocol"
	"zonearena/replay"
	"zonearena/server"
	"zonearena/sim"
	"zonearena/world"
)

const (
	ana world.EntityID = 1
	bob world.EntityID = 2
)

// arena 两名玩家已加入且比赛开始的 tick 0 状态
func arena(t *testing.T) *world.State {
	t.Helper()
	s, err := world.New(world.Corridor(3, fixed.FromInt(100), 10, 1, 0, 2))
	require.NoError(t, err)
	for _, op := range []replay.Op{
		{Kind: replay.OpJoin, Name: "ana", Team: 1},
		{Kind: replay.OpJoin, Name: "bob", Team: 2},
		{Kind: replay.OpStart},
	} {
		op := op
		_, err := replay.Apply(s, &op)
		require.NoError(t, err)
	}
	return s
}

// authoritative 服务端视角：按 tick 逐条施加指令
func authoritative(t *testing.T, s *world.State, cmds ...sim.Command) *world.State {
	t.Helper()
	for _, c := range cmds {
		next, _, err := sim.Advance(s, []sim.Command{c}, sim.DefaultRules())
		require.NoError(t, err)
		s = next
	}
	return s
}

func posOf(t *testing.T, s *world.State, id world.EntityID) fixed.Vec {
	t.Helper()
	e, ok := s.Entity(id)
	require.True(t, ok)
	return e.Pos
}

func newPredictor(t *testing.T, base *world.State, mutate func(*Options)) *Predictor {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	p := NewPredictor(ana, sim.DefaultRules(), opts)
	_, err := p.Reconcile(base)
	require.NoError(t, err)
	return p
}

func predictN(t *testing.T, p *Predictor, n int, actions sim.ActionSet) []sim.Command {
	t.Helper()
	var out []sim.Command
	for i := 0; i < n; i++ {
		cmd, err := p.Predict(actions, 0, 0)
		require.NoError(t, err)
		out = append(out, cmd)
	}
	return out
}

func TestPredictAheadWithoutCorrection(t *testing.T) {
	s0 := arena(t)
	start := posOf(t, s0, ana)
	p := newPredictor(t, s0, nil)

	cmds := predictN(t, p, 5, sim.ActMoveRight)
	for i, c := range cmds {
		assert.Equal(t, uint64(i), c.Tick)
		assert.Equal(t, ana, c.Entity)
	}
	want := start.Add(fixed.VInt(20, 0))
	assert.Equal(t, uint64(5), p.Head().Tick())
	assert.Equal(t, want, posOf(t, p.Head(), ana))

	// 服务端对第一条指令的结果与预测一致
	c, err := p.Reconcile(authoritative(t, s0, cmds[0]))
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, c.Mode)
	assert.Zero(t, c.Divergence)
	assert.Equal(t, 4, c.Replayed)
	self, ok := p.Self()
	require.True(t, ok)
	assert.Equal(t, want, self.Pos)

	c, err = p.Reconcile(authoritative(t, s0, cmds...))
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, c.Mode)
	assert.Zero(t, p.Pending())
	assert.Equal(t, want, posOf(t, p.Head(), ana))
}

func TestSmallDivergenceIsSmoothedAndConverges(t *testing.T) {
	s0 := arena(t)
	start := posOf(t, s0, ana)
	p := newPredictor(t, s0, nil)
	cmds := predictN(t, p, 5, sim.ActMoveRight)

	// 服务端没有收到第一条输入
	lost := cmds[0]
	lost.Actions = 0
	s1 := authoritative(t, s0, lost)
	c, err := p.Reconcile(s1)
	require.NoError(t, err)
	assert.Equal(t, CorrectionSmooth, c.Mode)
	assert.Equal(t, fixed.FromInt(4), c.Divergence)

	head := start.Add(fixed.VInt(16, 0))
	assert.Equal(t, head, posOf(t, p.Head(), ana))
	self, _ := p.Self()
	assert.Equal(t, start.Add(fixed.VInt(20, 0)), self.Pos, "render starts from the old prediction")

	idle := predictN(t, p, 6, 0)
	self, _ = p.Self()
	assert.Equal(t, head, self.Pos, "offset fully absorbed after the smoothing window")

	// 服务端补齐其余输入后，预测与权威状态一致
	all := append(append([]sim.Command{}, cmds[1:]...), idle...)
	final := authoritative(t, s1, all...)
	c, err = p.Reconcile(final)
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, c.Mode)
	assert.Zero(t, p.Pending())
	assert.Equal(t, posOf(t, final, ana), posOf(t, p.Head(), ana))
}

func TestLargeDivergenceSnaps(t *testing.T) {
	s0 := arena(t)
	p := newPredictor(t, s0, nil)
	cmds := predictN(t, p, 3, sim.ActMoveRight)

	s1 := authoritative(t, s0, cmds[0])
	far := fixed.VInt(150, 20)
	require.NoError(t, s1.ApplyMovement(ana, far, fixed.Vec{}))
	c, err := p.Reconcile(s1)
	require.NoError(t, err)
	assert.Equal(t, CorrectionSnap, c.Mode)
	self, _ := p.Self()
	assert.Equal(t, far.Add(fixed.VInt(8, 0)), self.Pos)
	assert.Equal(t, posOf(t, p.Head(), ana), self.Pos)
}

func TestReconcileDependsOnlyOnBuffer(t *testing.T) {
	s0 := arena(t)
	p := newPredictor(t, s0, nil)
	cmds := predictN(t, p, 4, sim.ActMoveDown|sim.ActShoot)

	s1 := authoritative(t, s0, cmds[0])
	_, err := p.Reconcile(s1)
	require.NoError(t, err)
	first := p.Head().Hash()

	c, err := p.Reconcile(s1)
	require.NoError(t, err)
	assert.Equal(t, CorrectionNone, c.Mode)
	assert.Equal(t, first, p.Head().Hash())

	q := newPredictor(t, s0, nil)
	predictN(t, q, 4, sim.ActMoveDown|sim.ActShoot)
	_, err = q.Reconcile(s1)
	require.NoError(t, err)
	assert.Equal(t, first, q.Head().Hash())
}

func TestReconcileKeepsCommandTicks(t *testing.T) {
	s0 := arena(t)
	p := newPredictor(t, s0, nil)
	cmds := predictN(t, p, 4, sim.ActMoveRight)
	// tick 1 的帧缺失，之后的帧接不上
	p.frames = append(p.frames[:1:1], p.frames[2:]...)

	c, err := p.Reconcile(s0)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Replayed)
	require.Equal(t, 1, p.Pending())
	assert.Equal(t, cmds[0], p.frames[0].cmd)
	assert.Equal(t, uint64(1), p.Head().Tick())

	s1 := authoritative(t, s0, cmds[0])
	c, err = p.Reconcile(s1)
	require.NoError(t, err)
	assert.Zero(t, c.Replayed)
	assert.Zero(t, p.Pending())
}

func TestRemoteEntitiesAreNotSpeculated(t *testing.T) {
	s0 := arena(t)
	bobAt := posOf(t, s0, bob)
	p := newPredictor(t, s0, nil)
	predictN(t, p, 3, sim.ActMoveRight|sim.ActShoot)

	head := p.Head()
	assert.Equal(t, bobAt, posOf(t, head, bob))
	assert.Empty(t, head.EntitiesOf(world.KindProjectile))
	assert.Equal(t, s0.Match(), head.Match())
}

func TestPredictionWindowIsBounded(t *testing.T) {
	p := NewPredictor(ana, sim.DefaultRules(), DefaultOptions())
	_, err := p.Predict(sim.ActMoveLeft, 0, 0)
	assert.ErrorIs(t, err, ErrNotReady)

	p = newPredictor(t, arena(t), func(o *Options) { o.Depth = 2 })
	predictN(t, p, 2, sim.ActMoveLeft)
	_, err = p.Predict(sim.ActMoveLeft, 0, 0)
	assert.ErrorIs(t, err, ErrPredictionFull)
}

func TestInterpolatorBetweenLastTwoStates(t *testing.T) {
	s0 := arena(t)
	from := posOf(t, s0, bob)
	s1 := s0.Clone()
	s1.SetTick(1)
	require.NoError(t, s1.ApplyMovement(bob, from.Sub(fixed.VInt(8, 0)), fixed.Vec{}))

	var ip Interpolator
	ip.Push(s0)
	ip.Push(s1)
	ip.Push(s0)
	lo, hi, ok := ip.Span()
	require.True(t, ok)
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, uint64(1), hi)

	pos, ok := ip.Position(bob, 1, 2)
	require.True(t, ok)
	assert.Equal(t, from.Sub(fixed.VInt(4, 0)), pos)

	remote := ip.Remote(ana, 1, 4)
	require.Len(t, remote, 1)
	assert.Equal(t, bob, remote[0].ID)
	assert.Equal(t, from.Sub(fixed.VInt(2, 0)), remote[0].Pos)
}

// feed 模拟服务端对单个客户端的有序发送
type feed struct {
	seq *protocol.Sender
}

func newFeed() *feed { return &feed{seq: protocol.NewSender(0, 1)} }

func (f *feed) next(m *protocol.Message) *protocol.Message { return f.seq.Stamp(m) }

func joinedSession(t *testing.T, f *feed, s0 *world.State) *Session {
	t.Helper()
	sess := NewSession(DefaultOptions())
	require.NoError(t, sess.Handle(f.next(protocol.NewWelcome(0, protocol.Welcome{Entity: ana, Team: 1, Rules: sim.DefaultRules(), TickRate: 20}))))
	require.NoError(t, sess.Handle(f.next(protocol.NewSnapshot(s0.Snapshot()))))
	return sess
}

func kinds(msgs []*protocol.Message) []protocol.Kind {
	var out []protocol.Kind
	for _, m := range msgs {
		out = append(out, m.Kind)
	}
	return out
}

func TestSessionAppliesSnapshotThenDeltas(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)
	w, ok := sess.Welcome()
	require.True(t, ok)
	assert.Equal(t, ana, w.Entity)
	assert.Equal(t, uint64(0), sess.Authoritative().Tick())

	s1 := authoritative(t, s0, sim.Command{Tick: 0, Entity: bob, Actions: sim.ActMoveLeft})
	require.NoError(t, sess.Handle(f.next(protocol.NewDelta(world.Diff(s0, s1, nil)))))
	assert.Equal(t, s1.Hash(), sess.Authoritative().Hash())

	out := sess.Flush()
	require.Equal(t, []protocol.Kind{protocol.KindAck}, kinds(out))
	assert.Equal(t, uint64(1), out[0].Ack.Tick)
	assert.Empty(t, sess.Flush())
}

func TestSessionIgnoresDuplicateDelta(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)

	s1 := authoritative(t, s0, sim.Command{Tick: 0, Entity: bob, Actions: sim.ActMoveUp})
	d := f.next(protocol.NewDelta(world.Diff(s0, s1, nil)))
	require.NoError(t, sess.Handle(d))
	before := sess.Authoritative()
	require.NoError(t, sess.Handle(d))
	assert.Same(t, before, sess.Authoritative())
	assert.Equal(t, uint64(1), sess.Stats().Deltas)
}

func TestSessionRequestsResyncOnBaseGap(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)
	sess.Flush()

	s1 := authoritative(t, s0, sim.Command{Tick: 0, Entity: bob, Actions: sim.ActMoveUp})
	s2 := authoritative(t, s1, sim.Command{Tick: 1, Entity: bob, Actions: sim.ActMoveUp})
	err := sess.Handle(f.next(protocol.NewDelta(world.Diff(s1, s2, nil))))
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrProtocolDesync))
	assert.True(t, errors.Is(err, world.ErrDeltaBase))

	out := sess.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, protocol.KindResync, out[0].Kind)
	assert.Equal(t, uint64(0), out[0].Resync.HaveTick)

	// 等待快照期间的增量不再触发重同步
	s3 := authoritative(t, s2, sim.Command{Tick: 2, Entity: bob})
	require.NoError(t, sess.Handle(f.next(protocol.NewDelta(world.Diff(s2, s3, nil)))))
	assert.Empty(t, sess.Flush())

	require.NoError(t, sess.Handle(f.next(protocol.NewSnapshot(s3.Snapshot()))))
	assert.Equal(t, uint64(3), sess.Authoritative().Tick())
	assert.Equal(t, uint64(1), sess.Stats().Desyncs)
}

func TestSessionRecoversLostDeltaFromAckedBase(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)
	sess.Flush()

	s1 := authoritative(t, s0, sim.Command{Tick: 0, Entity: bob, Actions: sim.ActMoveUp})
	f.next(protocol.NewDelta(world.Diff(s0, s1, nil))) // 丢失
	// 服务端只收到过 tick 0 的确认，下一条增量仍以它为基准
	s2 := authoritative(t, s1, sim.Command{Tick: 1, Entity: bob, Actions: sim.ActMoveUp})
	require.NoError(t, sess.Handle(f.next(protocol.NewDelta(world.Diff(s0, s2, nil)))))
	assert.Equal(t, s2.Hash(), sess.Authoritative().Hash())
	assert.Zero(t, sess.Stats().Desyncs)

	out := sess.Flush()
	require.Equal(t, []protocol.Kind{protocol.KindAck}, kinds(out))
	assert.Equal(t, uint64(2), out[0].Ack.Tick)

	// 确认到达之前的增量基准可以早于最新状态
	s3 := authoritative(t, s2, sim.Command{Tick: 2, Entity: bob})
	require.NoError(t, sess.Handle(f.next(protocol.NewDelta(world.Diff(s0, s3, nil)))))
	assert.Equal(t, s3.Hash(), sess.Authoritative().Hash())
	assert.Equal(t, uint64(2), sess.Stats().Deltas)
	assert.Zero(t, sess.Stats().Desyncs)
}

func TestSessionSnapshotSkipsMissingSeq(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)

	s1 := authoritative(t, s0, sim.Command{Tick: 0, Entity: bob})
	f.next(protocol.NewDelta(world.Diff(s0, s1, nil))) // 丢失
	s2 := authoritative(t, s1, sim.Command{Tick: 1, Entity: bob})
	require.NoError(t, sess.Handle(f.next(protocol.NewSnapshot(s2.Snapshot()))))
	assert.Equal(t, uint64(2), sess.Authoritative().Tick())
}

func TestSessionRetransmitsUntilAcked(t *testing.T) {
	s0 := arena(t)
	f := newFeed()
	sess := joinedSession(t, f, s0)

	now := time.Now()
	m, err := sess.Input(sim.ActMoveRight, 0, 0, now)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindInput, m.Kind)
	assert.Equal(t, uint64(0), m.Tick)
	require.Len(t, m.Inputs, 1)
	assert.Equal(t, ana, m.Inputs[0].Entity)

	assert.Empty(t, sess.Retransmit(now))
	again := sess.Retransmit(now.Add(time.Second))
	require.Len(t, again, 1)
	assert.Equal(t, m.Seq, again[0].Seq)

	var ack protocol.AckState
	ack.Record(m.Seq)
	require.NoError(t, sess.Handle(f.next(protocol.NewAck(1, ack.Ack()))))
	assert.Empty(t, sess.PendingInputs())
	assert.Equal(t, uint64(1), sess.Stats().AckedInputs)
}

func TestSessionInputBeforeWelcome(t *testing.T) {
	sess := NewSession(DefaultOptions())
	hello := sess.Hello()
	assert.Equal(t, protocol.KindHello, hello.Kind)
	assert.Equal(t, uint64(1), hello.Seq)
	_, err := sess.Input(sim.ActMoveLeft, 0, 0, time.Now())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestClientPlaysAgainstServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := server.DefaultOptions()
	opts.TickRate = 50
	opts.Map = world.Corridor(3, fixed.FromInt(100), 5, 1, 0, 2)
	mgr := server.NewManager(ctx, opts)
	defer mgr.Shutdown()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", mgr.HandleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	copts := DefaultOptions()
	copts.Name = "ana"
	c, err := Connect(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?codec=binary", copts)
	require.NoError(t, err)
	defer c.Close()

	go func() {
		_ = c.Run(ctx, func(*Session) (sim.ActionSet, int8, int8) { return sim.ActMoveDown, 0, 0 })
	}()

	require.Eventually(t, func() bool {
		_, ok := c.Session.Welcome()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	w, _ := c.Session.Welcome()

	require.Eventually(t, func() bool {
		auth := c.Session.Authoritative()
		if auth == nil {
			return false
		}
		e, ok := auth.Entity(w.Entity)
		return ok && e.Pos.Y > fixed.FromInt(60)
	}, 5*time.Second, 10*time.Millisecond, "server applies the client's inputs")
	assert.Greater(t, c.Session.Stats().AckedInputs, uint64(0))
	assert.Zero(t, c.Session.Stats().Desyncs)
}

func TestScriptLoops(t *testing.T) {
	sc, err := ParseScript("right*2, down+shoot, none")
	require.NoError(t, err)
	var got []sim.ActionSet
	for i := 0; i < 6; i++ {
		got = append(got, sc.Next())
	}
	assert.Equal(t, []sim.ActionSet{
		sim.ActMoveRight, sim.ActMoveRight, sim.ActMoveDown | sim.ActShoot, 0,
		sim.ActMoveRight, sim.ActMoveRight,
	}, got)

	for _, bad := range []string{"", "fly*3", "left*0", "left*x"} {
		_, err := ParseScript(bad)
		assert.Error(t, err, bad)
	}
}
