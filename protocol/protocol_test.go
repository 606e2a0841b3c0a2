package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"zonearena/fixed"
	"zonearena/sim"
	"zonearena/world"
)

func sampleState(t *testing.T) *world.State {
	t.Helper()
	s, err := world.New(world.Corridor(3, fixed.FromInt(100), 10, 1, 0, 2))
	require.NoError(t, err)
	_, err = s.SpawnEntity(world.Entity{Kind: world.KindPlayer, Name: "ana", Team: 1, Flags: world.FlagAlive, Pos: fixed.VInt(50, 50), Vel: fixed.VInt(-1, 2)})
	require.NoError(t, err)
	_, err = s.SpawnEntity(world.Entity{Kind: world.KindProjectile, Team: 1, Owner: 1, Pos: fixed.VInt(70, 50), Timer: 4})
	require.NoError(t, err)
	require.NoError(t, s.SetZoneCapture(1, 1, 3))
	require.NoError(t, s.AddScore(2, -3))
	s.SetTriggers([]world.TriggerState{{Kind: 1, Active: true}, {Kind: 4, Pending: -1}})
	require.NoError(t, s.SetMatch(world.Match{Phase: world.PhaseRunning, StartTick: 2}))
	return s
}

func codecs() map[string]Codec {
	return map[string]Codec{"binary": Binary{}, "json": JSON{}}
}

func TestSnapshotSurvivesCodecs(t *testing.T) {
	s := sampleState(t)
	for name, c := range codecs() {
		t.Run(name, func(t *testing.T) {
			m := NewSnapshot(s.Snapshot())
			m.Seq = 9
			m.Match = "m1"
			b, err := c.Encode(m)
			require.NoError(t, err)
			got, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, m.Header, got.Header)

			r, err := world.FromSnapshot(*got.Snapshot)
			require.NoError(t, err)
			assert.Equal(t, s.Hash(), r.Hash())
		})
	}
}

func TestDeltaSurvivesCodecs(t *testing.T) {
	before := sampleState(t)
	after := before.Clone()
	after.StepTick()
	require.NoError(t, after.ApplyMovement(1, fixed.VInt(150, 60), fixed.VInt(3, 0)))
	require.NoError(t, after.RemoveEntity(2))
	require.NoError(t, after.SetZoneOwner(2, 1))
	d := world.Diff(before, after, nil)

	for name, c := range codecs() {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(NewDelta(d))
			require.NoError(t, err)
			got, err := c.Decode(b)
			require.NoError(t, err)
			applied, err := world.ApplyDelta(before, *got.Delta)
			require.NoError(t, err)
			assert.Equal(t, after.Hash(), applied.Hash())
		})
	}
}

func TestSmallMessagesSurviveCodecs(t *testing.T) {
	msgs := []*Message{
		NewInput(7, sim.Command{Tick: 7, Entity: 3, Seq: 2, Actions: sim.ActMoveLeft | sim.ActShoot, AimX: -1, AimY: 1}),
		NewAck(5, Ack{Latest: 40, Bits: 1<<63 | 5, Tick: 5}),
		NewControl(3, ControlPause, "admin"),
		NewHello("bob", 2),
		NewWelcome(1, Welcome{Entity: 4, Team: 2, Rules: sim.DefaultRules(), TickRate: 20}),
		NewResync(8, 4, "gap"),
		NewEvents(6, []world.Event{{Tick: 6, Kind: world.EventZoneCaptured, Zone: 2, Team: 1, Detail: "x"}}),
	}
	for name, c := range codecs() {
		for _, m := range msgs {
			m.Seq = 11
			b, err := c.Encode(m)
			require.NoError(t, err, "%s %s", name, m.Kind)
			got, err := c.Decode(b)
			require.NoError(t, err, "%s %s", name, m.Kind)
			assert.Equal(t, m, got, "%s %s", name, m.Kind)
		}
	}
}

func TestBinarySkipsUnknownFields(t *testing.T) {
	b, err := Binary{}.Encode(NewControl(3, ControlEnd, ""))
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from the future")
	b = protowire.AppendTag(b, 98, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	got, err := Binary{}.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, ControlEnd, got.Control.Op)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	m := NewControl(1, ControlStart, "")
	m.Version = 2
	_, err := Binary{}.Encode(m)
	assert.True(t, errors.Is(err, ErrVersion))

	var e enc
	e.uint(1, 2)
	e.uint(2, uint64(KindAck))
	_, err = Binary{}.Decode(e.b)
	assert.True(t, errors.Is(err, ErrVersion))

	_, err = Binary{}.Decode([]byte{0x08})
	assert.True(t, errors.Is(err, ErrMalformed))

	e = enc{}
	e.uint(1, uint64(Version))
	e.uint(2, 200)
	_, err = Binary{}.Decode(e.b)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = JSON{}.Decode([]byte(`{"t":"ack","h":{"v":1,"kind":4}}`))
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = JSON{}.Decode(nil)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func seqMsg(seq uint64) *Message {
	m := NewControl(seq, ControlStart, "")
	m.Seq = seq
	return m
}

func seqs(ms []*Message) []uint64 {
	var out []uint64
	for _, m := range ms {
		out = append(out, m.Seq)
	}
	return out
}

func TestReceiverReordersWithinWindow(t *testing.T) {
	r := NewReceiver(4, true)
	assert.Equal(t, []uint64{1}, seqs(r.Push(seqMsg(1))))
	assert.Empty(t, r.Push(seqMsg(3)))
	assert.Empty(t, r.Push(seqMsg(4)))
	assert.True(t, r.Waiting())
	assert.Equal(t, []uint64{2, 3, 4}, seqs(r.Push(seqMsg(2))))
	assert.False(t, r.Waiting())
}

func TestReceiverDiscardsDuplicates(t *testing.T) {
	r := NewReceiver(4, true)
	r.Push(seqMsg(1))
	r.Push(seqMsg(3))
	assert.Empty(t, r.Push(seqMsg(1)))
	assert.Empty(t, r.Push(seqMsg(3)))
	st := r.Stats()
	assert.Equal(t, uint64(2), st.Duplicates)
	assert.Equal(t, uint64(1), st.Delivered)
}

func TestReceiverDropsMessagesOlderThanWindow(t *testing.T) {
	r := NewReceiver(3, true)
	r.Push(seqMsg(1))
	assert.Empty(t, r.Push(seqMsg(4)))
	assert.Empty(t, r.Push(seqMsg(5)))
	// 2、3 丢失，6 迫使窗口前移
	assert.Equal(t, []uint64{4, 5, 6}, seqs(r.Push(seqMsg(6))))
	// 迟到的 2 已在窗口之外
	assert.Empty(t, r.Push(seqMsg(2)))
	st := r.Stats()
	assert.Equal(t, uint64(3), st.Lost, "2 and 3 skipped, late 2 dropped")
}

func TestReceiverSkip(t *testing.T) {
	r := NewReceiver(8, true)
	r.Push(seqMsg(1))
	r.Push(seqMsg(4))
	r.Push(seqMsg(5))
	assert.Equal(t, []uint64{4, 5}, seqs(r.Skip()))
	assert.Nil(t, r.Skip())
}

func TestUnorderedReceiverDeliversImmediately(t *testing.T) {
	r := NewReceiver(16, false)
	assert.Len(t, r.Push(seqMsg(3)), 1)
	assert.Len(t, r.Push(seqMsg(1)), 1)
	assert.Empty(t, r.Push(seqMsg(3)))
	a := r.Ack()
	assert.True(t, a.Covers(1))
	assert.False(t, a.Covers(2))
	assert.True(t, a.Covers(3))
}

func TestReceiverWindowCanChange(t *testing.T) {
	r := NewReceiver(2, false)
	r.Push(seqMsg(10))
	assert.Empty(t, r.Push(seqMsg(7)))
	r.SetWindow(8)
	assert.Len(t, r.Push(seqMsg(6)), 1)
	r.SetWindow(1000)
	assert.Len(t, r.Push(seqMsg(2)), 1)
	r.SetWindow(0)
	assert.Empty(t, r.Push(seqMsg(9)))
	assert.Equal(t, uint64(2), r.Stats().Lost)
}

func TestAckStateBitmap(t *testing.T) {
	var a AckState
	assert.True(t, a.Record(1))
	assert.True(t, a.Record(2))
	assert.True(t, a.Record(5))
	assert.False(t, a.Record(2))
	ack := a.Ack()
	assert.Equal(t, uint64(5), ack.Latest)
	for seq, want := range map[uint64]bool{1: true, 2: true, 3: false, 4: false, 5: true, 6: false} {
		assert.Equal(t, want, ack.Covers(seq), "seq %d", seq)
	}
	assert.True(t, a.Record(70))
	assert.False(t, a.Ack().Covers(5))
	assert.True(t, a.Ack().Covers(70))
}

func TestSenderRetransmitsUntilAcked(t *testing.T) {
	s := NewSender(100*time.Millisecond, 8)
	t0 := time.Unix(0, 0)
	for i := uint64(1); i <= 3; i++ {
		m := s.Stamp(NewInput(i, sim.Command{Tick: i, Entity: 1}))
		s.Track(m, t0)
	}
	s.Track(s.Stamp(NewControl(4, ControlStart, "")), t0)
	assert.Equal(t, []uint64{1, 2, 3}, s.Pending())

	assert.Empty(t, s.Unacked(t0.Add(50*time.Millisecond)))
	assert.Equal(t, 2, s.Ack(Ack{Latest: 3, Bits: 0b10}))
	assert.Equal(t, []uint64{2}, s.Pending())

	due := s.Unacked(t0.Add(150 * time.Millisecond))
	require.Len(t, due, 1)
	assert.Equal(t, uint64(2), due[0].Seq)
	assert.Empty(t, s.Unacked(t0.Add(200*time.Millisecond)))
	assert.Equal(t, uint64(1), s.Resent())
}

func TestSenderBoundsOutstanding(t *testing.T) {
	s := NewSender(time.Second, 2)
	for i := uint64(1); i <= 4; i++ {
		s.Track(s.Stamp(NewInput(i, sim.Command{Tick: i, Entity: 1})), time.Time{})
	}
	assert.Equal(t, []uint64{3, 4}, s.Pending())
}

func TestSnapshotPolicy(t *testing.T) {
	p := SnapshotPolicy{Every: 10}
	assert.False(t, p.Due(9, 0))
	assert.True(t, p.Due(10, 0))
	assert.False(t, SnapshotPolicy{}.Due(1000, 0))

	var s SnapshotState
	s.Sent(20)
	assert.False(t, s.Due(p, 25))
	s.Force()
	assert.True(t, s.Forced())
	assert.True(t, s.Due(p, 25))
	s.Sent(25)
	assert.Equal(t, uint64(25), s.Last())
	assert.False(t, s.Due(p, 26))
	assert.True(t, s.Due(p, 35))
}

func TestControlOpNames(t *testing.T) {
	for op := ControlStart; op <= ControlEnd; op++ {
		got, err := ParseControlOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseControlOp("explode")
	assert.Error(t, err)
}
