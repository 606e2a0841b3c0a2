package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"zonearena/fixed"
	"zonearena/sim"
	"zonearena/world"
)

// Codec 消息编解码
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
	// Binary 是否以二进制帧传输
	Binary() bool
}

// CodecFor 按名称选择编码：json 或默认的二进制
func CodecFor(name string) Codec {
	if name == "json" {
		return JSON{}
	}
	return Binary{}
}

// Binary protobuf 线格式（tag-length-value）。未知字段跳过，便于向前兼容
type Binary struct{}

func (Binary) Binary() bool { return true }

func (Binary) Encode(m *Message) ([]byte, error) {
	if err := m.Check(); err != nil {
		return nil, err
	}
	var e enc
	e.uint(1, uint64(m.Version))
	e.uint(2, uint64(m.Kind))
	e.uint(3, m.Seq)
	e.uint(4, m.Tick)
	e.str(5, m.Match)
	for _, c := range m.Inputs {
		c := c
		e.msg(10, func(e *enc) { encCommand(e, c) })
	}
	if m.Delta != nil {
		e.msg(11, func(e *enc) { encDelta(e, m.Delta) })
	}
	if m.Snapshot != nil {
		e.msg(12, func(e *enc) { encSnapshot(e, m.Snapshot) })
	}
	if a := m.Ack; a != nil {
		e.msg(13, func(e *enc) {
			e.uint(1, a.Latest)
			e.fixed64(2, a.Bits)
			e.uint(3, a.Tick)
		})
	}
	if c := m.Control; c != nil {
		e.msg(14, func(e *enc) {
			e.uint(1, uint64(c.Op))
			e.str(2, c.Reason)
		})
	}
	if h := m.Hello; h != nil {
		e.msg(15, func(e *enc) {
			e.str(1, h.Name)
			e.uint(2, uint64(h.Team))
		})
	}
	if w := m.Welcome; w != nil {
		e.msg(16, func(e *enc) {
			e.uint(1, uint64(w.Entity))
			e.uint(2, uint64(w.Team))
			e.msg(3, func(e *enc) { encRules(e, w.Rules) })
			e.uint(4, uint64(w.TickRate))
		})
	}
	if r := m.Resync; r != nil {
		e.msg(17, func(e *enc) {
			e.uint(1, r.HaveTick)
			e.str(2, r.Reason)
		})
	}
	for _, ev := range m.Events {
		ev := ev
		e.msg(18, func(e *enc) { encEvent(e, ev) })
	}
	return e.b, nil
}

func (Binary) Decode(b []byte) (*Message, error) {
	m := &Message{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = uint8(f.v)
		case 2:
			m.Kind = Kind(f.v)
		case 3:
			m.Seq = f.v
		case 4:
			m.Tick = f.v
		case 5:
			m.Match = string(f.raw)
		case 10:
			c, err := decCommand(f.raw)
			if err != nil {
				return err
			}
			m.Inputs = append(m.Inputs, c)
		case 11:
			d, err := decDelta(f.raw)
			if err != nil {
				return err
			}
			m.Delta = &d
		case 12:
			s, err := decSnapshot(f.raw)
			if err != nil {
				return err
			}
			m.Snapshot = &s
		case 13:
			a := &Ack{}
			m.Ack = a
			return walk(f.raw, func(f field) error {
				switch f.num {
				case 1:
					a.Latest = f.v
				case 2:
					a.Bits = f.v
				case 3:
					a.Tick = f.v
				}
				return nil
			})
		case 14:
			c := &Control{}
			m.Control = c
			return walk(f.raw, func(f field) error {
				switch f.num {
				case 1:
					c.Op = ControlOp(f.v)
				case 2:
					c.Reason = string(f.raw)
				}
				return nil
			})
		case 15:
			h := &Hello{}
			m.Hello = h
			return walk(f.raw, func(f field) error {
				switch f.num {
				case 1:
					h.Name = string(f.raw)
				case 2:
					h.Team = world.TeamID(f.v)
				}
				return nil
			})
		case 16:
			w := &Welcome{}
			m.Welcome = w
			return walk(f.raw, func(f field) error {
				switch f.num {
				case 1:
					w.Entity = world.EntityID(f.v)
				case 2:
					w.Team = world.TeamID(f.v)
				case 3:
					r, err := decRules(f.raw)
					w.Rules = r
					return err
				case 4:
					w.TickRate = int(f.v)
				}
				return nil
			})
		case 17:
			r := &Resync{}
			m.Resync = r
			return walk(f.raw, func(f field) error {
				switch f.num {
				case 1:
					r.HaveTick = f.v
				case 2:
					r.Reason = string(f.raw)
				}
				return nil
			})
		case 18:
			ev, err := decEvent(f.raw)
			if err != nil {
				return err
			}
			m.Events = append(m.Events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

type enc struct{ b []byte }

func (e *enc) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *enc) sint(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeZigZag(v))
}

func (e *enc) fixed64(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed64Type)
	e.b = protowire.AppendFixed64(e.b, v)
}

func (e *enc) boolean(num protowire.Number, v bool) {
	if v {
		e.uint(num, 1)
	}
}

func (e *enc) str(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

// msg 嵌套消息总是写出（即使为空），以保留“存在”语义
func (e *enc) msg(num protowire.Number, fn func(*enc)) {
	var sub enc
	fn(&sub)
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, sub.b)
}

// packed 打包的 varint 序列
func (e *enc) packed(num protowire.Number, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var buf []byte
	for _, v := range vs {
		buf = protowire.AppendVarint(buf, v)
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, buf)
}

func (e *enc) vec(num protowire.Number, v fixed.Vec) {
	e.msg(num, func(e *enc) {
		e.sint(1, int64(v.X))
		e.sint(2, int64(v.Y))
	})
}

type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	raw []byte
}

// walk 逐字段遍历；未知线类型按规范跳过
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func unpack(raw []byte) ([]uint64, error) {
	var out []uint64
	for len(raw) > 0 {
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed: %v", ErrMalformed, protowire.ParseError(n))
		}
		out = append(out, v)
		raw = raw[n:]
	}
	return out, nil
}

func zigzag(v uint64) int64 { return protowire.DecodeZigZag(v) }

func decVec(raw []byte) (fixed.Vec, error) {
	var v fixed.Vec
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			v.X = fixed.Fixed(zigzag(f.v))
		case 2:
			v.Y = fixed.Fixed(zigzag(f.v))
		}
		return nil
	})
	return v, err
}

func encCommand(e *enc, c sim.Command) {
	e.uint(1, c.Tick)
	e.uint(2, uint64(c.Entity))
	e.uint(3, c.Seq)
	e.uint(4, uint64(c.Actions))
	e.sint(5, int64(c.AimX))
	e.sint(6, int64(c.AimY))
}

func decCommand(raw []byte) (sim.Command, error) {
	var c sim.Command
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			c.Tick = f.v
		case 2:
			c.Entity = world.EntityID(f.v)
		case 3:
			c.Seq = f.v
		case 4:
			c.Actions = sim.ActionSet(f.v)
		case 5:
			c.AimX = int8(zigzag(f.v))
		case 6:
			c.AimY = int8(zigzag(f.v))
		}
		return nil
	})
	return c, err
}

func encEntity(e *enc, x world.Entity) {
	e.uint(1, uint64(x.ID))
	e.uint(2, uint64(x.Kind))
	e.str(3, x.Name)
	e.vec(4, x.Pos)
	e.vec(5, x.Vel)
	e.vec(6, x.Facing)
	e.uint(7, uint64(x.Team))
	e.uint(8, uint64(x.Flags))
	e.uint(9, uint64(x.Upgrade))
	e.uint(10, uint64(x.Owner))
	e.uint(11, uint64(x.Zone))
	e.uint(12, uint64(x.Cooldown))
	e.uint(13, uint64(x.Dash))
	e.uint(14, uint64(x.Timer))
	e.uint(15, uint64(x.Shield))
}

func decEntity(raw []byte) (world.Entity, error) {
	var x world.Entity
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			x.ID = world.EntityID(f.v)
		case 2:
			x.Kind = world.Kind(f.v)
		case 3:
			x.Name = string(f.raw)
		case 4:
			x.Pos, err = decVec(f.raw)
		case 5:
			x.Vel, err = decVec(f.raw)
		case 6:
			x.Facing, err = decVec(f.raw)
		case 7:
			x.Team = world.TeamID(f.v)
		case 8:
			x.Flags = world.Flags(f.v)
		case 9:
			x.Upgrade = world.Upgrade(f.v)
		case 10:
			x.Owner = world.EntityID(f.v)
		case 11:
			x.Zone = world.ZoneID(f.v)
		case 12:
			x.Cooldown = uint16(f.v)
		case 13:
			x.Dash = uint16(f.v)
		case 14:
			x.Timer = uint16(f.v)
		case 15:
			x.Shield = uint16(f.v)
		}
		return err
	})
	return x, err
}

func encZone(e *enc, z world.Zone) {
	e.uint(1, uint64(z.ID))
	e.vec(2, z.Min)
	e.vec(3, z.Max)
	e.uint(4, uint64(z.Owner))
	e.uint(5, uint64(z.Capturer))
	e.sint(6, int64(z.Progress))
	adj := make([]uint64, len(z.Adjacent))
	for i, a := range z.Adjacent {
		adj[i] = uint64(a)
	}
	e.packed(7, adj)
	occ := make([]uint64, len(z.Occupants))
	for i, o := range z.Occupants {
		occ[i] = uint64(o)
	}
	e.packed(8, occ)
}

func decZone(raw []byte) (world.Zone, error) {
	var z world.Zone
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			z.ID = world.ZoneID(f.v)
		case 2:
			z.Min, err = decVec(f.raw)
		case 3:
			z.Max, err = decVec(f.raw)
		case 4:
			z.Owner = world.TeamID(f.v)
		case 5:
			z.Capturer = world.TeamID(f.v)
		case 6:
			z.Progress = int32(zigzag(f.v))
		case 7:
			var vs []uint64
			vs, err = unpack(f.raw)
			for _, v := range vs {
				z.Adjacent = append(z.Adjacent, world.ZoneID(v))
			}
		case 8:
			var vs []uint64
			vs, err = unpack(f.raw)
			for _, v := range vs {
				z.Occupants = append(z.Occupants, world.EntityID(v))
			}
		}
		return err
	})
	return z, err
}

func encZoneState(e *enc, z world.ZoneState) {
	e.uint(1, uint64(z.ID))
	e.uint(2, uint64(z.Owner))
	e.uint(3, uint64(z.Capturer))
	e.sint(4, int64(z.Progress))
}

func decZoneState(raw []byte) (world.ZoneState, error) {
	var z world.ZoneState
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			z.ID = world.ZoneID(f.v)
		case 2:
			z.Owner = world.TeamID(f.v)
		case 3:
			z.Capturer = world.TeamID(f.v)
		case 4:
			z.Progress = int32(zigzag(f.v))
		}
		return nil
	})
	return z, err
}

func encMatch(e *enc, m world.Match) {
	e.uint(1, uint64(m.Phase))
	e.uint(2, m.StartTick)
	e.uint(3, m.EndTick)
	e.uint(4, uint64(m.Winner))
	e.str(5, m.Reason)
	e.uint(6, m.PausedTicks)
}

func decMatch(raw []byte) (world.Match, error) {
	var m world.Match
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			m.Phase = world.Phase(f.v)
		case 2:
			m.StartTick = f.v
		case 3:
			m.EndTick = f.v
		case 4:
			m.Winner = world.TeamID(f.v)
		case 5:
			m.Reason = string(f.raw)
		case 6:
			m.PausedTicks = f.v
		}
		return nil
	})
	return m, err
}

func encTrigger(e *enc, t world.TriggerState) {
	e.uint(1, uint64(t.Kind))
	e.boolean(2, t.Active)
	e.sint(3, int64(t.Pending))
}

func decTrigger(raw []byte) (world.TriggerState, error) {
	var t world.TriggerState
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			t.Kind = uint8(f.v)
		case 2:
			t.Active = f.v != 0
		case 3:
			t.Pending = int8(zigzag(f.v))
		}
		return nil
	})
	return t, err
}

func encScores(e *enc, num protowire.Number, scores []int64) {
	vs := make([]uint64, len(scores))
	for i, s := range scores {
		vs[i] = protowire.EncodeZigZag(s)
	}
	e.packed(num, vs)
}

func decScores(raw []byte) ([]int64, error) {
	vs, err := unpack(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = zigzag(v)
	}
	return out, nil
}

func encDelta(e *enc, d *world.Delta) {
	e.uint(1, d.BaseTick)
	e.uint(2, d.Tick)
	e.uint(3, uint64(d.NextID))
	for _, x := range d.Upserts {
		x := x
		e.msg(4, func(e *enc) { encEntity(e, x) })
	}
	removed := make([]uint64, len(d.Removed))
	for i, id := range d.Removed {
		removed[i] = uint64(id)
	}
	e.packed(5, removed)
	for _, z := range d.Zones {
		z := z
		e.msg(6, func(e *enc) { encZoneState(e, z) })
	}
	e.msg(7, func(e *enc) { encMatch(e, d.Match) })
	encScores(e, 8, d.Scores)
	for _, t := range d.Triggers {
		t := t
		e.msg(9, func(e *enc) { encTrigger(e, t) })
	}
}

func decDelta(raw []byte) (world.Delta, error) {
	var d world.Delta
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			d.BaseTick = f.v
		case 2:
			d.Tick = f.v
		case 3:
			d.NextID = world.EntityID(f.v)
		case 4:
			x, err := decEntity(f.raw)
			if err != nil {
				return err
			}
			d.Upserts = append(d.Upserts, x)
		case 5:
			vs, err := unpack(f.raw)
			if err != nil {
				return err
			}
			for _, v := range vs {
				d.Removed = append(d.Removed, world.EntityID(v))
			}
		case 6:
			z, err := decZoneState(f.raw)
			if err != nil {
				return err
			}
			d.Zones = append(d.Zones, z)
		case 7:
			m, err := decMatch(f.raw)
			if err != nil {
				return err
			}
			d.Match = m
		case 8:
			s, err := decScores(f.raw)
			if err != nil {
				return err
			}
			d.Scores = s
		case 9:
			t, err := decTrigger(f.raw)
			if err != nil {
				return err
			}
			d.Triggers = append(d.Triggers, t)
		}
		return nil
	})
	return d, err
}

func encSnapshot(e *enc, s *world.Snapshot) {
	e.uint(1, s.Tick)
	e.sint(2, int64(s.Width))
	e.sint(3, int64(s.Height))
	e.uint(4, uint64(s.Teams))
	e.sint(5, int64(s.Threshold))
	e.uint(6, uint64(s.NextID))
	for _, x := range s.Entities {
		x := x
		e.msg(7, func(e *enc) { encEntity(e, x) })
	}
	for _, z := range s.Zones {
		z := z
		e.msg(8, func(e *enc) { encZone(e, z) })
	}
	for _, v := range s.Spawns {
		e.vec(9, v)
	}
	e.msg(10, func(e *enc) { encMatch(e, s.Match) })
	encScores(e, 11, s.Scores)
	for _, t := range s.Triggers {
		t := t
		e.msg(12, func(e *enc) { encTrigger(e, t) })
	}
}

func decSnapshot(raw []byte) (world.Snapshot, error) {
	var s world.Snapshot
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			s.Tick = f.v
		case 2:
			s.Width = fixed.Fixed(zigzag(f.v))
		case 3:
			s.Height = fixed.Fixed(zigzag(f.v))
		case 4:
			s.Teams = uint8(f.v)
		case 5:
			s.Threshold = int32(zigzag(f.v))
		case 6:
			s.NextID = world.EntityID(f.v)
		case 7:
			x, err := decEntity(f.raw)
			if err != nil {
				return err
			}
			s.Entities = append(s.Entities, x)
		case 8:
			z, err := decZone(f.raw)
			if err != nil {
				return err
			}
			s.Zones = append(s.Zones, z)
		case 9:
			v, err := decVec(f.raw)
			if err != nil {
				return err
			}
			s.Spawns = append(s.Spawns, v)
		case 10:
			m, err := decMatch(f.raw)
			if err != nil {
				return err
			}
			s.Match = m
		case 11:
			sc, err := decScores(f.raw)
			if err != nil {
				return err
			}
			s.Scores = sc
		case 12:
			t, err := decTrigger(f.raw)
			if err != nil {
				return err
			}
			s.Triggers = append(s.Triggers, t)
		}
		return nil
	})
	return s, err
}

func encEvent(e *enc, ev world.Event) {
	e.uint(1, ev.Tick)
	e.uint(2, uint64(ev.Kind))
	e.uint(3, uint64(ev.Zone))
	e.uint(4, uint64(ev.Team))
	e.uint(5, uint64(ev.Entity))
	e.uint(6, uint64(ev.Other))
	e.str(7, ev.Detail)
}

func decEvent(raw []byte) (world.Event, error) {
	var ev world.Event
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			ev.Tick = f.v
		case 2:
			ev.Kind = world.EventKind(f.v)
		case 3:
			ev.Zone = world.ZoneID(f.v)
		case 4:
			ev.Team = world.TeamID(f.v)
		case 5:
			ev.Entity = world.EntityID(f.v)
		case 6:
			ev.Other = uint32(f.v)
		case 7:
			ev.Detail = string(f.raw)
		}
		return nil
	})
	return ev, err
}

func encRules(e *enc, r sim.Rules) {
	e.sint(1, int64(r.PlayerSpeed))
	e.sint(2, int64(r.SpeedBoost))
	e.sint(3, int64(r.DashSpeed))
	e.uint(4, uint64(r.DashCooldown))
	e.sint(5, int64(r.ProjectileSpeed))
	e.uint(6, uint64(r.ProjectileTTL))
	e.uint(7, uint64(r.ShootCooldown))
	e.uint(8, uint64(r.RapidCooldown))
	e.sint(9, int64(r.PlayerRadius))
	e.sint(10, int64(r.ProjectileRadius))
	e.sint(11, int64(r.PickupRadius))
	e.uint(12, uint64(r.RespawnTicks))
	e.uint(13, uint64(r.ShieldTicks))
	e.uint(14, uint64(r.UpgradeTicks))
}

func decRules(raw []byte) (sim.Rules, error) {
	var r sim.Rules
	err := walk(raw, func(f field) error {
		switch f.num {
		case 1:
			r.PlayerSpeed = fixed.Fixed(zigzag(f.v))
		case 2:
			r.SpeedBoost = fixed.Fixed(zigzag(f.v))
		case 3:
			r.DashSpeed = fixed.Fixed(zigzag(f.v))
		case 4:
			r.DashCooldown = uint16(f.v)
		case 5:
			r.ProjectileSpeed = fixed.Fixed(zigzag(f.v))
		case 6:
			r.ProjectileTTL = uint16(f.v)
		case 7:
			r.ShootCooldown = uint16(f.v)
		case 8:
			r.RapidCooldown = uint16(f.v)
		case 9:
			r.PlayerRadius = fixed.Fixed(zigzag(f.v))
		case 10:
			r.ProjectileRadius = fixed.Fixed(zigzag(f.v))
		case 11:
			r.PickupRadius = fixed.Fixed(zigzag(f.v))
		case 12:
			r.RespawnTicks = uint16(f.v)
		case 13:
			r.ShieldTicks = uint16(f.v)
		case 14:
			r.UpgradeTicks = uint16(f.v)
		}
		return nil
	})
	return r, err
}
