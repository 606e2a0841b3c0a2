package replay

import (
	"fmt"

	"zonearena/fixed"
	"zonearena/sim"
	"zonearena/trigger"
	"zonearena/world"
)

// OpKind 同步层在模拟之外对世界做的修改
type OpKind uint8

const (
	OpJoin OpKind = iota + 1
	OpDisconnect
	OpReconnect
	OpLeave
	OpStart
	OpPause
	OpResume
	OpEnd
)

var opNames = map[OpKind]string{
	OpJoin:       "join",
	OpDisconnect: "disconnect",
	OpReconnect:  "reconnect",
	OpLeave:      "leave",
	OpStart:      "start",
	OpPause:      "pause",
	OpResume:     "resume",
	OpEnd:        "end",
}

func (k OpKind) String() string {
	if n, ok := opNames[k]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op 一个 tick 开始前应用的外部操作（加入、掉线、比赛控制）
type Op struct {
	Kind   OpKind         `msgpack:"k"`
	Entity world.EntityID `msgpack:"e,omitempty"`
	Name   string         `msgpack:"n,omitempty"`
	Team   world.TeamID   `msgpack:"t,omitempty"`
	Reason string         `msgpack:"r,omitempty"`
	// Ref 调用方用来把结果对应回请求，不写入回放
	Ref uint64 `msgpack:"-"`
}

// Apply 将操作应用到状态上。Join 会分配实体 id 并写回 op.Entity；
// 若 op.Entity 已有值则要求分配结果一致（回放校验）
func Apply(s *world.State, op *Op) ([]world.Event, error) {
	switch op.Kind {
	case OpJoin:
		id, err := s.SpawnEntity(world.Entity{
			Kind:   world.KindPlayer,
			Name:   op.Name,
			Team:   op.Team,
			Flags:  world.FlagAlive,
			Pos:    s.Spawn(op.Team),
			Facing: fixed.Vec{X: fixed.One},
		})
		if err != nil {
			return nil, err
		}
		if op.Entity != 0 && op.Entity != id {
			return nil, fmt.Errorf("join %q: allocated entity %d, recorded %d", op.Name, id, op.Entity)
		}
		op.Entity = id
		return nil, nil
	case OpDisconnect:
		return nil, s.UpdateEntity(op.Entity, func(e *world.Entity) {
			e.Flags |= world.FlagDisconnected
			e.Vel = fixed.Vec{}
		})
	case OpReconnect:
		return nil, s.UpdateEntity(op.Entity, func(e *world.Entity) { e.Flags &^= world.FlagDisconnected })
	case OpLeave:
		return nil, s.RemoveEntity(op.Entity)
	}
	return control(s, op)
}

func control(s *world.State, op *Op) ([]world.Event, error) {
	m := s.Match()
	switch {
	case op.Kind == OpStart && m.Phase == world.PhaseWaiting:
		m.Phase = world.PhaseRunning
		m.StartTick = s.Tick()
		return []world.Event{{Kind: world.EventMatchStarted, Zone: world.NoZone, Detail: op.Reason}}, s.SetMatch(m)
	case op.Kind == OpPause && m.Phase == world.PhaseRunning:
		m.Phase = world.PhasePaused
		return nil, s.SetMatch(m)
	case op.Kind == OpResume && m.Phase == world.PhasePaused:
		m.Phase = world.PhaseRunning
		return nil, s.SetMatch(m)
	case op.Kind == OpEnd && m.Phase != world.PhaseEnded:
		m.Phase = world.PhaseEnded
		m.EndTick = s.Tick()
		m.Reason = op.Reason
		if m.Reason == "" {
			m.Reason = "ended"
		}
		return []world.Event{{Kind: world.EventMatchEnded, Zone: world.NoZone, Detail: m.Reason}}, s.SetMatch(m)
	case op.Kind >= OpStart && op.Kind <= OpEnd:
		return nil, fmt.Errorf("%s not allowed in phase %s", op.Kind, m.Phase)
	}
	return nil, fmt.Errorf("unknown op %s", op.Kind)
}

// Outcome 一个 tick 的执行结果
type Outcome struct {
	State  *world.State
	Events []world.Event
	// Applied 成功应用的操作（Join 已填入实体 id）
	Applied []Op
	// Rejected 被拒绝的操作及原因；不影响本 tick 其余部分
	Rejected []error
}

// Step 执行一个 tick：外部操作、模拟、触发器。prev 不会被修改；
// 模拟阶段的结构性错误使整个 tick 作废，调用方应保留 prev
func Step(prev *world.State, ops []Op, inputs []sim.Command, rules sim.Rules, eng *trigger.Engine) (Outcome, error) {
	var out Outcome
	cur := prev.Clone()
	var opEvents []world.Event
	for _, op := range ops {
		op := op
		trial := cur.Clone()
		evs, err := Apply(trial, &op)
		if err != nil {
			out.Rejected = append(out.Rejected, fmt.Errorf("%s entity %d: %w", op.Kind, op.Entity, err))
			continue
		}
		cur = trial
		opEvents = append(opEvents, evs...)
		out.Applied = append(out.Applied, op)
	}

	after, simEvents, err := sim.Advance(cur, inputs, rules)
	if err != nil {
		return Outcome{}, err
	}
	next, events, err := eng.Run(cur, after, append(opEvents, simEvents...))
	if err != nil {
		return Outcome{}, err
	}
	out.State = next
	out.Events = events
	return out, nil
}
