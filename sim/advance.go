package sim

import (
	"fmt"

	"zonearena/fixed"
	"zonearena/world"
)

// Advance 以 state 为 tick N、inputs 为该 tick 的输入，返回 tick N+1 的新状态与本 tick 产生的事件。
// 纯函数：不修改 state。同样的输入与初始状态总是得到逐位一致的结果。
// 所有阶段都按实体 id 升序处理；任何结构性错误都会让整个 tick 作废（返回 nil 状态）
func Advance(state *world.State, inputs []Command, rules Rules) (*world.State, []world.Event, error) {
	next := state.Clone()
	st := &stepper{
		next:  next,
		rules: rules,
		at:    state.Tick() + 1,
		cmds:  make(map[world.EntityID]Command),
	}
	for _, c := range Normalize(state.Tick(), inputs) {
		st.cmds[c.Entity] = c
	}

	phase := state.Match().Phase
	if phase == world.PhasePaused {
		m := state.Match()
		m.PausedTicks++
		if err := next.SetMatch(m); err != nil {
			return nil, nil, fmt.Errorf("advance tick %d: %w", state.Tick(), err)
		}
	}
	if phase == world.PhaseWaiting || phase == world.PhaseRunning {
		for _, step := range []func() error{
			st.applyActions,
			st.integrate,
			st.resolveHits,
			st.collectPickups,
			st.respawn,
		} {
			if err := step(); err != nil {
				return nil, nil, fmt.Errorf("advance tick %d: %w", state.Tick(), err)
			}
		}
	}
	next.StepTick()
	return next, st.events, nil
}

// Run 连续推进 len(inputs) 个 tick
func Run(state *world.State, inputs [][]Command, rules Rules) (*world.State, []world.Event, error) {
	var all []world.Event
	cur := state
	for _, in := range inputs {
		next, events, err := Advance(cur, in, rules)
		if err != nil {
			return nil, all, err
		}
		all = append(all, events...)
		cur = next
	}
	return cur, all, nil
}

type stepper struct {
	next   *world.State
	rules  Rules
	at     uint64
	cmds   map[world.EntityID]Command
	events []world.Event
}

func (s *stepper) emit(ev world.Event) {
	ev.Tick = s.at
	s.events = append(s.events, ev)
}

func (s *stepper) applyActions() error {
	for _, p := range s.next.EntitiesOf(world.KindPlayer) {
		if !p.Alive() {
			continue
		}
		cmd := s.cmds[p.ID]
		var spawn *world.Entity
		err := s.next.UpdateEntity(p.ID, func(e *world.Entity) {
			tickTimers(e)
			spawn = s.act(e, cmd)
		})
		if err != nil {
			return err
		}
		if spawn != nil {
			if _, err := s.next.SpawnEntity(*spawn); err != nil {
				return err
			}
		}
	}
	return nil
}

func tickTimers(e *world.Entity) {
	if e.Cooldown > 0 {
		e.Cooldown--
	}
	if e.Dash > 0 {
		e.Dash--
	}
	if e.Flags.Has(world.FlagShielded) {
		if e.Shield > 0 {
			e.Shield--
		}
		if e.Shield == 0 {
			e.Flags &^= world.FlagShielded
		}
	}
	timed := e.Upgrade == world.UpgradeSpeed || e.Upgrade == world.UpgradeRapid
	if !timed || e.Timer == 0 {
		return
	}
	e.Timer--
	if e.Timer == 0 {
		e.Upgrade = world.UpgradeNone
	}
}

// act 根据指令更新玩家，返回需要生成的子弹（若有）
func (s *stepper) act(e *world.Entity, cmd Command) *world.Entity {
	r := s.rules
	var dx, dy int64
	if cmd.Actions.Has(ActMoveLeft) {
		dx--
	}
	if cmd.Actions.Has(ActMoveRight) {
		dx++
	}
	if cmd.Actions.Has(ActMoveUp) {
		dy--
	}
	if cmd.Actions.Has(ActMoveDown) {
		dy++
	}
	dir := fixed.VInt(dx, dy)

	switch {
	case cmd.AimX != 0 || cmd.AimY != 0:
		e.Facing = aim(cmd.AimX, cmd.AimY)
	case !dir.IsZero():
		e.Facing = dir
	}

	speed := r.PlayerSpeed
	if e.Upgrade == world.UpgradeSpeed {
		speed = speed.Mul(r.SpeedBoost)
	}
	e.Vel = dir.Scale(speed)

	facing := e.Facing
	if facing.IsZero() {
		facing = fixed.VInt(1, 0)
	}
	if cmd.Actions.Has(ActJump) && e.Dash == 0 {
		e.Vel = facing.Scale(r.DashSpeed)
		e.Dash = r.DashCooldown
	}
	if cmd.Actions.Has(ActAbility) && e.Upgrade == world.UpgradeShield {
		e.Upgrade = world.UpgradeNone
		e.Flags |= world.FlagShielded
		e.Shield = r.ShieldTicks
	}
	if !cmd.Actions.Has(ActShoot) || e.Cooldown > 0 {
		return nil
	}
	e.Cooldown = r.ShootCooldown
	if e.Upgrade == world.UpgradeRapid {
		e.Cooldown = r.RapidCooldown
	}
	return &world.Entity{
		Kind:   world.KindProjectile,
		Pos:    e.Pos,
		Vel:    facing.Scale(r.ProjectileSpeed),
		Facing: facing,
		Team:   e.Team,
		Owner:  e.ID,
		Timer:  r.ProjectileTTL,
	}
}

// aim 将整数瞄准向量按切比雪夫范数归一化
func aim(x, y int8) fixed.Vec {
	ax, ay := int64(x), int64(y)
	m := ax
	if m < 0 {
		m = -m
	}
	if ay > m || -ay > m {
		m = ay
		if m < 0 {
			m = -m
		}
	}
	return fixed.Vec{X: fixed.FromInt(ax).Div(fixed.FromInt(m)), Y: fixed.FromInt(ay).Div(fixed.FromInt(m))}
}

func (s *stepper) integrate() error {
	min, max := s.next.Bounds()
	for _, e := range s.next.Entities() {
		switch e.Kind {
		case world.KindPlayer:
			if !e.Alive() {
				continue
			}
			if err := s.next.ApplyMovement(e.ID, e.Pos.Add(e.Vel), e.Vel); err != nil {
				return err
			}
		case world.KindProjectile:
			pos := e.Pos.Add(e.Vel)
			out := pos.X < min.X || pos.Y < min.Y || pos.X > max.X || pos.Y > max.Y
			if out || e.Timer <= 1 {
				if err := s.next.RemoveEntity(e.ID); err != nil {
					return err
				}
				continue
			}
			err := s.next.UpdateEntity(e.ID, func(p *world.Entity) {
				p.Pos = pos
				p.Timer--
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *stepper) resolveHits() error {
	reach := s.rules.PlayerRadius + s.rules.ProjectileRadius
	for _, shot := range s.next.EntitiesOf(world.KindProjectile) {
		for _, p := range s.next.EntitiesOf(world.KindPlayer) {
			if !p.Alive() || p.Team == shot.Team || !p.Pos.Within(shot.Pos, reach) {
				continue
			}
			if err := s.next.RemoveEntity(shot.ID); err != nil {
				return err
			}
			if p.Flags.Has(world.FlagShielded) {
				break
			}
			err := s.next.UpdateEntity(p.ID, func(e *world.Entity) {
				e.Flags = e.Flags&world.FlagDisconnected | world.FlagGhost
				e.Vel = fixed.Vec{}
				e.Upgrade = world.UpgradeNone
				e.Shield = 0
				e.Timer = s.rules.RespawnTicks
			})
			if err != nil {
				return err
			}
			s.emit(world.Event{Kind: world.EventPlayerEliminated, Zone: p.Zone, Team: shot.Team, Entity: p.ID, Other: uint32(shot.Owner)})
			break
		}
	}
	return nil
}

// collectPickups 多名玩家同时接触同一道具时，id 最小者获得
func (s *stepper) collectPickups() error {
	for _, pk := range s.next.EntitiesOf(world.KindPickup) {
		for _, p := range s.next.EntitiesOf(world.KindPlayer) {
			if !p.Alive() || !p.Pos.Within(pk.Pos, s.rules.PickupRadius) {
				continue
			}
			err := s.next.UpdateEntity(p.ID, func(e *world.Entity) {
				e.Upgrade = pk.Upgrade
				e.Timer = 0
				if pk.Upgrade == world.UpgradeSpeed || pk.Upgrade == world.UpgradeRapid {
					e.Timer = s.rules.UpgradeTicks
				}
			})
			if err != nil {
				return err
			}
			if err := s.next.RemoveEntity(pk.ID); err != nil {
				return err
			}
			s.emit(world.Event{Kind: world.EventPickupCollected, Zone: pk.Zone, Team: p.Team, Entity: p.ID, Other: uint32(pk.ID), Detail: pk.Upgrade.String()})
			break
		}
	}
	return nil
}

func (s *stepper) respawn() error {
	for _, p := range s.next.EntitiesOf(world.KindPlayer) {
		if !p.Flags.Has(world.FlagGhost) {
			continue
		}
		spawn := s.next.Spawn(p.Team)
		revived := false
		err := s.next.UpdateEntity(p.ID, func(e *world.Entity) {
			if e.Timer > 0 {
				e.Timer--
			}
			if e.Timer == 0 {
				e.Flags = e.Flags&world.FlagDisconnected | world.FlagAlive
				e.Pos = spawn
				e.Vel = fixed.Vec{}
				revived = true
			}
		})
		if err != nil {
			return err
		}
		if revived {
			s.emit(world.Event{Kind: world.EventPlayerRespawned, Zone: s.next.ZoneAt(spawn), Team: p.Team, Entity: p.ID})
		}
	}
	return nil
}
