package trigger

import (
	"zonearena/world"
)

// Trigger 常驻规则。只通过世界状态的操作修改 after，自身不保存任何状态
type Trigger interface {
	Kind() Kind
	Observe(before, after *world.State, events []world.Event) ([]world.Event, error)
}

func build(k Kind, cfg Config) Trigger {
	switch k {
	case KindCaptureProgress:
		return captureProgress{cfg: cfg}
	case KindOwnershipFlip:
		return ownershipFlip{}
	case KindVictoryAllZones:
		return victoryAllZones{}
	case KindTimedExpiry:
		return timedExpiry{limit: cfg.TimeLimitTicks}
	case KindZoneOccupancy:
		return zoneOccupancy{}
	case KindEliminationScore:
		return eliminationScore{points: cfg.KillScore}
	case KindStartWhenReady:
		return startWhenReady{min: cfg.MinPlayers}
	}
	return nil
}

// teamsPresent 区域内存活玩家所属队伍（去重，升序）
func teamsPresent(s *world.State, z world.Zone) []world.TeamID {
	var teams []world.TeamID
	for _, id := range z.Occupants {
		e, ok := s.Entity(id)
		if !ok || !e.Alive() || e.Team == world.TeamNeutral {
			continue
		}
		dup := false
		for _, t := range teams {
			if t == e.Team {
				dup = true
				break
			}
		}
		if !dup {
			teams = append(teams, e.Team)
		}
	}
	for i := 1; i < len(teams); i++ {
		for j := i; j > 0 && teams[j] < teams[j-1]; j-- {
			teams[j], teams[j-1] = teams[j-1], teams[j]
		}
	}
	return teams
}

// borders 区域是否与 team 拥有的某个区域相邻
func borders(s *world.State, z world.Zone, team world.TeamID) bool {
	for _, a := range z.Adjacent {
		if other, ok := s.Zone(a); ok && other.Owner == team {
			return true
		}
	}
	return false
}

type captureProgress struct{ cfg Config }

func (captureProgress) Kind() Kind { return KindCaptureProgress }

// Observe 单队无争夺占领时累积进度；多队争夺时保持；无人或仅有归属方时回落
func (t captureProgress) Observe(_, after *world.State, _ []world.Event) ([]world.Event, error) {
	if after.Match().Phase != world.PhaseRunning {
		return nil, nil
	}
	limit := after.CaptureThreshold()
	for _, z := range after.Zones() {
		teams := teamsPresent(after, z)
		switch {
		case len(teams) > 1:
			continue
		case len(teams) == 1 && teams[0] != z.Owner:
			team := teams[0]
			if t.cfg.RequireAdjacency && !borders(after, z, team) {
				continue
			}
			progress := z.Progress
			if z.Capturer != team {
				progress = 0
			}
			progress += t.cfg.CaptureRate
			if progress > limit {
				progress = limit
			}
			if err := after.SetZoneCapture(z.ID, team, progress); err != nil {
				return nil, err
			}
		default:
			if z.Progress == 0 {
				continue
			}
			progress := z.Progress - t.cfg.DecayPerTick
			capturer := z.Capturer
			if progress <= 0 {
				progress, capturer = 0, world.TeamNeutral
			}
			if err := after.SetZoneCapture(z.ID, capturer, progress); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

type ownershipFlip struct{}

func (ownershipFlip) Kind() Kind { return KindOwnershipFlip }

// Observe 进度达到阈值时翻转：敌方区域先变中立，中立区域归占领方
func (ownershipFlip) Observe(_, after *world.State, _ []world.Event) ([]world.Event, error) {
	var out []world.Event
	limit := after.CaptureThreshold()
	for _, z := range after.Zones() {
		if z.Capturer == world.TeamNeutral || z.Progress < limit {
			continue
		}
		if err := after.SetZoneCapture(z.ID, world.TeamNeutral, 0); err != nil {
			return nil, err
		}
		if z.Owner != world.TeamNeutral && z.Owner != z.Capturer {
			if err := after.SetZoneOwner(z.ID, world.TeamNeutral); err != nil {
				return nil, err
			}
			out = append(out, world.Event{Kind: world.EventZoneNeutralised, Zone: z.ID, Team: z.Capturer, Other: uint32(z.Owner)})
			continue
		}
		if err := after.SetZoneOwner(z.ID, z.Capturer); err != nil {
			return nil, err
		}
		out = append(out, world.Event{Kind: world.EventZoneCaptured, Zone: z.ID, Team: z.Capturer})
	}
	return out, nil
}

func endMatch(after *world.State, winner world.TeamID, reason string) ([]world.Event, error) {
	m := after.Match()
	m.Phase = world.PhaseEnded
	m.EndTick = after.Tick()
	m.Winner = winner
	m.Reason = reason
	if err := after.SetMatch(m); err != nil {
		return nil, err
	}
	return []world.Event{{Kind: world.EventMatchEnded, Zone: world.NoZone, Team: winner, Detail: reason}}, nil
}

type victoryAllZones struct{}

func (victoryAllZones) Kind() Kind { return KindVictoryAllZones }

func (victoryAllZones) Observe(_, after *world.State, _ []world.Event) ([]world.Event, error) {
	if after.Match().Phase != world.PhaseRunning {
		return nil, nil
	}
	if team := teamWithAllZones(after); team != world.TeamNeutral {
		return endMatch(after, team, "all zones")
	}
	return nil, nil
}

func teamWithAllZones(s *world.State) world.TeamID {
	zones := s.Zones()
	if len(zones) == 0 {
		return world.TeamNeutral
	}
	owner := zones[0].Owner
	for _, z := range zones[1:] {
		if z.Owner != owner {
			return world.TeamNeutral
		}
	}
	return owner
}

// teamWithMoreZones 区域数最多的队伍；并列时比较得分，仍并列则为平局
func teamWithMoreZones(s *world.State) world.TeamID {
	best, bestZones, bestScore, tie := world.TeamNeutral, -1, int64(0), false
	for t := 1; t <= s.Teams(); t++ {
		team := world.TeamID(t)
		n, score := s.ZonesOwnedBy(team), s.Score(team)
		switch {
		case n > bestZones || (n == bestZones && score > bestScore):
			best, bestZones, bestScore, tie = team, n, score, false
		case n == bestZones && score == bestScore:
			tie = true
		}
	}
	if tie {
		return world.TeamNeutral
	}
	return best
}

type timedExpiry struct{ limit uint64 }

func (timedExpiry) Kind() Kind { return KindTimedExpiry }

func (t timedExpiry) Observe(_, after *world.State, _ []world.Event) ([]world.Event, error) {
	m := after.Match()
	if t.limit == 0 || m.Phase != world.PhaseRunning || m.Elapsed(after.Tick()) < t.limit {
		return nil, nil
	}
	return endMatch(after, teamWithMoreZones(after), "time limit")
}

type zoneOccupancy struct{}

func (zoneOccupancy) Kind() Kind { return KindZoneOccupancy }

// Observe 比较前后两个状态中玩家所在区域，生成离开/进入事件
func (zoneOccupancy) Observe(before, after *world.State, _ []world.Event) ([]world.Event, error) {
	var out []world.Event
	for _, p := range after.EntitiesOf(world.KindPlayer) {
		prev := world.NoZone
		if b, ok := before.Entity(p.ID); ok {
			prev = b.Zone
		}
		if prev == p.Zone {
			continue
		}
		if prev != world.NoZone {
			out = append(out, world.Event{Kind: world.EventZoneExited, Zone: prev, Team: p.Team, Entity: p.ID})
		}
		if p.Zone != world.NoZone {
			out = append(out, world.Event{Kind: world.EventZoneEntered, Zone: p.Zone, Team: p.Team, Entity: p.ID})
		}
	}
	return out, nil
}

type eliminationScore struct{ points int64 }

func (eliminationScore) Kind() Kind { return KindEliminationScore }

func (t eliminationScore) Observe(_, after *world.State, events []world.Event) ([]world.Event, error) {
	if t.points == 0 {
		return nil, nil
	}
	var out []world.Event
	for _, ev := range events {
		if ev.Kind != world.EventPlayerEliminated || ev.Team == world.TeamNeutral {
			continue
		}
		if err := after.AddScore(ev.Team, t.points); err != nil {
			return nil, err
		}
		out = append(out, world.Event{
			Kind:   world.EventScoreChanged,
			Zone:   world.NoZone,
			Team:   ev.Team,
			Entity: world.EntityID(ev.Other),
			Other:  uint32(after.Score(ev.Team)),
		})
	}
	return out, nil
}

type startWhenReady struct{ min int }

func (startWhenReady) Kind() Kind { return KindStartWhenReady }

// Observe 等待阶段在线玩家数达到下限时开局
func (t startWhenReady) Observe(_, after *world.State, _ []world.Event) ([]world.Event, error) {
	m := after.Match()
	if m.Phase != world.PhaseWaiting {
		return nil, nil
	}
	n := 0
	for _, p := range after.EntitiesOf(world.KindPlayer) {
		if !p.Flags.Has(world.FlagDisconnected) {
			n++
		}
	}
	if n < t.min || n == 0 {
		return nil, nil
	}
	m.Phase = world.PhaseRunning
	m.StartTick = after.Tick()
	if err := after.SetMatch(m); err != nil {
		return nil, err
	}
	return []world.Event{{Kind: world.EventMatchStarted, Zone: world.NoZone}}, nil
}
