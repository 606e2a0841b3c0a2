package world

import (
	"fmt"
	"sort"
)

// Delta 两个状态之间（限定于某观察者可见部分）的差异
type Delta struct {
	BaseTick uint64         `json:"baseTick" msgpack:"baseTick"`
	Tick     uint64         `json:"tick" msgpack:"tick"`
	NextID   EntityID       `json:"nextId" msgpack:"nextId"`
	Upserts  []Entity       `json:"upserts,omitempty" msgpack:"upserts,omitempty"`
	Removed  []EntityID     `json:"removed,omitempty" msgpack:"removed,omitempty"`
	Zones    []ZoneState    `json:"zones,omitempty" msgpack:"zones,omitempty"`
	Match    Match          `json:"match" msgpack:"match"`
	Scores   []int64        `json:"scores,omitempty" msgpack:"scores,omitempty"`
	Triggers []TriggerState `json:"triggers,omitempty" msgpack:"triggers,omitempty"`
}

// Empty 除 tick 外无任何变化
func (d *Delta) Empty() bool {
	return len(d.Upserts) == 0 && len(d.Removed) == 0 && len(d.Zones) == 0
}

// Diff 计算 before -> after 的增量。view 为 nil 时不过滤。
// 离开视野的实体记入 Removed，进入视野的实体记入 Upserts
func Diff(before, after *State, view View) Delta {
	if view == nil {
		view = AllVisible{}
	}
	visBefore := view.Filter(before)
	visAfter := view.Filter(after)

	d := Delta{
		BaseTick: before.tick,
		Tick:     after.tick,
		NextID:   after.nextID,
		Match:    after.match,
		Scores:   after.Scores(),
		Triggers: after.Triggers(),
	}

	// 两个有序切片归并
	i, j := 0, 0
	for i < len(before.entities) || j < len(after.entities) {
		switch {
		case j >= len(after.entities) || (i < len(before.entities) && before.entities[i].ID < after.entities[j].ID):
			b := &before.entities[i]
			if visBefore(b) {
				d.Removed = append(d.Removed, b.ID)
			}
			i++
		case i >= len(before.entities) || after.entities[j].ID < before.entities[i].ID:
			a := &after.entities[j]
			if visAfter(a) {
				d.Upserts = append(d.Upserts, *a)
			}
			j++
		default:
			b, a := &before.entities[i], &after.entities[j]
			vb, va := visBefore(b), visAfter(a)
			switch {
			case va && (!vb || *a != *b):
				d.Upserts = append(d.Upserts, *a)
			case vb && !va:
				d.Removed = append(d.Removed, a.ID)
			}
			i++
			j++
		}
	}

	for k := range after.zones {
		a := &after.zones[k]
		if k >= len(before.zones) {
			d.Zones = append(d.Zones, zoneState(a))
			continue
		}
		b := &before.zones[k]
		if a.Owner != b.Owner || a.Capturer != b.Capturer || a.Progress != b.Progress {
			d.Zones = append(d.Zones, zoneState(a))
		}
	}
	return d
}

func zoneState(z *Zone) ZoneState {
	return ZoneState{ID: z.ID, Owner: z.Owner, Capturer: z.Capturer, Progress: z.Progress}
}

// ApplyDelta 将增量应用于基准状态并返回新状态；基准不变。
// 基准 tick 不匹配时返回 ErrDeltaBase，调用方应请求全量快照
func ApplyDelta(base *State, d Delta) (*State, error) {
	if d.BaseTick != base.tick {
		return nil, fmt.Errorf("%w: have %d, delta base %d", ErrDeltaBase, base.tick, d.BaseTick)
	}
	if d.Tick < d.BaseTick {
		return nil, stateViolation("applyDelta", "delta goes backwards")
	}
	s := base.Clone()
	for _, id := range d.Removed {
		i, ok := s.find(id)
		if !ok {
			return nil, entityViolation("applyDelta", id, "removing unknown entity")
		}
		s.entities = append(s.entities[:i], s.entities[i+1:]...)
	}
	for _, e := range d.Upserts {
		if err := s.checkEntity("applyDelta", e); err != nil {
			return nil, err
		}
		if i, ok := s.find(e.ID); ok {
			s.entities[i] = e
		} else {
			s.entities = append(s.entities, e)
		}
	}
	sort.Slice(s.entities, func(a, b int) bool { return s.entities[a].ID < s.entities[b].ID })
	for _, zs := range d.Zones {
		if int(zs.ID) >= len(s.zones) {
			return nil, zoneViolation("applyDelta", zs.ID, "unknown zone")
		}
		z := &s.zones[zs.ID]
		z.Owner, z.Capturer, z.Progress = zs.Owner, zs.Capturer, zs.Progress
	}
	for i := range s.entities {
		s.entities[i].Pos = s.clamp(s.entities[i].Pos)
		// 发射者可能不在观察者视野内
		if owner := s.entities[i].Owner; owner != 0 {
			if _, ok := s.find(owner); !ok {
				s.entities[i].Owner = 0
			}
		}
	}
	s.rebuildOccupancy()
	s.tick = d.Tick
	if d.NextID > s.nextID {
		s.nextID = d.NextID
	}
	s.match = d.Match
	if d.Scores != nil {
		copy(s.scores, d.Scores)
	}
	if d.Triggers != nil {
		s.triggers = append([]TriggerState(nil), d.Triggers...)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
