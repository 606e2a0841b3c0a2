package world

import (
	"fmt"

	"zonearena/fixed"
)

// Snapshot 状态的导出形式，用于全量同步与回放文件
type Snapshot struct {
	Tick      uint64         `json:"tick" msgpack:"tick"`
	Width     fixed.Fixed    `json:"width" msgpack:"width"`
	Height    fixed.Fixed    `json:"height" msgpack:"height"`
	Teams     uint8          `json:"teams" msgpack:"teams"`
	Threshold int32          `json:"threshold" msgpack:"threshold"`
	NextID    EntityID       `json:"nextId" msgpack:"nextId"`
	Entities  []Entity       `json:"entities" msgpack:"entities"`
	Zones     []Zone         `json:"zones" msgpack:"zones"`
	Spawns    []fixed.Vec    `json:"spawns,omitempty" msgpack:"spawns,omitempty"`
	Match     Match          `json:"match" msgpack:"match"`
	Scores    []int64        `json:"scores" msgpack:"scores"`
	Triggers  []TriggerState `json:"triggers,omitempty" msgpack:"triggers,omitempty"`
}

// Snapshot 导出完整快照
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Tick:      s.tick,
		Width:     s.width,
		Height:    s.height,
		Teams:     s.teams,
		Threshold: s.threshold,
		NextID:    s.nextID,
		Entities:  s.Entities(),
		Zones:     s.Zones(),
		Spawns:    append([]fixed.Vec(nil), s.spawns...),
		Match:     s.match,
		Scores:    s.Scores(),
		Triggers:  s.Triggers(),
	}
}

// FromSnapshot 由快照重建状态；区域占用由实体位置重新推导，结果必须通过 Validate
func FromSnapshot(snap Snapshot) (*State, error) {
	if snap.Width <= 0 || snap.Height <= 0 || snap.Teams == 0 || snap.Threshold <= 0 {
		return nil, stateViolation("fromSnapshot", "bad map header")
	}
	s := &State{
		tick:      snap.Tick,
		width:     snap.Width,
		height:    snap.Height,
		teams:     snap.Teams,
		threshold: snap.Threshold,
		nextID:    snap.NextID,
		entities:  append([]Entity(nil), snap.Entities...),
		zones:     make([]Zone, len(snap.Zones)),
		spawns:    append([]fixed.Vec(nil), snap.Spawns...),
		match:     snap.Match,
		scores:    make([]int64, int(snap.Teams)+1),
		triggers:  append([]TriggerState(nil), snap.Triggers...),
	}
	copy(s.scores, snap.Scores)
	for i, z := range snap.Zones {
		if z.ID != ZoneID(i) {
			return nil, zoneViolation("fromSnapshot", z.ID, fmt.Sprintf("zone at index %d", i))
		}
		s.zones[i] = cloneZone(z)
	}
	if s.nextID == 0 {
		s.nextID = 1
	}
	s.rebuildOccupancy()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Filtered 返回仅包含观察者可见实体的副本
func (s *State) Filtered(view View) *State {
	c := s.Clone()
	if view == nil {
		return c
	}
	visible := view.Filter(s)
	kept := c.entities[:0]
	for _, e := range c.entities {
		if visible(&e) {
			kept = append(kept, e)
		} else if e.Kind == KindPlayer && e.Zone != NoZone {
			c.leaveZone(e.Zone, e.ID)
		}
	}
	c.entities = kept
	for i := range c.entities {
		if c.entities[i].Owner != 0 {
			if _, ok := c.find(c.entities[i].Owner); !ok {
				c.entities[i].Owner = 0
			}
		}
	}
	return c
}
