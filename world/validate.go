package world

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"go.uber.org/multierr"
)

// Validate 检查全部结构不变量，返回聚合后的错误（multierr）
func (s *State) Validate() error {
	var err error
	ids := make(map[EntityID]Entity, len(s.entities))
	for i, e := range s.entities {
		if i > 0 && s.entities[i-1].ID >= e.ID {
			err = multierr.Append(err, entityViolation("validate", e.ID, "entities not in ascending id order"))
		}
		if e.ID == 0 || e.ID >= s.nextID {
			err = multierr.Append(err, entityViolation("validate", e.ID, "id outside allocated range"))
		}
		if !s.validTeam(e.Team) {
			err = multierr.Append(err, entityViolation("validate", e.ID, "team out of range"))
		}
		if e.Zone != s.ZoneAt(e.Pos) {
			err = multierr.Append(err, entityViolation("validate", e.ID, "zone does not match position"))
		}
		ids[e.ID] = e
	}
	for _, e := range s.entities {
		if e.Owner != 0 {
			if _, ok := ids[e.Owner]; !ok {
				err = multierr.Append(err, entityViolation("validate", e.ID, fmt.Sprintf("dangling owner %d", e.Owner)))
			}
		}
		if e.Kind == KindPlayer && e.Zone != NoZone && !s.zones[e.Zone].hasOccupant(e.ID) {
			err = multierr.Append(err, entityViolation("validate", e.ID, "player missing from zone occupants"))
		}
	}
	for i := range s.zones {
		z := &s.zones[i]
		if !s.validTeam(z.Owner) || !s.validTeam(z.Capturer) {
			err = multierr.Append(err, zoneViolation("validate", z.ID, "team out of range"))
		}
		if z.Progress < 0 || z.Progress > s.threshold {
			err = multierr.Append(err, zoneViolation("validate", z.ID, "progress out of bounds"))
		}
		for j, id := range z.Occupants {
			e, ok := ids[id]
			switch {
			case !ok:
				err = multierr.Append(err, zoneViolation("validate", z.ID, fmt.Sprintf("dangling occupant %d", id)))
			case e.Kind != KindPlayer || e.Zone != z.ID:
				err = multierr.Append(err, zoneViolation("validate", z.ID, fmt.Sprintf("occupant %d is not inside", id)))
			}
			if j > 0 && z.Occupants[j-1] >= id {
				err = multierr.Append(err, zoneViolation("validate", z.ID, "occupants not sorted"))
			}
		}
		for _, a := range z.Adjacent {
			if int(a) >= len(s.zones) || !s.zones[a].IsAdjacent(z.ID) {
				err = multierr.Append(err, zoneViolation("validate", z.ID, "adjacency broken"))
			}
		}
	}
	if !s.validTeam(s.match.Winner) {
		err = multierr.Append(err, stateViolation("validate", "winner out of range"))
	}
	return err
}

func (z *Zone) hasOccupant(id EntityID) bool {
	for _, o := range z.Occupants {
		if o == id {
			return true
		}
	}
	return false
}

// Hash 状态的规范摘要（FNV-64a），用于确定性校验与回放比对
func (s *State) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	u64(s.tick)
	u64(uint64(s.width))
	u64(uint64(s.height))
	u64(uint64(s.teams))
	u64(uint64(s.threshold))
	u64(uint64(s.nextID))
	u64(uint64(len(s.entities)))
	for _, e := range s.entities {
		u64(uint64(e.ID))
		u64(uint64(e.Kind))
		_, _ = h.Write([]byte(e.Name))
		u64(uint64(e.Pos.X))
		u64(uint64(e.Pos.Y))
		u64(uint64(e.Vel.X))
		u64(uint64(e.Vel.Y))
		u64(uint64(e.Facing.X))
		u64(uint64(e.Facing.Y))
		u64(uint64(e.Team)<<24 | uint64(e.Flags)<<16 | uint64(e.Upgrade)<<8)
		u64(uint64(e.Owner))
		u64(uint64(e.Zone))
		u64(uint64(e.Shield)<<48 | uint64(e.Cooldown)<<32 | uint64(e.Dash)<<16 | uint64(e.Timer))
	}
	u64(uint64(len(s.zones)))
	for _, z := range s.zones {
		u64(uint64(z.ID))
		u64(uint64(z.Owner)<<8 | uint64(z.Capturer))
		u64(uint64(z.Progress))
		u64(uint64(len(z.Occupants)))
		for _, o := range z.Occupants {
			u64(uint64(o))
		}
	}
	u64(uint64(s.match.Phase))
	u64(s.match.StartTick)
	u64(s.match.EndTick)
	u64(uint64(s.match.Winner))
	u64(s.match.PausedTicks)
	_, _ = h.Write([]byte(s.match.Reason))
	for _, sc := range s.scores {
		u64(uint64(sc))
	}
	for _, t := range s.triggers {
		var active uint64
		if t.Active {
			active = 1
		}
		u64(uint64(t.Kind)<<16 | active<<8 | uint64(uint8(t.Pending)))
	}
	return h.Sum64()
}
