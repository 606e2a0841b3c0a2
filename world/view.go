package world

// View 观察者可见性过滤（例如战争迷雾）
type View interface {
	// Filter 针对某一状态预计算可见性，返回逐实体判定函数
	Filter(s *State) func(e *Entity) bool
}

// AllVisible 不做过滤
type AllVisible struct{}

func (AllVisible) Filter(*State) func(*Entity) bool {
	return func(*Entity) bool { return true }
}

// FogOfWar 按队伍过滤：己方实体、区域外实体总是可见；
// 区域内的其他实体仅当该区域为己方所有、与己方区域相邻、或有己方玩家在场时可见
type FogOfWar struct {
	Team TeamID
}

func (f FogOfWar) Filter(s *State) func(*Entity) bool {
	visible := make([]bool, len(s.zones))
	for i := range s.zones {
		z := &s.zones[i]
		if z.Owner == f.Team {
			visible[i] = true
			for _, a := range z.Adjacent {
				visible[a] = true
			}
		}
	}
	for i := range s.zones {
		if visible[i] {
			continue
		}
		for _, id := range s.zones[i].Occupants {
			if j, ok := s.find(id); ok && s.entities[j].Team == f.Team {
				visible[i] = true
				break
			}
		}
	}
	return func(e *Entity) bool {
		if e.Team == f.Team && f.Team != TeamNeutral {
			return true
		}
		if e.Zone == NoZone || int(e.Zone) >= len(visible) {
			return true
		}
		return visible[e.Zone]
	}
}
