package world

import (
	"fmt"
	"sort"

	"zonearena/fixed"
)

// State 某一 tick 的完整世界快照：实体、区域归属与比赛状态。
// 实体按 id 升序存放在扁平切片中，区域按 ZoneID 下标存放，关系一律用整数 id 表示。
type State struct {
	tick      uint64
	width     fixed.Fixed
	height    fixed.Fixed
	teams     uint8
	threshold int32
	nextID    EntityID

	entities []Entity
	zones    []Zone
	spawns   []fixed.Vec

	match    Match
	scores   []int64
	triggers []TriggerState
}

// New 按地图定义创建 tick 0 的世界
func New(spec MapSpec) (*State, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, stateViolation("new", "map size must be positive")
	}
	if spec.Teams < 1 || spec.Teams > 254 {
		return nil, stateViolation("new", fmt.Sprintf("team count %d out of range", spec.Teams))
	}
	if spec.CaptureThreshold <= 0 {
		return nil, stateViolation("new", "capture threshold must be positive")
	}
	if len(spec.Zones) >= int(NoZone) {
		return nil, stateViolation("new", "too many zones")
	}
	s := &State{
		width:     spec.Width,
		height:    spec.Height,
		teams:     uint8(spec.Teams),
		threshold: spec.CaptureThreshold,
		nextID:    1,
		zones:     make([]Zone, len(spec.Zones)),
		spawns:    make([]fixed.Vec, spec.Teams),
		scores:    make([]int64, spec.Teams+1),
	}
	copy(s.spawns, spec.Spawns)
	for i, zs := range spec.Zones {
		if int(zs.Owner) > spec.Teams {
			return nil, zoneViolation("new", ZoneID(i), "owner team out of range")
		}
		if zs.Max.X <= zs.Min.X || zs.Max.Y <= zs.Min.Y {
			return nil, zoneViolation("new", ZoneID(i), "empty zone rectangle")
		}
		adj := append([]ZoneID(nil), zs.Adjacent...)
		sort.Slice(adj, func(a, b int) bool { return adj[a] < adj[b] })
		s.zones[i] = Zone{ID: ZoneID(i), Min: zs.Min, Max: zs.Max, Owner: zs.Owner, Adjacent: adj}
	}
	for i := range s.zones {
		for _, a := range s.zones[i].Adjacent {
			if int(a) >= len(s.zones) || a == ZoneID(i) {
				return nil, zoneViolation("new", ZoneID(i), fmt.Sprintf("bad adjacency %d", a))
			}
			if !s.zones[a].IsAdjacent(ZoneID(i)) {
				return nil, zoneViolation("new", ZoneID(i), fmt.Sprintf("adjacency with %d is not symmetric", a))
			}
		}
	}
	return s, nil
}

func (s *State) Tick() uint64 { return s.tick }

func (s *State) Width() fixed.Fixed { return s.width }

func (s *State) Height() fixed.Fixed { return s.height }

// Bounds 地图矩形 [0,0]-[w,h]
func (s *State) Bounds() (fixed.Vec, fixed.Vec) {
	return fixed.Vec{}, fixed.Vec{X: s.width, Y: s.height}
}

// Teams 队伍数量（不含中立）
func (s *State) Teams() int { return int(s.teams) }

func (s *State) CaptureThreshold() int32 { return s.threshold }

// NextID 下一个可分配的实体 id（高水位）
func (s *State) NextID() EntityID { return s.nextID }

func (s *State) EntityCount() int { return len(s.entities) }

// Entities 按 id 升序返回全部实体的副本
func (s *State) Entities() []Entity {
	out := make([]Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// EntitiesOf 按 id 升序返回某类实体
func (s *State) EntitiesOf(kind Kind) []Entity {
	var out []Entity
	for _, e := range s.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Entity 按 id 查找
func (s *State) Entity(id EntityID) (Entity, bool) {
	i, ok := s.find(id)
	if !ok {
		return Entity{}, false
	}
	return s.entities[i], true
}

func (s *State) ZoneCount() int { return len(s.zones) }

// Zone 返回区域副本
func (s *State) Zone(id ZoneID) (Zone, bool) {
	if int(id) >= len(s.zones) {
		return Zone{}, false
	}
	return cloneZone(s.zones[id]), true
}

// Zones 返回全部区域副本
func (s *State) Zones() []Zone {
	out := make([]Zone, len(s.zones))
	for i := range s.zones {
		out[i] = cloneZone(s.zones[i])
	}
	return out
}

// ZoneAt 返回包含该点的区域；区域重叠时编号小者优先
func (s *State) ZoneAt(p fixed.Vec) ZoneID {
	for i := range s.zones {
		if s.zones[i].Contains(p) {
			return ZoneID(i)
		}
	}
	return NoZone
}

// Spawn 队伍出生点；优先使用己方编号最小的区域中心
func (s *State) Spawn(team TeamID) fixed.Vec {
	for i := range s.zones {
		if team != TeamNeutral && s.zones[i].Owner == team {
			return s.zones[i].Center()
		}
	}
	if team >= 1 && int(team) <= len(s.spawns) {
		return s.spawns[team-1]
	}
	return fixed.Vec{X: s.width / 2, Y: s.height / 2}
}

// ZonesOwnedBy 某队拥有的区域数
func (s *State) ZonesOwnedBy(team TeamID) int {
	n := 0
	for i := range s.zones {
		if s.zones[i].Owner == team {
			n++
		}
	}
	return n
}

func (s *State) Match() Match { return s.match }

// Scores 各队得分，下标为 TeamID（0 不使用）
func (s *State) Scores() []int64 { return append([]int64(nil), s.scores...) }

func (s *State) Score(team TeamID) int64 {
	if int(team) >= len(s.scores) {
		return 0
	}
	return s.scores[team]
}

func (s *State) Triggers() []TriggerState { return append([]TriggerState(nil), s.triggers...) }

// Clone 深拷贝；历史状态与推测状态都基于它，互不影响
func (s *State) Clone() *State {
	c := *s
	c.entities = append([]Entity(nil), s.entities...)
	c.zones = make([]Zone, len(s.zones))
	for i := range s.zones {
		c.zones[i] = cloneZone(s.zones[i])
	}
	c.spawns = append([]fixed.Vec(nil), s.spawns...)
	c.scores = append([]int64(nil), s.scores...)
	c.triggers = append([]TriggerState(nil), s.triggers...)
	return &c
}

func cloneZone(z Zone) Zone {
	// 邻接关系整局不变，可共享底层数组
	z.Occupants = append([]EntityID(nil), z.Occupants...)
	return z
}

func (s *State) find(id EntityID) (int, bool) {
	i := sort.Search(len(s.entities), func(i int) bool { return s.entities[i].ID >= id })
	return i, i < len(s.entities) && s.entities[i].ID == id
}

func (s *State) validTeam(t TeamID) bool { return int(t) <= int(s.teams) }
