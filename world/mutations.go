package world

import (
	"fmt"
	"sort"

	"zonearena/fixed"
)

// AddEntity 加入实体。id 必须非 0、未被占用且不低于高水位（一局内 id 不复用）
func (s *State) AddEntity(e Entity) error {
	if e.ID == 0 {
		return entityViolation("addEntity", 0, "zero id")
	}
	if _, ok := s.find(e.ID); ok {
		return entityViolation("addEntity", e.ID, "duplicate id")
	}
	if e.ID < s.nextID {
		return entityViolation("addEntity", e.ID, "id already used in this match")
	}
	if err := s.checkEntity("addEntity", e); err != nil {
		return err
	}
	s.insert(e)
	return nil
}

// SpawnEntity 分配新 id 并加入实体
func (s *State) SpawnEntity(e Entity) (EntityID, error) {
	e.ID = s.nextID
	if err := s.AddEntity(e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

// RemoveEntity 移除实体，同时清理区域占用与子弹的 Owner 引用
func (s *State) RemoveEntity(id EntityID) error {
	i, ok := s.find(id)
	if !ok {
		return entityViolation("removeEntity", id, "unknown entity")
	}
	e := s.entities[i]
	if e.Kind == KindPlayer && e.Zone != NoZone {
		s.leaveZone(e.Zone, id)
	}
	s.entities = append(s.entities[:i], s.entities[i+1:]...)
	for j := range s.entities {
		if s.entities[j].Owner == id {
			s.entities[j].Owner = 0
		}
	}
	return nil
}

// ApplyMovement 设置位置与速度；位置越界时夹到地图边缘，并维护区域占用
func (s *State) ApplyMovement(id EntityID, pos, vel fixed.Vec) error {
	i, ok := s.find(id)
	if !ok {
		return entityViolation("applyMovement", id, "unknown entity")
	}
	s.entities[i].Vel = vel
	s.moveTo(i, pos)
	return nil
}

// UpdateEntity 修改实体的非结构字段（状态位、计时器、升级、朝向等）。
// 不允许修改 id 与类型；位置变化按 ApplyMovement 处理
func (s *State) UpdateEntity(id EntityID, fn func(e *Entity)) error {
	i, ok := s.find(id)
	if !ok {
		return entityViolation("updateEntity", id, "unknown entity")
	}
	before := s.entities[i]
	next := before
	fn(&next)
	if next.ID != before.ID || next.Kind != before.Kind {
		return entityViolation("updateEntity", id, "id and kind are immutable")
	}
	if err := s.checkEntity("updateEntity", next); err != nil {
		return err
	}
	pos := next.Pos
	next.Pos = before.Pos
	next.Zone = before.Zone
	s.entities[i] = next
	if pos != before.Pos {
		s.moveTo(i, pos)
	}
	return nil
}

// SetZoneOwner 设置区域归属
func (s *State) SetZoneOwner(zone ZoneID, team TeamID) error {
	if int(zone) >= len(s.zones) {
		return zoneViolation("setZoneOwner", zone, "unknown zone")
	}
	if !s.validTeam(team) {
		return zoneViolation("setZoneOwner", zone, fmt.Sprintf("team %d out of range", team))
	}
	s.zones[zone].Owner = team
	return nil
}

// SetZoneCapture 设置占领方与进度，进度限定在 [0, captureThreshold]
func (s *State) SetZoneCapture(zone ZoneID, capturer TeamID, progress int32) error {
	if int(zone) >= len(s.zones) {
		return zoneViolation("setZoneCapture", zone, "unknown zone")
	}
	if !s.validTeam(capturer) {
		return zoneViolation("setZoneCapture", zone, fmt.Sprintf("team %d out of range", capturer))
	}
	if progress < 0 || progress > s.threshold {
		return zoneViolation("setZoneCapture", zone, fmt.Sprintf("progress %d outside [0,%d]", progress, s.threshold))
	}
	s.zones[zone].Capturer = capturer
	s.zones[zone].Progress = progress
	return nil
}

// SetMatch 更新比赛状态
func (s *State) SetMatch(m Match) error {
	if !s.validTeam(m.Winner) {
		return stateViolation("setMatch", fmt.Sprintf("winner %d out of range", m.Winner))
	}
	s.match = m
	return nil
}

// AddScore 队伍加分
func (s *State) AddScore(team TeamID, delta int64) error {
	if team == TeamNeutral || !s.validTeam(team) {
		return stateViolation("addScore", fmt.Sprintf("team %d out of range", team))
	}
	s.scores[team] += delta
	return nil
}

// SetTriggers 初始化触发器激活表（比赛开始前由配置写入）
func (s *State) SetTriggers(ts []TriggerState) {
	s.triggers = append([]TriggerState(nil), ts...)
}

// SetTriggerState 修改第 i 个触发器的激活状态
func (s *State) SetTriggerState(i int, ts TriggerState) error {
	if i < 0 || i >= len(s.triggers) {
		return stateViolation("setTriggerState", fmt.Sprintf("trigger index %d out of range", i))
	}
	if ts.Kind != s.triggers[i].Kind {
		return stateViolation("setTriggerState", "trigger kind is immutable")
	}
	s.triggers[i] = ts
	return nil
}

// StepTick 推进 tick 计数，仅由模拟器调用
func (s *State) StepTick() { s.tick++ }

// SetTick 仅用于从快照/测试构造初始状态
func (s *State) SetTick(t uint64) { s.tick = t }

func (s *State) checkEntity(op string, e Entity) error {
	switch e.Kind {
	case KindPlayer, KindProjectile, KindPickup:
	default:
		return entityViolation(op, e.ID, fmt.Sprintf("unknown kind %d", e.Kind))
	}
	if !s.validTeam(e.Team) {
		return entityViolation(op, e.ID, fmt.Sprintf("team %d out of range", e.Team))
	}
	if e.Owner == e.ID {
		return entityViolation(op, e.ID, "entity owns itself")
	}
	return nil
}

// insert 按 id 有序插入，不做复用检查（增量应用时使用）
func (s *State) insert(e Entity) {
	e.Pos = s.clamp(e.Pos)
	e.Zone = s.ZoneAt(e.Pos)
	i, _ := s.find(e.ID)
	s.entities = append(s.entities, Entity{})
	copy(s.entities[i+1:], s.entities[i:])
	s.entities[i] = e
	if e.ID >= s.nextID {
		s.nextID = e.ID + 1
	}
	if e.Kind == KindPlayer && e.Zone != NoZone {
		s.enterZone(e.Zone, e.ID)
	}
}

func (s *State) moveTo(i int, pos fixed.Vec) {
	e := &s.entities[i]
	e.Pos = s.clamp(pos)
	zone := s.ZoneAt(e.Pos)
	if zone == e.Zone {
		return
	}
	if e.Kind == KindPlayer {
		if e.Zone != NoZone {
			s.leaveZone(e.Zone, e.ID)
		}
		if zone != NoZone {
			s.enterZone(zone, e.ID)
		}
	}
	e.Zone = zone
}

func (s *State) clamp(p fixed.Vec) fixed.Vec {
	min, max := s.Bounds()
	return p.Clamp(min, max)
}

func (s *State) enterZone(zone ZoneID, id EntityID) {
	occ := s.zones[zone].Occupants
	i := sort.Search(len(occ), func(i int) bool { return occ[i] >= id })
	if i < len(occ) && occ[i] == id {
		return
	}
	occ = append(occ, 0)
	copy(occ[i+1:], occ[i:])
	occ[i] = id
	s.zones[zone].Occupants = occ
}

func (s *State) leaveZone(zone ZoneID, id EntityID) {
	occ := s.zones[zone].Occupants
	for i, o := range occ {
		if o == id {
			s.zones[zone].Occupants = append(occ[:i:i], occ[i+1:]...)
			return
		}
	}
}

// rebuildOccupancy 由实体位置重新计算全部区域占用
func (s *State) rebuildOccupancy() {
	for i := range s.zones {
		s.zones[i].Occupants = nil
	}
	for i := range s.entities {
		e := &s.entities[i]
		e.Zone = s.ZoneAt(e.Pos)
		if e.Kind == KindPlayer && e.Zone != NoZone {
			s.zones[e.Zone].Occupants = append(s.zones[e.Zone].Occupants, e.ID)
		}
	}
}
