package client

import (
	"zonearena/fixed"
	"zonearena/world"
)

// Interpolator 远端实体在最近两个权威状态之间插值渲染
type Interpolator struct {
	prev, last *world.State
}

// Push 记录新的权威状态；tick 不前进的状态被忽略
func (ip *Interpolator) Push(s *world.State) {
	if ip.last != nil && s.Tick() <= ip.last.Tick() {
		return
	}
	ip.prev, ip.last = ip.last, s
}

// Reset 丢弃插值基准（全量快照之后调用）
func (ip *Interpolator) Reset(s *world.State) {
	ip.prev, ip.last = nil, s
}

// Span 当前插值区间
func (ip *Interpolator) Span() (from, to uint64, ok bool) {
	if ip.prev == nil || ip.last == nil {
		return 0, 0, false
	}
	return ip.prev.Tick(), ip.last.Tick(), true
}

// Position 实体在 prev 与 last 之间 num/den 处的位置。
// 只出现在 last 中的实体直接取 last 的位置
func (ip *Interpolator) Position(id world.EntityID, num, den int64) (fixed.Vec, bool) {
	if ip.last == nil {
		return fixed.Vec{}, false
	}
	to, ok := ip.last.Entity(id)
	if !ok {
		return fixed.Vec{}, false
	}
	if ip.prev == nil {
		return to.Pos, true
	}
	from, ok := ip.prev.Entity(id)
	if !ok {
		return to.Pos, true
	}
	return from.Pos.Lerp(to.Pos, num, den), true
}

// Remote 按插值位置给出除 self 之外的全部可见实体
func (ip *Interpolator) Remote(self world.EntityID, num, den int64) []world.Entity {
	if ip.last == nil {
		return nil
	}
	var out []world.Entity
	for _, e := range ip.last.Entities() {
		if e.ID == self {
			continue
		}
		if pos, ok := ip.Position(e.ID, num, den); ok {
			e.Pos = pos
		}
		out = append(out, e)
	}
	return out
}
