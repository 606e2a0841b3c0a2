package sim

import (
	"sort"
	"strings"

	"zonearena/world"
)

// ActionSet 一个 tick 内玩家意图的位集合
type ActionSet uint8

const (
	ActMoveLeft ActionSet = 1 << iota
	ActMoveRight
	ActMoveUp
	ActMoveDown
	// ActJump 冲刺：沿朝向短时加速
	ActJump
	ActShoot
	ActAbility
)

// Has 是否包含某动作
func (a ActionSet) Has(o ActionSet) bool { return a&o == o }

var actionNames = []struct {
	act  ActionSet
	name string
}{
	{ActMoveLeft, "left"},
	{ActMoveRight, "right"},
	{ActMoveUp, "up"},
	{ActMoveDown, "down"},
	{ActJump, "jump"},
	{ActShoot, "shoot"},
	{ActAbility, "ability"},
}

func (a ActionSet) String() string {
	var parts []string
	for _, n := range actionNames {
		if a.Has(n.act) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseActions 解析 "left+shoot" 形式的动作串，未知名称忽略
func ParseActions(s string) ActionSet {
	var a ActionSet
	for _, p := range strings.Split(strings.ToLower(s), "+") {
		for _, n := range actionNames {
			if strings.TrimSpace(p) == n.name {
				a |= n.act
			}
		}
	}
	return a
}

// Command 某实体在某 tick 的输入指令
type Command struct {
	Tick    uint64         `json:"tick" msgpack:"tick"`
	Entity  world.EntityID `json:"entity" msgpack:"entity"`
	Seq     uint64         `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Actions ActionSet      `json:"actions" msgpack:"actions"`
	// AimX/AimY 瞄准方向，零向量表示沿移动方向
	AimX int8 `json:"aimX,omitempty" msgpack:"aimX,omitempty"`
	AimY int8 `json:"aimY,omitempty" msgpack:"aimY,omitempty"`
}

// Normalize 只保留属于 tick 的指令，按实体 id 升序；同一实体的多条指令以列表中靠后的为准
func Normalize(tick uint64, inputs []Command) []Command {
	out := make([]Command, 0, len(inputs))
	for _, c := range inputs {
		if c.Tick == tick && c.Entity != 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	dedup := out[:0]
	for i, c := range out {
		if i+1 < len(out) && out[i+1].Entity == c.Entity {
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
