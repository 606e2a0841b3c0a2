package trigger

import (
	"fmt"
	"strings"

	"zonearena/world"
)

// Kind 触发器种类。数值会写入世界状态与回放文件，只能追加
type Kind uint8

const (
	KindCaptureProgress Kind = iota + 1
	KindOwnershipFlip
	KindVictoryAllZones
	KindTimedExpiry
	KindZoneOccupancy
	KindEliminationScore
	KindStartWhenReady
)

var kindNames = map[Kind]string{
	KindCaptureProgress:  "capture_progress",
	KindOwnershipFlip:    "ownership_flip",
	KindVictoryAllZones:  "victory_all_zones",
	KindTimedExpiry:      "timed_expiry",
	KindZoneOccupancy:    "zone_occupancy",
	KindEliminationScore: "elimination_score",
	KindStartWhenReady:   "start_when_ready",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind 按名称查找触发器种类
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger %q", name)
}

// Terminal 比赛结束后不再运行的触发器
func (k Kind) Terminal() bool {
	switch k {
	case KindZoneOccupancy, KindEliminationScore:
		return false
	}
	return true
}

// Spec 声明顺序即执行顺序
type Spec struct {
	Kind   Kind `json:"kind" msgpack:"kind"`
	Active bool `json:"active" msgpack:"active"`
}

// Activation 当某类事件出现时，在下一个 tick 边界切换某个触发器的激活状态
type Activation struct {
	On      world.EventKind `json:"on" msgpack:"on"`
	Trigger Kind            `json:"trigger" msgpack:"trigger"`
	Active  bool            `json:"active" msgpack:"active"`
}

// Config 比赛设置提供的触发器集合与参数
type Config struct {
	Order []Spec `json:"order" msgpack:"order"`
	// CaptureRate 单队无争夺占领时每 tick 增加的进度
	CaptureRate int32 `json:"captureRate" msgpack:"captureRate"`
	// DecayPerTick 无人占领时进度每 tick 回落量
	DecayPerTick int32 `json:"decayPerTick" msgpack:"decayPerTick"`
	// RequireAdjacency 只能占领与己方区域相邻的区域
	RequireAdjacency bool `json:"requireAdjacency" msgpack:"requireAdjacency"`
	// TimeLimitTicks 0 表示不限时
	TimeLimitTicks uint64 `json:"timeLimitTicks" msgpack:"timeLimitTicks"`
	MinPlayers     int    `json:"minPlayers" msgpack:"minPlayers"`
	// KillScore 每次击杀的得分
	KillScore   int64        `json:"killScore" msgpack:"killScore"`
	Activations []Activation `json:"activations,omitempty" msgpack:"activations,omitempty"`
}

// DefaultOrder 默认触发器顺序：开局、区域进出、占领累积、归属翻转、计分、胜负判定
func DefaultOrder() []Spec {
	return []Spec{
		{Kind: KindStartWhenReady, Active: true},
		{Kind: KindZoneOccupancy, Active: true},
		{Kind: KindCaptureProgress, Active: true},
		{Kind: KindOwnershipFlip, Active: true},
		{Kind: KindEliminationScore, Active: true},
		{Kind: KindVictoryAllZones, Active: true},
		{Kind: KindTimedExpiry, Active: true},
	}
}

func DefaultConfig() Config {
	return Config{
		Order:            DefaultOrder(),
		CaptureRate:      1,
		DecayPerTick:     1,
		RequireAdjacency: true,
		TimeLimitTicks:   20 * 60 * 10,
		MinPlayers:       2,
		KillScore:        1,
	}
}

// Validate 检查配置：种类合法且不重复，参数非负
func (c Config) Validate() error {
	seen := make(map[Kind]bool, len(c.Order))
	for _, s := range c.Order {
		if _, ok := kindNames[s.Kind]; !ok {
			return fmt.Errorf("trigger config: unknown kind %d", s.Kind)
		}
		if seen[s.Kind] {
			return fmt.Errorf("trigger config: %s declared twice", s.Kind)
		}
		seen[s.Kind] = true
	}
	for _, a := range c.Activations {
		if !seen[a.Trigger] {
			return fmt.Errorf("trigger config: activation targets undeclared trigger %s", a.Trigger)
		}
	}
	if c.CaptureRate <= 0 {
		return fmt.Errorf("trigger config: captureRate must be positive")
	}
	if c.DecayPerTick < 0 || c.MinPlayers < 0 {
		return fmt.Errorf("trigger config: negative parameter")
	}
	return nil
}

// States 初始的激活状态，写入世界状态
func (c Config) States() []world.TriggerState {
	out := make([]world.TriggerState, len(c.Order))
	for i, s := range c.Order {
		out[i] = world.TriggerState{Kind: uint8(s.Kind), Active: s.Active}
	}
	return out
}
