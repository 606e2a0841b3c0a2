package world

import (
	"math"

	"zonearena/fixed"
)

// EntityID 实体唯一标识，一局内永不复用；0 表示“无”
type EntityID uint32

// ZoneID 区域编号，从 0 开始连续分配
type ZoneID uint16

// NoZone 表示实体不在任何区域内
const NoZone ZoneID = math.MaxUint16

// TeamID 队伍编号；0 为中立
type TeamID uint8

// TeamNeutral 中立（无归属）
const TeamNeutral TeamID = 0

// Kind 实体类型
type Kind uint8

const (
	KindPlayer Kind = iota + 1
	KindProjectile
	KindPickup
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindProjectile:
		return "projectile"
	case KindPickup:
		return "pickup"
	default:
		return "unknown"
	}
}

// Flags 离散状态位
type Flags uint8

const (
	FlagAlive Flags = 1 << iota
	FlagGhost
	FlagShielded
	FlagDisconnected
)

// Has 是否包含全部给定状态位
func (f Flags) Has(o Flags) bool { return f&o == o }

// Upgrade 玩家持有的升级/技能
type Upgrade uint8

const (
	UpgradeNone Upgrade = iota
	UpgradeShield
	UpgradeSpeed
	UpgradeRapid
)

func (u Upgrade) String() string {
	switch u {
	case UpgradeShield:
		return "shield"
	case UpgradeSpeed:
		return "speed"
	case UpgradeRapid:
		return "rapid"
	default:
		return "none"
	}
}

// Entity 玩家、子弹、道具的统一表示。对外总是以值返回，修改只能走 State 的操作
type Entity struct {
	ID      EntityID  `json:"id" msgpack:"id"`
	Kind    Kind      `json:"kind" msgpack:"kind"`
	Name    string    `json:"name,omitempty" msgpack:"name,omitempty"`
	Pos     fixed.Vec `json:"pos" msgpack:"pos"`
	Vel     fixed.Vec `json:"vel" msgpack:"vel"`
	Facing  fixed.Vec `json:"facing" msgpack:"facing"`
	Team    TeamID    `json:"team" msgpack:"team"`
	Flags   Flags     `json:"flags" msgpack:"flags"`
	Upgrade Upgrade   `json:"upgrade" msgpack:"upgrade"`
	// Owner 子弹的发射者；玩家与道具为 0
	Owner EntityID `json:"owner,omitempty" msgpack:"owner,omitempty"`
	// Zone 由位置推导，调用方写入无效
	Zone ZoneID `json:"zone" msgpack:"zone"`
	// Cooldown 射击冷却；Dash 冲刺冷却（tick）
	Cooldown uint16 `json:"cooldown,omitempty" msgpack:"cooldown,omitempty"`
	Dash     uint16 `json:"dash,omitempty" msgpack:"dash,omitempty"`
	// Timer 含义随状态变化：幽灵的复活倒计时、子弹寿命、速度/射速升级剩余时间
	Timer uint16 `json:"timer,omitempty" msgpack:"timer,omitempty"`
	// Shield 护盾剩余 tick，归零时清除 FlagShielded
	Shield uint16 `json:"shield,omitempty" msgpack:"shield,omitempty"`
}

// Alive 玩家是否存活
func (e Entity) Alive() bool { return e.Kind == KindPlayer && e.Flags.Has(FlagAlive) }

// Zone 地图上的可占领区域。数量与邻接关系在整局中固定，只有归属与进度会变化
type Zone struct {
	ID       ZoneID    `json:"id" msgpack:"id"`
	Min      fixed.Vec `json:"min" msgpack:"min"`
	Max      fixed.Vec `json:"max" msgpack:"max"`
	Owner    TeamID    `json:"owner" msgpack:"owner"`
	Capturer TeamID    `json:"capturer" msgpack:"capturer"`
	Progress int32     `json:"progress" msgpack:"progress"`
	Adjacent []ZoneID  `json:"adjacent,omitempty" msgpack:"adjacent,omitempty"`
	// Occupants 区域内玩家 id，升序
	Occupants []EntityID `json:"occupants,omitempty" msgpack:"occupants,omitempty"`
}

// Contains 点是否在区域内（含左上边界，不含右下边界）
func (z *Zone) Contains(p fixed.Vec) bool {
	return p.X >= z.Min.X && p.X < z.Max.X && p.Y >= z.Min.Y && p.Y < z.Max.Y
}

// Center 区域中心点
func (z *Zone) Center() fixed.Vec {
	return fixed.Vec{X: (z.Min.X + z.Max.X) / 2, Y: (z.Min.Y + z.Max.Y) / 2}
}

// IsAdjacent 是否与 other 相邻
func (z *Zone) IsAdjacent(other ZoneID) bool {
	for _, a := range z.Adjacent {
		if a == other {
			return true
		}
	}
	return false
}

// ZoneState 区域的可变部分，用于增量同步
type ZoneState struct {
	ID       ZoneID `json:"id" msgpack:"id"`
	Owner    TeamID `json:"owner" msgpack:"owner"`
	Capturer TeamID `json:"capturer" msgpack:"capturer"`
	Progress int32  `json:"progress" msgpack:"progress"`
}

// Phase 比赛阶段
type Phase uint8

const (
	PhaseWaiting Phase = iota
	PhaseRunning
	PhasePaused
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Match 比赛状态（开始/结束 tick、胜者）
type Match struct {
	Phase     Phase  `json:"phase" msgpack:"phase"`
	StartTick uint64 `json:"startTick" msgpack:"startTick"`
	EndTick   uint64 `json:"endTick,omitempty" msgpack:"endTick,omitempty"`
	Winner    TeamID `json:"winner,omitempty" msgpack:"winner,omitempty"`
	Reason    string `json:"reason,omitempty" msgpack:"reason,omitempty"`
	// PausedTicks 暂停期间经过的 tick，不计入比赛时钟
	PausedTicks uint64 `json:"pausedTicks,omitempty" msgpack:"pausedTicks,omitempty"`
}

// Elapsed 到 tick 为止比赛时钟走过的 tick 数
func (m Match) Elapsed(tick uint64) uint64 {
	if tick < m.StartTick+m.PausedTicks {
		return 0
	}
	return tick - m.StartTick - m.PausedTicks
}

// TriggerState 触发器的激活状态。触发器本身无状态，激活位保存在世界状态中以保证回放确定性
type TriggerState struct {
	Kind   uint8 `json:"kind" msgpack:"kind"`
	Active bool  `json:"active" msgpack:"active"`
	// Pending 下一个 tick 边界生效的变更：0 无，1 激活，-1 停用
	Pending int8 `json:"pending,omitempty" msgpack:"pending,omitempty"`
}

// ZoneSpec 地图区域定义
type ZoneSpec struct {
	Min      fixed.Vec
	Max      fixed.Vec
	Owner    TeamID
	Adjacent []ZoneID
}

// MapSpec 创建世界所需的地图定义
type MapSpec struct {
	Width            fixed.Fixed
	Height           fixed.Fixed
	Teams            int
	CaptureThreshold int32
	Zones            []ZoneSpec
	// Spawns 每队的出生点，下标为 team-1；无己方区域时使用
	Spawns []fixed.Vec
}
