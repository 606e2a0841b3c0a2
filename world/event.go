package world

import "fmt"

// EventKind 领域事件类型，供外部统计/成就系统消费
type EventKind uint8

const (
	EventZoneCaptured EventKind = iota + 1
	EventZoneNeutralised
	EventMatchStarted
	EventMatchEnded
	EventPlayerEliminated
	EventPlayerRespawned
	EventPickupCollected
	EventZoneEntered
	EventZoneExited
	EventScoreChanged
	// EventTriggerFault 诊断事件：某触发器本 tick 的效果被跳过
	EventTriggerFault
)

var eventNames = map[EventKind]string{
	EventZoneCaptured:     "zone_captured",
	EventZoneNeutralised:  "zone_neutralised",
	EventMatchStarted:     "match_started",
	EventMatchEnded:       "match_ended",
	EventPlayerEliminated: "player_eliminated",
	EventPlayerRespawned:  "player_respawned",
	EventPickupCollected:  "pickup_collected",
	EventZoneEntered:      "zone_entered",
	EventZoneExited:       "zone_exited",
	EventScoreChanged:     "score_changed",
	EventTriggerFault:     "trigger_fault",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseEventKind 按名称查找事件类型
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event %q", name)
}

// Event 某一 tick 发生的领域事件
type Event struct {
	Tick   uint64    `json:"tick" msgpack:"tick"`
	Kind   EventKind `json:"kind" msgpack:"kind"`
	Zone   ZoneID    `json:"zone" msgpack:"zone"`
	Team   TeamID    `json:"team,omitempty" msgpack:"team,omitempty"`
	Entity EntityID  `json:"entity,omitempty" msgpack:"entity,omitempty"`
	// Other 关联实体（例如击杀者）或前任归属队伍
	Other  uint32 `json:"other,omitempty" msgpack:"other,omitempty"`
	Detail string `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Key 用于同一 tick 内去重
func (e Event) Key() [5]uint64 {
	return [5]uint64{e.Tick, uint64(e.Kind), uint64(e.Zone), uint64(e.Team)<<32 | uint64(e.Entity), uint64(e.Other)}
}
