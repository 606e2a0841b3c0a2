package world

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation 变更会破坏世界结构不变量
	ErrInvariantViolation = errors.New("world: invariant violation")
	// ErrDeltaBase 增量的基准 tick 与本地状态不一致
	ErrDeltaBase = errors.New("world: delta base tick mismatch")
)

// InvariantViolation 描述被拒绝的变更
type InvariantViolation struct {
	Op     string
	Entity EntityID
	Zone   ZoneID
	Reason string
}

func (v *InvariantViolation) Error() string {
	switch {
	case v.Entity != 0:
		return fmt.Sprintf("world: %s entity=%d: %s", v.Op, v.Entity, v.Reason)
	case v.Zone != NoZone:
		return fmt.Sprintf("world: %s zone=%d: %s", v.Op, v.Zone, v.Reason)
	default:
		return fmt.Sprintf("world: %s: %s", v.Op, v.Reason)
	}
}

func (v *InvariantViolation) Is(target error) bool { return target == ErrInvariantViolation }

func entityViolation(op string, id EntityID, reason string) error {
	return &InvariantViolation{Op: op, Entity: id, Zone: NoZone, Reason: reason}
}

func zoneViolation(op string, id ZoneID, reason string) error {
	return &InvariantViolation{Op: op, Zone: id, Reason: reason}
}

func stateViolation(op, reason string) error {
	return &InvariantViolation{Op: op, Zone: NoZone, Reason: reason}
}
