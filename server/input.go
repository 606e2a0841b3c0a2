package server

import (
	"fmt"

	"zonearena/sim"
)

// verdict 输入准入结果
type verdict uint8

const (
	inputAccepted verdict = iota
	inputBuffered
	inputDeferred
	inputDropped
)

// inputBuffer 按目标 tick 暂存已接受的输入，仅由 tick 线程访问
type inputBuffer struct {
	byTick map[uint64][]sim.Command
}

func newInputBuffer() *inputBuffer {
	return &inputBuffer{byTick: make(map[uint64][]sim.Command)}
}

// Admit 按策略接收一条输入。now 为即将计算的 tick：
// 未来 tick 在 MaxLead 内缓存，迟到不超过 StaleBound 的推迟到 now，更迟的丢弃
func (b *inputBuffer) Admit(cmd sim.Command, now uint64, p Policy) (verdict, error) {
	switch {
	case cmd.Tick > now+p.MaxLead:
		return inputDropped, fmt.Errorf("%w: tick %d, server at %d, lead %d", ErrTooEarly, cmd.Tick, now, p.MaxLead)
	case cmd.Tick > now:
		b.byTick[cmd.Tick] = append(b.byTick[cmd.Tick], cmd)
		return inputBuffered, nil
	case cmd.Tick == now:
		b.byTick[now] = append(b.byTick[now], cmd)
		return inputAccepted, nil
	case now-cmd.Tick <= p.StaleBound:
		cmd.Tick = now
		b.byTick[now] = append(b.byTick[now], cmd)
		return inputDeferred, nil
	}
	return inputDropped, fmt.Errorf("%w: entity %d tick %d arrived at %d, bound %d", ErrStaleInput, cmd.Entity, cmd.Tick, now, p.StaleBound)
}

// Take 取出 now 的输入，并丢弃更早的残留
func (b *inputBuffer) Take(now uint64) []sim.Command {
	out := b.byTick[now]
	for t := range b.byTick {
		if t <= now {
			delete(b.byTick, t)
		}
	}
	return out
}

// Pending 缓存中的输入条数
func (b *inputBuffer) Pending() int {
	n := 0
	for _, cs := range b.byTick {
		n += len(cs)
	}
	return n
}
