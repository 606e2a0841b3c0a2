package client

import (
	"fmt"
	"strconv"
	"strings"

	"zonearena/sim"
)

// Step 脚本中的一段：连续 Ticks 个 tick 施加同一组动作
type Step struct {
	Actions sim.ActionSet
	Ticks   int
}

// Script 循环播放的输入脚本，例如 "right*20,down+shoot*5,none*3"
type Script struct {
	steps []Step
	i     int
	left  int
}

// ParseScript 解析脚本；次数缺省为 1，"none" 表示空闲
func ParseScript(s string) (*Script, error) {
	sc := &Script{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count := part, 1
		if i := strings.LastIndexByte(part, '*'); i >= 0 {
			n, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("script step %q: bad repeat count", part)
			}
			name, count = strings.TrimSpace(part[:i]), n
		}
		actions := sim.ParseActions(name)
		if actions == 0 && name != "none" {
			return nil, fmt.Errorf("script step %q: unknown action", part)
		}
		sc.steps = append(sc.steps, Step{Actions: actions, Ticks: count})
	}
	if len(sc.steps) == 0 {
		return nil, fmt.Errorf("empty script")
	}
	sc.left = sc.steps[0].Ticks
	return sc, nil
}

// Next 当前 tick 的动作，脚本结束后从头开始
func (sc *Script) Next() sim.ActionSet {
	a := sc.steps[sc.i].Actions
	sc.left--
	if sc.left == 0 {
		sc.i = (sc.i + 1) % len(sc.steps)
		sc.left = sc.steps[sc.i].Ticks
	}
	return a
}

// Input 适配 Client.Run
func (sc *Script) Input(*Session) (sim.ActionSet, int8, int8) {
	return sc.Next(), 0, 0
}
