package client

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zonearena/fixed"
	"zonearena/sim"
	"zonearena/world"
)

var (
	// ErrNotReady 尚未收到权威状态或欢迎消息
	ErrNotReady = errors.New("client: no authoritative state yet")
	// ErrPredictionFull 预测窗口已满，需等待服务端追上
	ErrPredictionFull = errors.New("client: prediction window full")
)

// CorrectionMode 对账后本地实体的修正方式
type CorrectionMode uint8

const (
	CorrectionNone CorrectionMode = iota
	CorrectionSmooth
	CorrectionSnap
)

func (m CorrectionMode) String() string {
	switch m {
	case CorrectionSmooth:
		return "smooth"
	case CorrectionSnap:
		return "snap"
	}
	return "none"
}

// Correction 一次对账的结果
type Correction struct {
	Tick       uint64
	Mode       CorrectionMode
	Divergence fixed.Fixed
	Replayed   int
}

// frame 预测缓冲中的一格：在 tick 施加的本地指令及其产生的推测状态（tick+1）
type frame struct {
	tick  uint64
	cmd   sim.Command
	state *world.State
}

// Predictor 本地实体的客户端预测。
// 推测状态 = 最新权威状态 + 本地实体按未确认指令重放的结果；远端实体从不推测
type Predictor struct {
	self      world.EntityID
	rules     sim.Rules
	depth     int
	tolerance fixed.Fixed
	smoothing int
	log       *zap.SugaredLogger

	base   *world.State
	frames []frame

	offset     fixed.Vec
	smoothLeft int
}

func NewPredictor(self world.EntityID, rules sim.Rules, opts Options) *Predictor {
	depth := opts.Depth
	if depth < 1 {
		depth = 1
	}
	return &Predictor{
		self:      self,
		rules:     rules,
		depth:     depth,
		tolerance: opts.SnapTolerance,
		smoothing: opts.SmoothingTicks,
		log:       opts.logger(),
	}
}

// Base 最新的权威状态
func (p *Predictor) Base() *world.State { return p.base }

// Head 当前推测状态；没有未确认指令时即权威状态
func (p *Predictor) Head() *world.State {
	if n := len(p.frames); n > 0 {
		return p.frames[n-1].state
	}
	return p.base
}

// Pending 尚未被权威状态覆盖的本地指令数
func (p *Predictor) Pending() int { return len(p.frames) }

// Predict 立即施加一条本地指令，返回要发给服务端的指令（tick 为推测状态的当前 tick）
func (p *Predictor) Predict(actions sim.ActionSet, aimX, aimY int8) (sim.Command, error) {
	head := p.Head()
	if head == nil {
		return sim.Command{}, ErrNotReady
	}
	if len(p.frames) >= p.depth {
		return sim.Command{}, fmt.Errorf("%w: %d ticks ahead of %d", ErrPredictionFull, len(p.frames), p.base.Tick())
	}
	cmd := sim.Command{Tick: head.Tick(), Entity: p.self, Actions: actions, AimX: aimX, AimY: aimY}
	next, err := p.speculate(p.base, head, cmd)
	if err != nil {
		return sim.Command{}, err
	}
	p.frames = append(p.frames, frame{tick: cmd.Tick, cmd: cmd, state: next})
	if p.smoothLeft > 0 {
		p.smoothLeft--
	}
	return cmd, nil
}

// Reconcile 接受新的权威状态：丢弃其之前的帧，从权威状态按原 tick 重放其余本地指令。
// 结果只取决于权威状态与缓冲中的指令
func (p *Predictor) Reconcile(auth *world.State) (Correction, error) {
	if p.base != nil && auth.Tick() < p.base.Tick() {
		return Correction{Tick: auth.Tick()}, nil
	}
	before, hadBefore := p.selfIn(p.Head())

	kept := p.frames[:0]
	for _, f := range p.frames {
		if f.tick >= auth.Tick() {
			kept = append(kept, f)
		}
	}
	p.frames = kept
	p.base = auth

	cur := auth
	for i := range p.frames {
		f := &p.frames[i]
		if f.tick != cur.Tick() {
			// 指令保持发送时的 tick；接不上推测状态的帧及其后续全部丢弃
			p.log.Debugf("tick %d: dropping %d frames from tick %d", auth.Tick(), len(p.frames)-i, f.tick)
			p.frames = p.frames[:i]
			break
		}
		next, err := p.speculate(auth, cur, f.cmd)
		if err != nil {
			p.frames = p.frames[:i]
			return Correction{Tick: auth.Tick(), Mode: CorrectionSnap}, err
		}
		f.state = next
		cur = next
	}

	c := Correction{Tick: auth.Tick(), Replayed: len(p.frames)}
	after, hasAfter := p.selfIn(p.Head())
	switch {
	case !hadBefore && !hasAfter:
		return c, nil
	case hadBefore != hasAfter:
		c.Mode = CorrectionSnap
	default:
		c.Divergence = before.Pos.Chebyshev(after.Pos)
		switch {
		case c.Divergence == 0:
			return c, nil
		case c.Divergence > p.tolerance || p.smoothing <= 0:
			c.Mode = CorrectionSnap
		default:
			c.Mode = CorrectionSmooth
		}
	}

	if c.Mode == CorrectionSnap {
		p.offset = fixed.Vec{}
		p.smoothLeft = 0
	} else {
		p.offset = p.visualOffset().Add(before.Pos.Sub(after.Pos))
		p.smoothLeft = p.smoothing
	}
	p.log.Debugf("tick %d: %s correction of %s, replayed %d", c.Tick, c.Mode, c.Divergence, c.Replayed)
	return c, nil
}

// Self 用于渲染的本地实体：推测位置加上尚未消化的平滑偏移
func (p *Predictor) Self() (world.Entity, bool) {
	e, ok := p.selfIn(p.Head())
	if !ok {
		return e, false
	}
	e.Pos = e.Pos.Add(p.visualOffset())
	return e, true
}

func (p *Predictor) visualOffset() fixed.Vec {
	if p.smoothLeft <= 0 || p.smoothing <= 0 {
		return fixed.Vec{}
	}
	return fixed.Vec{}.Lerp(p.offset, int64(p.smoothLeft), int64(p.smoothing))
}

func (p *Predictor) selfIn(s *world.State) (world.Entity, bool) {
	if s == nil {
		return world.Entity{}, false
	}
	return s.Entity(p.self)
}

// speculate 推进一步后只保留本地实体的结果，其余内容取自权威状态
func (p *Predictor) speculate(auth, cur *world.State, cmd sim.Command) (*world.State, error) {
	next, _, err := sim.Advance(cur, []sim.Command{cmd}, p.rules)
	if err != nil {
		return nil, err
	}
	out := auth.Clone()
	out.SetTick(next.Tick())
	self, ok := next.Entity(p.self)
	if !ok {
		return out, nil
	}
	if _, exists := out.Entity(p.self); !exists {
		return out, nil
	}
	if err := out.UpdateEntity(p.self, func(e *world.Entity) { *e = self }); err != nil {
		return nil, err
	}
	return out, nil
}
