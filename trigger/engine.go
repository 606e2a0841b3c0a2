package trigger

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zonearena/world"
)

// ErrTriggerFault 触发器执行失败（返回错误或 panic）
var ErrTriggerFault = errors.New("trigger fault")

// Fault 某个触发器在某个 tick 的失败
type Fault struct {
	Trigger Kind
	Tick    uint64
	Err     error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("trigger %s at tick %d: %v", f.Trigger, f.Tick, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) Is(target error) bool { return target == ErrTriggerFault }

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志；默认不输出
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithFaultHook 每次触发器失败时回调（用于计数）
func WithFaultHook(fn func(*Fault)) Option {
	return func(e *Engine) { e.onFault = fn }
}

// Engine 按声明顺序执行触发器。激活位保存在世界状态中，引擎本身只持有配置
type Engine struct {
	cfg      Config
	triggers []Trigger
	log      *zap.SugaredLogger
	onFault  func(*Fault)
}

// New 按配置构建引擎
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: zap.NewNop().Sugar()}
	for _, s := range cfg.Order {
		e.triggers = append(e.triggers, build(s.Kind, cfg))
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Install 将初始激活状态写入世界状态（比赛开始前调用一次）
func (e *Engine) Install(s *world.State) {
	s.SetTriggers(e.cfg.States())
}

// RequestActivation 请求切换某触发器的激活状态，下一个 tick 边界才生效
func RequestActivation(s *world.State, kind Kind, active bool) error {
	for i, ts := range s.Triggers() {
		if Kind(ts.Kind) != kind {
			continue
		}
		ts.Pending = -1
		if active {
			ts.Pending = 1
		}
		return s.SetTriggerState(i, ts)
	}
	return fmt.Errorf("request activation: trigger %s not installed", kind)
}

// Run 在模拟步之后执行一轮触发器，返回新状态与本 tick 的全部事件（含 simEvents，已去重）。
// after 会被直接修改；单个触发器的失败只丢弃该触发器本 tick 的效果
func (e *Engine) Run(before, after *world.State, simEvents []world.Event) (*world.State, []world.Event, error) {
	if len(after.Triggers()) != len(e.triggers) {
		e.Install(after)
	}
	if err := applyPending(after); err != nil {
		return nil, nil, err
	}

	tick := after.Tick()
	seen := make(map[[5]uint64]bool, len(simEvents))
	var events []world.Event
	emit := func(evs []world.Event) {
		for _, ev := range evs {
			ev.Tick = tick
			if seen[ev.Key()] {
				continue
			}
			seen[ev.Key()] = true
			events = append(events, ev)
		}
	}
	emit(simEvents)

	cur := after
	states := after.Triggers()
	for i, t := range e.triggers {
		if !states[i].Active {
			continue
		}
		if cur.Match().Phase == world.PhaseEnded && t.Kind().Terminal() {
			continue
		}
		next := cur.Clone()
		out, err := observe(t, before, next, events)
		if err != nil {
			f := &Fault{Trigger: t.Kind(), Tick: tick, Err: err}
			e.log.Warnf("trigger fault: %v", f)
			if e.onFault != nil {
				e.onFault(f)
			}
			emit([]world.Event{{Kind: world.EventTriggerFault, Zone: world.NoZone, Other: uint32(t.Kind()), Detail: err.Error()}})
			continue
		}
		cur = next
		emit(out)
	}

	if err := e.scheduleActivations(cur, events); err != nil {
		return nil, nil, err
	}
	return cur, events, nil
}

// observe 执行单个触发器并把 panic 转成错误
func observe(t Trigger, before, after *world.State, events []world.Event) (out []world.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Observe(before, after, events)
}

func applyPending(s *world.State) error {
	for i, ts := range s.Triggers() {
		if ts.Pending == 0 {
			continue
		}
		ts.Active = ts.Pending > 0
		ts.Pending = 0
		if err := s.SetTriggerState(i, ts); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scheduleActivations(s *world.State, events []world.Event) error {
	for _, a := range e.cfg.Activations {
		for _, ev := range events {
			if ev.Kind != a.On {
				continue
			}
			if err := RequestActivation(s, a.Trigger, a.Active); err != nil {
				return err
			}
			break
		}
	}
	return nil
}
