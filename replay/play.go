package replay

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"zonearena/trigger"
	"zonearena/world"
)

// ErrDiverged 重放结果与记录的状态摘要不一致
var ErrDiverged = errors.New("replay diverged")

// Result 重放结果
type Result struct {
	State   *world.State
	Records uint64
	Events  []world.Event
}

// Play 从初始条件开始逐条重放记录，每个 tick 后比对状态摘要。
// 与服务端使用同一个 Step，因此结果必须逐位一致
func Play(r *Reader, log *zap.SugaredLogger) (Result, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := r.Header()
	state, err := world.FromSnapshot(h.Initial)
	if err != nil {
		return Result{}, fmt.Errorf("replay initial state: %w", err)
	}
	eng, err := trigger.New(h.Triggers, trigger.WithLogger(log))
	if err != nil {
		return Result{}, fmt.Errorf("replay triggers: %w", err)
	}
	if len(state.Triggers()) == 0 {
		eng.Install(state)
	}

	res := Result{State: state}
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		if rec.Tick != state.Tick() {
			return res, fmt.Errorf("%w: record for tick %d, state at %d", ErrDiverged, rec.Tick, state.Tick())
		}
		out, err := Step(state, rec.Ops, rec.Inputs, h.Rules, eng)
		if err != nil {
			return res, fmt.Errorf("replay tick %d: %w", rec.Tick, err)
		}
		if len(out.Rejected) > 0 {
			return res, fmt.Errorf("%w: tick %d rejected recorded op: %v", ErrDiverged, rec.Tick, out.Rejected[0])
		}
		if got := out.State.Hash(); got != rec.Hash {
			return res, fmt.Errorf("%w: tick %d hash %016x, recorded %016x", ErrDiverged, rec.Tick, got, rec.Hash)
		}
		state = out.State
		res.State = state
		res.Records++
		res.Events = append(res.Events, out.Events...)
		log.Debugf("replayed tick %d, %d events", rec.Tick, len(out.Events))
	}

	if f, ok := r.Footer(); ok && f.Records > 0 && f.FinalHash != state.Hash() {
		return res, fmt.Errorf("%w: final hash %016x, recorded %016x", ErrDiverged, state.Hash(), f.FinalHash)
	}
	return res, nil
}
