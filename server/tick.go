package server

import (
	"context"
	"time"

	"zonearena/replay"
	"zonearena/sim"
	"zonearena/world"
)

// history 已确认状态的环形缓冲；状态一经放入不再修改
type history struct {
	ring []*world.State
}

func newHistory(depth int) *history {
	return &history{ring: make([]*world.State, depth)}
}

func (h *history) push(s *world.State) {
	h.ring[s.Tick()%uint64(len(h.ring))] = s
}

// get 返回 tick 对应的状态；已被覆盖或从未出现时返回 nil
func (h *history) get(tick uint64) *world.State {
	s := h.ring[tick%uint64(len(h.ring))]
	if s == nil || s.Tick() != tick {
		return nil
	}
	return s
}

// Start 启动比赛的 Tick 循环（单线程推进世界）
func (m *Match) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.shutdown()
		ticker := time.NewTicker(time.Second / time.Duration(m.opts.TickRate))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				// 核心循环：处理请求与输入 → 模拟 → 触发器 → 按客户端下发
				m.step()
			}
		}
	}()
}

// Stop 结束比赛循环；排队中的消息全部丢弃
func (m *Match) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	if !m.running.Load() {
		m.shutdown()
	}
}

// Done 比赛循环结束后可读
func (m *Match) Done() <-chan struct{} { return m.done }

// step 推进一个 tick。失败的 tick 保留上一个有效状态，比赛继续
func (m *Match) step() {
	start := time.Now()
	p := m.Policy()
	m.drainControl()
	m.drainInbox(p)
	m.applyDisconnectPolicy(p)

	prev := m.state
	tick := prev.Tick()
	inputs := m.buffer.Take(tick)
	ops := m.ops
	m.ops = nil

	out, err := replay.Step(prev, ops, inputs, m.opts.Rules, m.eng)
	if err != nil {
		m.metrics.IncInvariantViolation()
		Log.Errorf("match %s: tick %d rejected, keeping prior state: %v", m.ID, tick, err)
		m.settleJoins(nil, tick)
		m.metrics.AddTick(time.Since(start).Nanoseconds())
		return
	}
	for _, rej := range out.Rejected {
		Log.Warnf("match %s: tick %d: %v", m.ID, tick, rej)
	}

	m.state = out.State
	m.history.push(out.State)
	m.record(tick, out, inputs)
	m.settleJoins(out.Applied, out.State.Tick())
	m.broadcast(out.Events, p)
	m.checkEnded()
	m.publish()
	m.metrics.AddTick(time.Since(start).Nanoseconds())
	if m.ended && m.opts.EndGrace > 0 && m.state.Tick()-m.endedAt >= m.opts.EndGrace {
		Log.Infof("match %s: grace period over, stopping", m.ID)
		m.Stop()
	}
}

func (m *Match) record(tick uint64, out replay.Outcome, inputs []sim.Command) {
	if m.rec == nil || m.rec.Sealed() {
		return
	}
	err := m.rec.Append(replay.Record{
		Tick:   tick,
		Ops:    out.Applied,
		Inputs: inputs,
		Events: out.Events,
		Hash:   out.State.Hash(),
	})
	if err != nil {
		Log.Errorf("match %s: replay append at tick %d: %v", m.ID, tick, err)
	}
}

func (m *Match) checkEnded() {
	mt := m.state.Match()
	if m.ended || mt.Phase != world.PhaseEnded {
		return
	}
	m.ended = true
	m.endedAt = m.state.Tick()
	Log.Infof("match %s ended at tick %d: winner team %d (%s)", m.ID, m.state.Tick(), mt.Winner, mt.Reason)
	m.sealReplay()
}

func (m *Match) sealReplay() {
	if m.rec == nil || m.rec.Sealed() {
		return
	}
	if err := m.rec.Seal(); err != nil {
		Log.Errorf("match %s: seal replay: %v", m.ID, err)
	}
}

// shutdown 关闭所有连接、封存回放
func (m *Match) shutdown() {
	m.shutOnce.Do(func() {
		for _, c := range m.clients {
			c.Close()
		}
		for _, c := range m.joining {
			c.Close()
		}
		m.sealReplay()
		if m.recFile != nil {
			if err := m.recFile.Close(); err != nil {
				Log.Errorf("match %s: close replay: %v", m.ID, err)
			}
		}
		Log.Infof("match %s stopped at tick %d", m.ID, m.state.Tick())
	})
}
