package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"zonearena/protocol"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *Manager) matchFor(w http.ResponseWriter, r *http.Request) (*Match, bool) {
	match, err := m.GetOrDefault(r.URL.Query().Get("match"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMatchNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return nil, false
	}
	return match, true
}

// HandleAdminConfig 读取与热更新比赛的同步策略
// GET /admin/config?match=<id>  返回当前策略
// POST /admin/config?match=<id> 以 JSON 载荷更新部分字段
func (m *Manager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	match, ok := m.matchFor(w, r)
	if !ok {
		return
	}

	type patch struct {
		SnapshotEvery *uint64           `json:"snapshotEvery,omitempty"`
		MaxLead       *uint64           `json:"maxLead,omitempty"`
		StaleBound    *uint64           `json:"staleBound,omitempty"`
		ReorderWindow *int              `json:"reorderWindow,omitempty"`
		MaxResyncs    *int              `json:"maxResyncs,omitempty"`
		ResyncWindow  *uint64           `json:"resyncWindow,omitempty"`
		Disconnect    *DisconnectPolicy `json:"disconnect,omitempty"`
		DropProb      *float64          `json:"dropProb,omitempty"`
		DupProb       *float64          `json:"dupProb,omitempty"`

		AllowClientControl *bool `json:"allowClientControl,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, match.Policy())
	case http.MethodPost:
		var body patch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		p := match.Policy()
		if body.SnapshotEvery != nil {
			p.SnapshotEvery = *body.SnapshotEvery
		}
		if body.MaxLead != nil {
			p.MaxLead = *body.MaxLead
		}
		if body.StaleBound != nil {
			p.StaleBound = *body.StaleBound
		}
		if body.ReorderWindow != nil {
			p.ReorderWindow = *body.ReorderWindow
		}
		if body.MaxResyncs != nil {
			p.MaxResyncs = *body.MaxResyncs
		}
		if body.ResyncWindow != nil {
			p.ResyncWindow = *body.ResyncWindow
		}
		if body.Disconnect != nil {
			p.Disconnect = *body.Disconnect
		}
		if body.DropProb != nil {
			p.DropProb = *body.DropProb
		}
		if body.DupProb != nil {
			p.DupProb = *body.DupProb
		}
		if body.AllowClientControl != nil {
			p.AllowClientControl = *body.AllowClientControl
		}
		if err := match.SetPolicy(p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		Log.Infof("config updated: match=%s snapshotEvery=%d staleBound=%d maxLead=%d window=%d drop=%.2f dup=%.2f",
			match.ID, p.SnapshotEvery, p.StaleBound, p.MaxLead, p.ReorderWindow, p.DropProb, p.DupProb)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminMatch 比赛控制
// POST /admin/match?op=create                       新建比赛，返回 id
// POST /admin/match?match=<id>&op=start|pause|resume|end&reason=...
// POST /admin/match?match=<id>&op=close             停止循环并移除比赛
func (m *Manager) HandleAdminMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	switch q.Get("op") {
	case "create":
		match, err := m.Create()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, match.Info())
		return
	case "close":
		if err := m.End(q.Get("match")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
		return
	}

	op, err := protocol.ParseControlOp(q.Get("op"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	match, ok := m.matchFor(w, r)
	if !ok {
		return
	}
	reason := q.Get("reason")
	if reason == "" {
		reason = "admin"
	}
	if err := match.Control(op, reason); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	Log.Infof("match %s: admin requested %s", match.ID, op)
	writeJSON(w, map[string]any{"ok": true})
}

// HandleMetrics 输出指定比赛的运行指标
// GET /metrics?match=<id>
func (m *Manager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	match, ok := m.matchFor(w, r)
	if !ok {
		return
	}
	info := match.Info()
	writeJSON(w, map[string]any{
		"match":   info.ID,
		"tick":    info.Tick,
		"phase":   info.Phase,
		"metrics": match.Metrics().Snapshot(),
	})
}

// HandleMatches 列出所有比赛
// GET /matches
func (m *Manager) HandleMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.List())
}
