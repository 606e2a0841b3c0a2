package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonearena/fixed"
	"zonearena/server"
	"zonearena/trigger"
	"zonearena/world"
)

const sample = `
addr = ":9000"
tick_rate = 30

[map]
zones = 3
zone_size = 100
capture_threshold = 10
owners = [1, 0, 2]

[rules]
player_speed = 2.5

[triggers]
order = ["start_when_ready", "capture_progress", "ownership_flip", "timed_expiry"]
inactive = ["timed_expiry"]
min_players = 4

[[triggers.activations]]
on = "match_started"
trigger = "timed_expiry"
active = true

[policy]
stale_bound = 5
disconnect = "pause"
allow_client_control = true
`

func TestDefaultMatchesServerDefaults(t *testing.T) {
	opts, err := Default().Options()
	require.NoError(t, err)
	want := server.DefaultOptions()
	assert.Equal(t, want.Map, opts.Map)
	assert.Equal(t, want.Rules, opts.Rules)
	assert.Equal(t, want.Triggers, opts.Triggers)
	assert.Equal(t, want.Policy, opts.Policy)
	assert.Equal(t, want.TickRate, opts.TickRate)
	assert.Equal(t, want.EndGrace, opts.EndGrace)
}

func TestDecodeOverridesOnlyGivenFields(t *testing.T) {
	f, err := Decode([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, ":9000", f.Addr)
	assert.Equal(t, "info", f.Log.Level, "untouched sections keep defaults")

	opts, err := f.Options()
	require.NoError(t, err)
	assert.Equal(t, 30, opts.TickRate)
	assert.Equal(t, world.Corridor(3, fixed.FromInt(100), 10, 1, 0, 2), opts.Map)
	assert.Equal(t, fixed.FromFloat(2.5), opts.Rules.PlayerSpeed)
	assert.Equal(t, server.DefaultOptions().Rules.DashSpeed, opts.Rules.DashSpeed)

	require.Len(t, opts.Triggers.Order, 4)
	assert.Equal(t, trigger.Spec{Kind: trigger.KindTimedExpiry, Active: false}, opts.Triggers.Order[3])
	assert.True(t, opts.Triggers.Order[0].Active)
	assert.Equal(t, 4, opts.Triggers.MinPlayers)
	assert.Equal(t, []trigger.Activation{{On: world.EventMatchStarted, Trigger: trigger.KindTimedExpiry, Active: true}}, opts.Triggers.Activations)

	assert.Equal(t, uint64(5), opts.Policy.StaleBound)
	assert.Equal(t, server.DisconnectPause, opts.Policy.Disconnect)
	assert.True(t, opts.Policy.AllowClientControl)
	assert.False(t, Default().Policy.AllowClientControl)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode([]byte("tick_rat = 10\n"))
	assert.Error(t, err)
}

func TestOptionsRejectsBadValues(t *testing.T) {
	cases := map[string]func(*File){
		"tick rate":   func(f *File) { f.TickRate = 0 },
		"map":         func(f *File) { f.Map.Zones = 0 },
		"trigger":     func(f *File) { f.Triggers.Order = append(f.Triggers.Order, "no_such_trigger") },
		"event":       func(f *File) { f.Triggers.Activations = []ActivationSection{{On: "nope", Trigger: "timed_expiry"}} },
		"window":      func(f *File) { f.Policy.ReorderWindow = 65 },
		"disconnect":  func(f *File) { f.Policy.Disconnect = "vanish" },
		"probability": func(f *File) { f.Policy.DropProb = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := Default()
			mutate(&f)
			_, err := f.Options()
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{EnvAddr: ":7000", EnvTickRate: "50", EnvLog: "/tmp/arena.log"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	f := Default()
	require.NoError(t, f.ApplyEnv(lookup))
	assert.Equal(t, ":7000", f.Addr)
	assert.Equal(t, 50, f.TickRate)
	assert.Equal(t, "/tmp/arena.log", f.Log.Path)

	env[EnvTickRate] = "fast"
	assert.Error(t, f.ApplyEnv(lookup))
}

func TestFromEnvReadsDotEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "arena.toml")
	require.NoError(t, os.WriteFile(cfg, []byte(sample), 0o644))
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("ARENA_TICK_RATE=40\n"), 0o644))

	_ = os.Unsetenv(EnvTickRate)
	t.Cleanup(func() { _ = os.Unsetenv(EnvTickRate) })

	f, err := FromEnv(cfg, dotenv, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9000", f.Addr)
	assert.Equal(t, 40, f.TickRate)
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), f)

	_, err = Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestSchemaHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleSchema(rec, httptest.NewRequest(http.MethodGet, "/admin/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "zonearena match configuration", doc["title"])
	assert.Contains(t, rec.Body.String(), "tick_rate")
	assert.Contains(t, rec.Body.String(), "stale_bound")

	rec = httptest.NewRecorder()
	HandleSchema(rec, httptest.NewRequest(http.MethodPost, "/admin/schema", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
