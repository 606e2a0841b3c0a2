// Package config 把 TOML 比赛配置文件与环境变量转换为 server.Options。
// 核心包只接受结构体配置，不解析文件
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"zonearena/fixed"
	"zonearena/server"
	"zonearena/sim"
	"zonearena/trigger"
	"zonearena/world"
)

// 环境变量覆盖项
const (
	EnvAddr     = "ARENA_ADDR"
	EnvLog      = "ARENA_LOG"
	EnvLogLevel = "ARENA_LOG_LEVEL"
	EnvTickRate = "ARENA_TICK_RATE"
	EnvConfig   = "ARENA_CONFIG"
	EnvReplay   = "ARENA_REPLAY_DIR"
)

type LogSection struct {
	Path  string `toml:"path" json:"path" jsonschema:"description=rolling log file"`
	Level string `toml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MapSection 一排首尾相接的区域，owners 依次给出初始归属
type MapSection struct {
	Zones     int     `toml:"zones" json:"zones" jsonschema:"minimum=1"`
	ZoneSize  float64 `toml:"zone_size" json:"zone_size"`
	Threshold int32   `toml:"capture_threshold" json:"capture_threshold" jsonschema:"minimum=1"`
	Owners    []int   `toml:"owners" json:"owners,omitempty"`
}

// RulesSection 地图单位/tick，加载时转换为定点数
type RulesSection struct {
	PlayerSpeed      float64 `toml:"player_speed" json:"player_speed"`
	SpeedBoost       float64 `toml:"speed_boost" json:"speed_boost"`
	DashSpeed        float64 `toml:"dash_speed" json:"dash_speed"`
	DashCooldown     uint16  `toml:"dash_cooldown" json:"dash_cooldown"`
	ProjectileSpeed  float64 `toml:"projectile_speed" json:"projectile_speed"`
	ProjectileTTL    uint16  `toml:"projectile_ttl" json:"projectile_ttl"`
	ShootCooldown    uint16  `toml:"shoot_cooldown" json:"shoot_cooldown"`
	RapidCooldown    uint16  `toml:"rapid_cooldown" json:"rapid_cooldown"`
	PlayerRadius     float64 `toml:"player_radius" json:"player_radius"`
	ProjectileRadius float64 `toml:"projectile_radius" json:"projectile_radius"`
	PickupRadius     float64 `toml:"pickup_radius" json:"pickup_radius"`
	RespawnTicks     uint16  `toml:"respawn_ticks" json:"respawn_ticks"`
	ShieldTicks      uint16  `toml:"shield_ticks" json:"shield_ticks"`
	UpgradeTicks     uint16  `toml:"upgrade_ticks" json:"upgrade_ticks"`
}

type ActivationSection struct {
	On      string `toml:"on" json:"on"`
	Trigger string `toml:"trigger" json:"trigger"`
	Active  bool   `toml:"active" json:"active"`
}

// TriggerSection order 为执行顺序，inactive 中的触发器开局时未激活
type TriggerSection struct {
	Order            []string            `toml:"order" json:"order"`
	Inactive         []string            `toml:"inactive" json:"inactive,omitempty"`
	CaptureRate      int32               `toml:"capture_rate" json:"capture_rate" jsonschema:"minimum=1"`
	DecayPerTick     int32               `toml:"decay_per_tick" json:"decay_per_tick" jsonschema:"minimum=0"`
	RequireAdjacency bool                `toml:"require_adjacency" json:"require_adjacency"`
	TimeLimitTicks   uint64              `toml:"time_limit_ticks" json:"time_limit_ticks"`
	MinPlayers       int                 `toml:"min_players" json:"min_players" jsonschema:"minimum=0"`
	KillScore        int64               `toml:"kill_score" json:"kill_score"`
	Activations      []ActivationSection `toml:"activations" json:"activations,omitempty"`
}

type PolicySection struct {
	SnapshotEvery uint64  `toml:"snapshot_every" json:"snapshot_every"`
	MaxLead       uint64  `toml:"max_lead" json:"max_lead"`
	StaleBound    uint64  `toml:"stale_bound" json:"stale_bound"`
	ReorderWindow int     `toml:"reorder_window" json:"reorder_window" jsonschema:"minimum=1,maximum=64"`
	MaxResyncs    int     `toml:"max_resyncs" json:"max_resyncs"`
	ResyncWindow  uint64  `toml:"resync_window" json:"resync_window"`
	Disconnect    string  `toml:"disconnect" json:"disconnect" jsonschema:"enum=continue,enum=pause"`
	DropProb      float64 `toml:"drop_prob" json:"drop_prob" jsonschema:"minimum=0,maximum=1"`
	DupProb       float64 `toml:"dup_prob" json:"dup_prob" jsonschema:"minimum=0,maximum=1"`
	// AllowClientControl 玩家能否通过连接开始/暂停/结束比赛
	AllowClientControl bool `toml:"allow_client_control" json:"allow_client_control"`
}

// File 比赛配置文件
type File struct {
	Addr      string `toml:"addr" json:"addr"`
	TickRate  int    `toml:"tick_rate" json:"tick_rate" jsonschema:"minimum=1,maximum=1000"`
	ReplayDir string `toml:"replay_dir" json:"replay_dir,omitempty"`
	// EndGrace 比赛结束后保留多少 tick 再回收；0 表示一直保留到手动结束
	EndGrace uint64 `toml:"end_grace" json:"end_grace"`

	Log      LogSection     `toml:"log" json:"log"`
	Map      MapSection     `toml:"map" json:"map"`
	Rules    RulesSection   `toml:"rules" json:"rules"`
	Triggers TriggerSection `toml:"triggers" json:"triggers"`
	Policy   PolicySection  `toml:"policy" json:"policy"`
}

// Default 与 server.DefaultOptions 一致的默认配置
func Default() File {
	r := sim.DefaultRules()
	tc := trigger.DefaultConfig()
	p := server.DefaultPolicy()
	order := make([]string, len(tc.Order))
	for i, s := range tc.Order {
		order[i] = s.Kind.String()
	}
	return File{
		Addr:     ":8080",
		TickRate: 20,
		EndGrace: server.DefaultOptions().EndGrace,
		Log:      LogSection{Path: "app.log", Level: "info"},
		Map:      MapSection{Zones: 5, ZoneSize: 200, Threshold: 100, Owners: []int{1, 0, 0, 0, 2}},
		Rules: RulesSection{
			PlayerSpeed:      r.PlayerSpeed.Float(),
			SpeedBoost:       r.SpeedBoost.Float(),
			DashSpeed:        r.DashSpeed.Float(),
			DashCooldown:     r.DashCooldown,
			ProjectileSpeed:  r.ProjectileSpeed.Float(),
			ProjectileTTL:    r.ProjectileTTL,
			ShootCooldown:    r.ShootCooldown,
			RapidCooldown:    r.RapidCooldown,
			PlayerRadius:     r.PlayerRadius.Float(),
			ProjectileRadius: r.ProjectileRadius.Float(),
			PickupRadius:     r.PickupRadius.Float(),
			RespawnTicks:     r.RespawnTicks,
			ShieldTicks:      r.ShieldTicks,
			UpgradeTicks:     r.UpgradeTicks,
		},
		Triggers: TriggerSection{
			Order:            order,
			CaptureRate:      tc.CaptureRate,
			DecayPerTick:     tc.DecayPerTick,
			RequireAdjacency: tc.RequireAdjacency,
			TimeLimitTicks:   tc.TimeLimitTicks,
			MinPlayers:       tc.MinPlayers,
			KillScore:        tc.KillScore,
		},
		Policy: PolicySection{
			SnapshotEvery: p.SnapshotEvery,
			MaxLead:       p.MaxLead,
			StaleBound:    p.StaleBound,
			ReorderWindow: p.ReorderWindow,
			MaxResyncs:    p.MaxResyncs,
			ResyncWindow:  p.ResyncWindow,
			Disconnect:    string(p.Disconnect),
			DropProb:      p.DropProb,
			DupProb:       p.DupProb,

			AllowClientControl: p.AllowClientControl,
		},
	}
}

// Decode 在默认配置之上解析 TOML；未知字段视为错误
func Decode(data []byte) (File, error) {
	f := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config: %s", strict.String())
		}
		return File{}, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

// Load 读取配置文件；path 为空时返回默认配置
func Load(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadEnv 把 .env 文件读入进程环境（不覆盖已有变量），不存在的文件跳过
func LoadEnv(files ...string) error {
	for _, name := range files {
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv 用环境变量覆盖对应字段；lookup 一般为 os.LookupEnv
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		f.Addr = v
	}
	if v, ok := lookup(EnvLog); ok && v != "" {
		f.Log.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		f.Log.Level = v
	}
	if v, ok := lookup(EnvReplay); ok {
		f.ReplayDir = v
	}
	if v, ok := lookup(EnvTickRate); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTickRate, err)
		}
		f.TickRate = n
	}
	return nil
}

// FromEnv 依次读取 .env、ARENA_CONFIG 指向的文件（或 path）并应用环境变量覆盖
func FromEnv(path string, envFiles ...string) (File, error) {
	if err := LoadEnv(envFiles...); err != nil {
		return File{}, err
	}
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	f, err := Load(path)
	if err != nil {
		return File{}, err
	}
	if err := f.ApplyEnv(os.LookupEnv); err != nil {
		return File{}, err
	}
	return f, nil
}

// Options 转换为比赛配置并校验
func (f File) Options() (server.Options, error) {
	opts := server.DefaultOptions()
	opts.TickRate = f.TickRate
	opts.ReplayDir = f.ReplayDir
	opts.EndGrace = f.EndGrace

	if f.Map.Zones < 1 || f.Map.ZoneSize <= 0 || f.Map.Threshold < 1 {
		return opts, fmt.Errorf("config: map needs zones >= 1, zone_size > 0, capture_threshold >= 1")
	}
	owners := make([]world.TeamID, len(f.Map.Owners))
	for i, o := range f.Map.Owners {
		if o < 0 || o > 255 {
			return opts, fmt.Errorf("config: zone %d owner %d out of range", i, o)
		}
		owners[i] = world.TeamID(o)
	}
	opts.Map = world.Corridor(f.Map.Zones, fixed.FromFloat(f.Map.ZoneSize), f.Map.Threshold, owners...)

	r := f.Rules
	opts.Rules = sim.Rules{
		PlayerSpeed:      fixed.FromFloat(r.PlayerSpeed),
		SpeedBoost:       fixed.FromFloat(r.SpeedBoost),
		DashSpeed:        fixed.FromFloat(r.DashSpeed),
		DashCooldown:     r.DashCooldown,
		ProjectileSpeed:  fixed.FromFloat(r.ProjectileSpeed),
		ProjectileTTL:    r.ProjectileTTL,
		ShootCooldown:    r.ShootCooldown,
		RapidCooldown:    r.RapidCooldown,
		PlayerRadius:     fixed.FromFloat(r.PlayerRadius),
		ProjectileRadius: fixed.FromFloat(r.ProjectileRadius),
		PickupRadius:     fixed.FromFloat(r.PickupRadius),
		RespawnTicks:     r.RespawnTicks,
		ShieldTicks:      r.ShieldTicks,
		UpgradeTicks:     r.UpgradeTicks,
	}

	tc, err := f.Triggers.config()
	if err != nil {
		return opts, err
	}
	opts.Triggers = tc

	p := f.Policy
	opts.Policy = server.Policy{
		SnapshotEvery: p.SnapshotEvery,
		MaxLead:       p.MaxLead,
		StaleBound:    p.StaleBound,
		ReorderWindow: p.ReorderWindow,
		MaxResyncs:    p.MaxResyncs,
		ResyncWindow:  p.ResyncWindow,
		Disconnect:    server.DisconnectPolicy(p.Disconnect),
		DropProb:      p.DropProb,
		DupProb:       p.DupProb,

		AllowClientControl: p.AllowClientControl,
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("config: %w", err)
	}
	return opts, nil
}

func (t TriggerSection) config() (trigger.Config, error) {
	inactive := make(map[trigger.Kind]bool, len(t.Inactive))
	for _, name := range t.Inactive {
		k, err := trigger.ParseKind(name)
		if err != nil {
			return trigger.Config{}, fmt.Errorf("config: inactive: %w", err)
		}
		inactive[k] = true
	}
	c := trigger.Config{
		CaptureRate:      t.CaptureRate,
		DecayPerTick:     t.DecayPerTick,
		RequireAdjacency: t.RequireAdjacency,
		TimeLimitTicks:   t.TimeLimitTicks,
		MinPlayers:       t.MinPlayers,
		KillScore:        t.KillScore,
	}
	for _, name := range t.Order {
		k, err := trigger.ParseKind(name)
		if err != nil {
			return trigger.Config{}, fmt.Errorf("config: order: %w", err)
		}
		c.Order = append(c.Order, trigger.Spec{Kind: k, Active: !inactive[k]})
	}
	for _, a := range t.Activations {
		on, err := world.ParseEventKind(a.On)
		if err != nil {
			return trigger.Config{}, fmt.Errorf("config: activation: %w", err)
		}
		k, err := trigger.ParseKind(a.Trigger)
		if err != nil {
			return trigger.Config{}, fmt.Errorf("config: activation: %w", err)
		}
		c.Activations = append(c.Activations, trigger.Activation{On: on, Trigger: k, Active: a.Active})
	}
	return c, nil
}
