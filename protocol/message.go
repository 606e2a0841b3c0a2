package protocol

import (
	"errors"
	"fmt"

	"zonearena/sim"
	"zonearena/world"
)

// Version 线上格式版本；解码时拒绝其他版本
const Version uint8 = 1

var (
	// ErrProtocolDesync 客户端与服务端的 tick 无法在重排窗口内对齐，或增量的基准状态不可重建
	ErrProtocolDesync = errors.New("protocol desync")
	ErrMalformed      = errors.New("malformed message")
	ErrVersion        = errors.New("unsupported protocol version")
	ErrUnknownKind    = errors.New("unknown message kind")
)

// Kind 逻辑消息类型
type Kind uint8

const (
	KindInput Kind = iota + 1
	KindDelta
	KindSnapshot
	KindAck
	KindControl
	KindHello
	KindWelcome
	KindResync
	KindEvents
)

var kindNames = map[Kind]string{
	KindInput:    "input",
	KindDelta:    "delta",
	KindSnapshot: "snapshot",
	KindAck:      "ack",
	KindControl:  "control",
	KindHello:    "hello",
	KindWelcome:  "welcome",
	KindResync:   "resync",
	KindEvents:   "events",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Header 每条消息都携带：方向内单调递增的序号与对应的 tick
type Header struct {
	Version uint8  `json:"v"`
	Kind    Kind   `json:"kind"`
	Seq     uint64 `json:"seq"`
	Tick    uint64 `json:"tick"`
	Match   string `json:"match,omitempty"`
}

// ControlOp 比赛控制操作
type ControlOp uint8

const (
	ControlStart ControlOp = iota + 1
	ControlPause
	ControlResume
	ControlEnd
)

func (o ControlOp) String() string {
	switch o {
	case ControlStart:
		return "start"
	case ControlPause:
		return "pause"
	case ControlResume:
		return "resume"
	case ControlEnd:
		return "end"
	}
	return "unknown"
}

// ParseControlOp 解析 start/pause/resume/end
func ParseControlOp(s string) (ControlOp, error) {
	for op := ControlStart; op <= ControlEnd; op++ {
		if op.String() == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown control op %q", s)
}

type Control struct {
	Op     ControlOp `json:"op"`
	Reason string    `json:"reason,omitempty"`
}

// Ack 累积确认 + 位图：Latest 及其之前 64 个序号的接收情况（bit i 对应 Latest-1-i）
type Ack struct {
	Latest uint64 `json:"latest"`
	Bits   uint64 `json:"bits"`
	// Tick 接收方已确认的最新状态 tick
	Tick uint64 `json:"tick,omitempty"`
}

// Covers 该确认是否包含 seq
func (a Ack) Covers(seq uint64) bool {
	if seq == 0 || seq > a.Latest {
		return false
	}
	if seq == a.Latest {
		return true
	}
	d := a.Latest - 1 - seq
	return d < 64 && a.Bits&(1<<d) != 0
}

// Hello 客户端握手
type Hello struct {
	Name string       `json:"name"`
	Team world.TeamID `json:"team"`
}

// Welcome 服务端握手应答：分配的实体与当前规则
type Welcome struct {
	Entity world.EntityID `json:"entity"`
	Team   world.TeamID   `json:"team"`
	Rules  sim.Rules      `json:"rules"`
	// TickRate 每秒 tick 数
	TickRate int `json:"tickRate"`
}

// Resync 客户端请求全量快照
type Resync struct {
	HaveTick uint64 `json:"haveTick"`
	Reason   string `json:"reason,omitempty"`
}

// Message 逻辑消息。Kind 决定哪一个负载字段有效
type Message struct {
	Header
	Inputs   []sim.Command   `json:"inputs,omitempty"`
	Delta    *world.Delta    `json:"delta,omitempty"`
	Snapshot *world.Snapshot `json:"snapshot,omitempty"`
	Ack      *Ack            `json:"ack,omitempty"`
	Control  *Control        `json:"control,omitempty"`
	Hello    *Hello          `json:"hello,omitempty"`
	Welcome  *Welcome        `json:"welcome,omitempty"`
	Resync   *Resync         `json:"resync,omitempty"`
	Events   []world.Event   `json:"events,omitempty"`
}

// Check 校验版本、类型以及负载与类型一致
func (m *Message) Check() error {
	if m.Version != Version {
		return fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}
	if !m.Kind.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	missing := false
	switch m.Kind {
	case KindInput:
		missing = len(m.Inputs) == 0
	case KindDelta:
		missing = m.Delta == nil
	case KindSnapshot:
		missing = m.Snapshot == nil
	case KindAck:
		missing = m.Ack == nil
	case KindControl:
		missing = m.Control == nil
	case KindHello:
		missing = m.Hello == nil
	case KindWelcome:
		missing = m.Welcome == nil
	case KindResync:
		missing = m.Resync == nil
	case KindEvents:
		missing = len(m.Events) == 0
	}
	if missing {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, m.Kind)
	}
	return nil
}

func NewInput(tick uint64, cmds ...sim.Command) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindInput, Tick: tick}, Inputs: cmds}
}

func NewDelta(d world.Delta) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindDelta, Tick: d.Tick}, Delta: &d}
}

func NewSnapshot(s world.Snapshot) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindSnapshot, Tick: s.Tick}, Snapshot: &s}
}

func NewAck(tick uint64, a Ack) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindAck, Tick: tick}, Ack: &a}
}

func NewControl(tick uint64, op ControlOp, reason string) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindControl, Tick: tick}, Control: &Control{Op: op, Reason: reason}}
}

func NewHello(name string, team world.TeamID) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindHello}, Hello: &Hello{Name: name, Team: team}}
}

func NewWelcome(tick uint64, w Welcome) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindWelcome, Tick: tick}, Welcome: &w}
}

func NewResync(tick, have uint64, reason string) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindResync, Tick: tick}, Resync: &Resync{HaveTick: have, Reason: reason}}
}

func NewEvents(tick uint64, events []world.Event) *Message {
	return &Message{Header: Header{Version: Version, Kind: KindEvents, Tick: tick}, Events: events}
}
