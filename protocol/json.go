package protocol

import (
	"encoding/json"
	"fmt"

	"zonearena/sim"
	"zonearena/world"
)

// Envelope 文本帧：类型名 + 头 + 原始负载
type Envelope struct {
	T string          `json:"t"`
	H Header          `json:"h"`
	P json.RawMessage `json:"p,omitempty"`
}

// JSON 文本编解码，便于调试与浏览器客户端
type JSON struct{}

func (JSON) Binary() bool { return false }

func (JSON) Encode(m *Message) ([]byte, error) {
	if err := m.Check(); err != nil {
		return nil, err
	}
	var payload any
	switch m.Kind {
	case KindInput:
		payload = m.Inputs
	case KindDelta:
		payload = m.Delta
	case KindSnapshot:
		payload = m.Snapshot
	case KindAck:
		payload = m.Ack
	case KindControl:
		payload = m.Control
	case KindHello:
		payload = m.Hello
	case KindWelcome:
		payload = m.Welcome
	case KindResync:
		payload = m.Resync
	case KindEvents:
		payload = m.Events
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{T: m.Kind.String(), H: m.Header, P: pb})
}

func (JSON) Decode(b []byte) (*Message, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	m := &Message{Header: env.H}
	if env.T != m.Kind.String() {
		return nil, fmt.Errorf("%w: envelope type %q does not match kind %s", ErrMalformed, env.T, m.Kind)
	}
	switch m.Kind {
	case KindInput:
		m.Inputs, err = DecodePayload[[]sim.Command](env)
	case KindDelta:
		var d world.Delta
		d, err = DecodePayload[world.Delta](env)
		m.Delta = &d
	case KindSnapshot:
		var s world.Snapshot
		s, err = DecodePayload[world.Snapshot](env)
		m.Snapshot = &s
	case KindAck:
		var a Ack
		a, err = DecodePayload[Ack](env)
		m.Ack = &a
	case KindControl:
		var c Control
		c, err = DecodePayload[Control](env)
		m.Control = &c
	case KindHello:
		var h Hello
		h, err = DecodePayload[Hello](env)
		m.Hello = &h
	case KindWelcome:
		var w Welcome
		w, err = DecodePayload[Welcome](env)
		m.Welcome = &w
	case KindResync:
		var r Resync
		r, err = DecodePayload[Resync](env)
		m.Resync = &r
	case KindEvents:
		m.Events, err = DecodePayload[[]world.Event](env)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeEnvelope 解析文本帧外层
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}

// DecodePayload 将负载解析为具体类型
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 || string(env.P) == "null" {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := json.Unmarshal(env.P, &out)
	return out, err
}
