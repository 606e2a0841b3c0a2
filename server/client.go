package server

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"zonearena/protocol"
	"zonearena/world"
)

// Conn 一条已建立的双向帧连接（websocket 或测试用的假连接）
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	Close() error
}

// ClientID 连接在一局比赛内的编号
type ClientID uint64

// Client 比赛中的一条玩家连接。网络协程只碰 out/done，其余字段只由 tick 线程访问
type Client struct {
	ID   ClientID
	Name string
	Team world.TeamID
	// Entity 加入成功后由 tick 线程填入
	Entity world.EntityID

	conn  Conn
	codec protocol.Codec
	out   chan []byte
	done  chan struct{}
	once  sync.Once

	inputs   *protocol.Receiver
	seq      *protocol.Sender
	ackDirty bool
	sentAny  bool
	snap     protocol.SnapshotState
	// ackTick 客户端确认持有的最新状态，增量以它为基准
	ackTick uint64
	resyncs []uint64
}

func newClient(id ClientID, conn Conn, codec protocol.Codec, hello protocol.Hello, p Policy, outbox int) *Client {
	return &Client{
		ID:     id,
		Name:   hello.Name,
		Team:   hello.Team,
		conn:   conn,
		codec:  codec,
		out:    make(chan []byte, outbox),
		done:   make(chan struct{}),
		inputs: protocol.NewReceiver(p.ReorderWindow, false),
		seq:    protocol.NewSender(0, 1),
	}
}

func (c *Client) String() string { return fmt.Sprintf("%s#%d", c.Name, c.ID) }

// Enqueue 将要发送的帧压入队列（非阻塞，满则返回 false）
func (c *Client) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// send 编号、编码并入队。只由 tick 线程调用，保证同一客户端按 tick 顺序发送
func (c *Client) send(m *protocol.Message, match string) bool {
	c.seq.Stamp(m)
	m.Match = match
	b, err := c.codec.Encode(m)
	if err != nil {
		Log.Errorf("encode %s for %s: %v", m.Kind, c, err)
		return false
	}
	return c.Enqueue(b)
}

// Close 关闭连接；写协程随之退出，队列中未发出的消息丢弃
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done 连接关闭后可读
func (c *Client) Done() <-chan struct{} { return c.done }

// writePump 独立协程，负责从 out 队列写出
func (c *Client) writePump(m *Match) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			if err := c.conn.WriteFrame(b); err != nil {
				m.Leave(c, fmt.Errorf("%w: write: %v", ErrTransportFailure, err))
				return
			}
		}
	}
}

// readPump 读取客户端消息，解码后投递到比赛入站队列
func (c *Client) readPump(m *Match) {
	for {
		b, err := c.conn.ReadFrame()
		if err != nil {
			m.Leave(c, fmt.Errorf("%w: read: %v", ErrTransportFailure, err))
			return
		}
		msg, err := c.codec.Decode(b)
		if err != nil {
			m.metrics.IncMalformed()
			Log.Debugf("drop frame from %s: %v", c, err)
			continue
		}
		p := m.Policy()
		if p.DropProb > 0 && rand.Float64() < p.DropProb {
			m.metrics.IncDropsSimulated()
			continue
		}
		m.deliver(c, msg)
		if p.DupProb > 0 && rand.Float64() < p.DupProb {
			m.metrics.IncDupsSimulated()
			m.deliver(c, msg)
		}
	}
}

// noteResync 记录一次重同步请求，返回窗口内是否超出预算
func (c *Client) noteResync(tick uint64, p Policy) bool {
	kept := c.resyncs[:0]
	for _, t := range c.resyncs {
		if tick-t < p.ResyncWindow {
			kept = append(kept, t)
		}
	}
	c.resyncs = append(kept, tick)
	return len(c.resyncs) > p.MaxResyncs
}

// handshake 读取客户端的第一帧，必须是 Hello
func handshake(conn Conn, codec protocol.Codec, timeout time.Duration) (protocol.Hello, error) {
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := conn.ReadFrame()
		ch <- result{b, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return protocol.Hello{}, fmt.Errorf("%w: %v", ErrTransportFailure, r.err)
		}
		m, err := codec.Decode(r.b)
		if err != nil {
			return protocol.Hello{}, err
		}
		if m.Kind != protocol.KindHello {
			return protocol.Hello{}, fmt.Errorf("%w: expected hello, got %s", protocol.ErrMalformed, m.Kind)
		}
		return *m.Hello, nil
	case <-time.After(timeout):
		_ = conn.Close()
		return protocol.Hello{}, fmt.Errorf("%w: hello timeout", ErrTransportFailure)
	}
}
