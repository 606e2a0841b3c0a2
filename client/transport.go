package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"zonearena/protocol"
)

// ErrQueueFull 发送队列已满，消息被丢弃
var ErrQueueFull = errors.New("client: send queue full")

// Transport nhooyr websocket 连接；读写各一个 goroutine，之间用有界队列衔接
type Transport struct {
	conn   *websocket.Conn
	codec  protocol.Codec
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc

	in   chan *protocol.Message
	out  chan []byte
	errc chan error

	closeOnce sync.Once
}

// Dial 连接服务端并启动读写循环
func Dial(ctx context.Context, url string, opts Options) (*Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	size := opts.QueueSize
	if size < 1 {
		size = 1
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		codec:  opts.codec(),
		log:    opts.logger(),
		ctx:    tctx,
		cancel: cancel,
		in:     make(chan *protocol.Message, size),
		out:    make(chan []byte, size),
		errc:   make(chan error, 2),
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

// Incoming 解码后的服务端消息
func (t *Transport) Incoming() <-chan *protocol.Message { return t.in }

// Err 读写循环因错误退出时可读
func (t *Transport) Err() <-chan error { return t.errc }

// Send 编码并入队，不阻塞
func (t *Transport) Send(m *protocol.Message) error {
	b, err := t.codec.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	case t.out <- b:
		return nil
	default:
		return fmt.Errorf("%w: %s seq %d", ErrQueueFull, m.Kind, m.Seq)
	}
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close(websocket.StatusNormalClosure, "bye")
		t.cancel()
	})
	return err
}

func (t *Transport) fail(err error) {
	select {
	case t.errc <- err:
	default:
	}
	t.cancel()
}

func (t *Transport) readLoop() {
	for {
		typ, b, err := t.conn.Read(t.ctx)
		if err != nil {
			t.fail(fmt.Errorf("read: %w", err))
			return
		}
		if (typ == websocket.MessageBinary) != t.codec.Binary() {
			continue
		}
		m, err := t.codec.Decode(b)
		if err != nil {
			t.log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		select {
		case t.in <- m:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) writeLoop() {
	typ := websocket.MessageText
	if t.codec.Binary() {
		typ = websocket.MessageBinary
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case b := <-t.out:
			if err := t.conn.Write(t.ctx, typ, b); err != nil {
				t.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}
