package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"zonearena/protocol"
	"zonearena/sim"
)

// InputFunc 每个本地 tick 调用一次，返回本 tick 的动作与瞄准方向
type InputFunc func(s *Session) (actions sim.ActionSet, aimX, aimY int8)

// Client 会话 + 传输 + 本地 tick 循环
type Client struct {
	Session *Session

	tr  *Transport
	log *zap.SugaredLogger
}

// Connect 建立连接并发送握手
func Connect(ctx context.Context, url string, opts Options) (*Client, error) {
	tr, err := Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	sess := NewSession(opts)
	if err := tr.Send(sess.Hello()); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return &Client{Session: sess, tr: tr, log: opts.logger()}, nil
}

// Run 处理服务端消息并按服务端 tick 频率产生输入，直到 ctx 结束或连接断开
func (c *Client) Run(ctx context.Context, input InputFunc) error {
	rate := 20
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.tr.Err():
			return err
		case m := <-c.tr.Incoming():
			if err := c.Session.Handle(m); err != nil {
				c.log.Warnf("handle %s seq %d: %v", m.Kind, m.Seq, err)
			}
			if w, ok := c.Session.Welcome(); ok && w.TickRate > 0 && w.TickRate != rate {
				rate = w.TickRate
				ticker.Reset(time.Second / time.Duration(rate))
			}
		case now := <-ticker.C:
			c.tick(input, now)
		}
	}
}

func (c *Client) tick(input InputFunc, now time.Time) {
	if _, joined := c.Session.Welcome(); joined && input != nil {
		actions, x, y := input(c.Session)
		m, err := c.Session.Input(actions, x, y, now)
		switch {
		case err == nil:
			c.send(m)
		case errors.Is(err, ErrNotReady), errors.Is(err, ErrPredictionFull):
			c.log.Debugf("input skipped: %v", err)
		default:
			c.log.Warnf("predict: %v", err)
		}
	}
	for _, m := range c.Session.Retransmit(now) {
		c.send(m)
	}
	for _, m := range c.Session.Flush() {
		c.send(m)
	}
}

func (c *Client) send(m *protocol.Message) {
	if err := c.tr.Send(m); err != nil {
		c.log.Warnf("send %s seq %d: %v", m.Kind, m.Seq, err)
	}
}

// Control 请求比赛控制
func (c *Client) Control(op protocol.ControlOp, reason string) error {
	return c.tr.Send(c.Session.Control(op, reason))
}

func (c *Client) Close() error { return c.tr.Close() }
