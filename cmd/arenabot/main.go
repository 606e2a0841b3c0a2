// arenabot 按脚本产生输入的测试客户端，用于压测与联调
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zonearena/client"
	"zonearena/protocol"
	"zonearena/world"
)

func main() {
	var (
		addr     string
		match    string
		codec    string
		name     string
		team     int
		script   string
		duration time.Duration
		verbose  bool
	)
	flag.StringVar(&addr, "addr", "ws://localhost:8080/ws", "server websocket endpoint")
	flag.StringVar(&match, "match", "", "match id; empty joins the default match")
	flag.StringVar(&codec, "codec", "binary", "wire codec: binary or json")
	flag.StringVar(&name, "name", "bot", "player name")
	flag.IntVar(&team, "team", 0, "team to join, 0 lets the server balance")
	flag.StringVar(&script, "script", "right*20,shoot,left*20,shoot", "looping input script")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	if err := run(addr, match, codec, name, team, script, duration, verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr, match, codec, name string, team int, script string, duration time.Duration, verbose bool) error {
	sc, err := client.ParseScript(script)
	if err != nil {
		return err
	}
	if team < 0 || team > 255 {
		return fmt.Errorf("team %d out of range", team)
	}
	u, err := url.Parse(addr)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("codec", codec)
	if match != "" {
		q.Set("match", match)
	}
	u.RawQuery = q.Encode()

	zc := zap.NewDevelopmentConfig()
	if !verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar().Named(name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	opts := client.DefaultOptions()
	opts.Name = name
	opts.Team = world.TeamID(team)
	opts.Codec = protocol.CodecFor(codec)
	opts.Logger = log

	c, err := client.Connect(ctx, u.String(), opts)
	if err != nil {
		return err
	}
	defer c.Close()

	go report(ctx, c.Session, log)
	err = c.Run(ctx, sc.Input)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	st := c.Session.Stats()
	log.Infof("done: snapshots=%d deltas=%d desyncs=%d corrections=%d snaps=%d acked=%d",
		st.Snapshots, st.Deltas, st.Desyncs, st.Corrections, st.Snaps, st.AckedInputs)
	return err
}

// report 每秒输出一次位置与事件
func report(ctx context.Context, s *client.Session, log *zap.SugaredLogger) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, ev := range s.Events() {
			log.Debugf("event tick %d: %s zone %d team %d %s", ev.Tick, ev.Kind, ev.Zone, ev.Team, ev.Detail)
		}
		auth := s.Authoritative()
		self, ok := s.Self()
		if auth == nil || !ok {
			continue
		}
		m := auth.Match()
		log.Infof("tick %d phase %s pos %s scores %v pending %d", auth.Tick(), m.Phase, self.Pos, auth.Scores(), len(s.PendingInputs()))
	}
}
