package client

import (
	"time"

	"go.uber.org/zap"

	"zonearena/fixed"
	"zonearena/protocol"
	"zonearena/world"
)

// Options 客户端配置
type Options struct {
	Name string
	// Team 0 表示由服务端分配
	Team world.TeamID

	// Depth 最多领先权威状态多少个 tick 进行预测
	Depth int
	// SnapTolerance 对账偏差超过该值直接跳变，否则平滑
	SnapTolerance  fixed.Fixed
	SmoothingTicks int

	ReorderWindow int
	Retransmit    time.Duration
	MaxUnacked    int

	Codec     protocol.Codec
	QueueSize int
	Logger    *zap.SugaredLogger
}

func DefaultOptions() Options {
	return Options{
		Name:           "player",
		Depth:          32,
		SnapTolerance:  fixed.FromInt(8),
		SmoothingTicks: 6,
		ReorderWindow:  16,
		Retransmit:     100 * time.Millisecond,
		MaxUnacked:     64,
		Codec:          protocol.Binary{},
		QueueSize:      256,
	}
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

func (o Options) codec() protocol.Codec {
	if o.Codec == nil {
		return protocol.Binary{}
	}
	return o.Codec
}
