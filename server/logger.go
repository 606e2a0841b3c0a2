package server

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局 SugaredLogger；InitLogger 之前不输出任何内容
var Log = zap.NewNop().Sugar()

// LogLevel 运行期可调的日志级别，/admin/log 直接挂它（GET 查询，PUT {"level":"debug"} 修改）
var LogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitLogger 初始化日志。filePath 非空时写入滚动文件（10MB × 3 份，保留 7 天），
// 为空时写 stderr；level 为 debug/info/warn/error，空串沿用当前级别
func InitLogger(filePath, level string) error {
	if level != "" {
		if err := LogLevel.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	var ws zapcore.WriteSyncer
	if filePath != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.StacktraceKey = "stack"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, LogLevel)
	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Sugar()
	return nil
}

// SyncLogger 刷出缓冲
func SyncLogger() {
	_ = Log.Sync()
}
