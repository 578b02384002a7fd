package obs

import (
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	base  atomic.Pointer[zap.Logger]
)

func init() { base.Store(newLogger(os.Stdout)) }

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		level.SetLevel(zap.DebugLevel)
		return
	}
	level.SetLevel(zap.InfoLevel)
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) { base.Store(newLogger(zapcore.AddSync(w))) }

type Fields map[string]any

func newLogger(w zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.LevelKey = "level"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.CallerKey = zapcore.OmitKey
	enc.StacktraceKey = zapcore.OmitKey
	return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level))
}

func logWith(lvl zapcore.Level, msg string, f Fields) {
	l := base.Load()
	ce := l.Check(lvl, msg)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			zf = append(zf, zap.String(k, err.Error()))
			continue
		}
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}

func Info(msg string, f Fields)  { logWith(zap.InfoLevel, msg, f) }
func Error(msg string, f Fields) { logWith(zap.ErrorLevel, msg, f) }
func Debug(msg string, f Fields) { logWith(zap.DebugLevel, msg, f) }
