package logging

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

type Field struct {
	Key   string
	Value any
}

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
}

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type zapLogger struct {
	z     *zap.Logger
	level Level
}

// New returns a console-encoded logger writing to out.
func New(out io.Writer, level Level) Logger {
	return NewWithFormat(out, level, FormatConsole)
}

func NewWithFormat(out io.Writer, level Level, format string) Logger {
	if out == nil {
		out = os.Stdout
	}
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeTime:     utcRFC3339Nano,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	var encoder zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zapLevel(level))
	return &zapLogger{z: zap.New(core), level: level}
}

// FromZap adapts an existing zap logger.
func FromZap(z *zap.Logger, level Level) Logger {
	if z == nil {
		return Nop()
	}
	return &zapLogger{z: z, level: level}
}

func Nop() Logger {
	return &zapLogger{z: zap.NewNop(), level: Error + 1}
}

func (l *zapLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return level >= l.level
}

func (l *zapLogger) With(fields ...Field) Logger {
	if l == nil {
		return Nop()
	}
	return &zapLogger{z: l.z.With(zapFields(fields)...), level: l.level}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, zapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, zapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, zapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, zapFields(fields)...) }

func zapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if err, ok := field.Value.(error); ok {
			out = append(out, zap.NamedError(field.Key, err))
			continue
		}
		out = append(out, zap.Any(field.Key, field.Value))
	}
	return out
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func utcRFC3339Nano(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func NewRequestID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf[:])
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}
