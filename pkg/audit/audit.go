// Package audit writes the append-only audit trail: one line per access
// decision and one line per structured event, in a format meant to be read
// by people and grepped by log tooling.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Status is the outcome of an access decision.
type Status string

const (
	StatusGranted Status = "GRANTED"
	StatusDenied  Status = "DENIED"
)

// DefaultExcerptLength bounds the query text copied into an access record.
const DefaultExcerptLength = 50

const timeLayout = "2006-01-02 15:04:05,000"

// Config describes the audit destination.
type Config struct {
	Path          string
	Level         string
	ExcerptLength int
}

// Sink appends audit lines to a single destination. It is safe for
// concurrent use; lines are never interleaved.
type Sink struct {
	logger  *zap.Logger
	excerpt int
	file    *os.File
}

// New opens (or creates) the audit file in append mode and returns a Sink
// writing to it.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s, err := NewWriter(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewWriter returns a Sink writing to ws. The caller owns ws.
func NewWriter(ws zapcore.WriteSyncer, cfg Config) (*Sink, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse audit level: %w", err)
		}
	}
	excerpt := cfg.ExcerptLength
	if excerpt <= 0 {
		excerpt = DefaultExcerptLength
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "asctime",
		LevelKey:         "levelname",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      encodeLevel,
		EncodeTime:       zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(ws), level)

	return &Sink{logger: zap.New(core), excerpt: excerpt}, nil
}

// Nop returns a Sink that discards everything.
func Nop() *Sink {
	return &Sink{logger: zap.NewNop(), excerpt: DefaultExcerptLength}
}

// encodeLevel spells levels the way the rest of the audit tooling expects
// (WARNING rather than WARN).
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		enc.AppendString("CRITICAL")
	default:
		enc.AppendString(l.CapitalString())
	}
}

var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// Access records an access decision. query is escaped first and then cut
// to the configured excerpt length, so the written excerpt never exceeds it.
func (s *Sink) Access(userID, segment string, status Status, query string) {
	msg := fmt.Sprintf("USER: %s | DEPT: %s | STATUS: %s | QUERY: %s",
		lineBreaks.Replace(userID),
		lineBreaks.Replace(segment),
		status,
		Excerpt(lineBreaks.Replace(query), s.excerpt),
	)
	if status == StatusDenied {
		s.logger.Warn(msg)
		return
	}
	s.logger.Info(msg)
}

// Event records a structured event at INFO.
func (s *Sink) Event(eventType string, details map[string]any) {
	s.logger.Info(formatEvent(eventType, details))
}

// Warning records a structured event at WARNING.
func (s *Sink) Warning(eventType string, details map[string]any) {
	s.logger.Warn(formatEvent(eventType, details))
}

// Failure records a structured event at ERROR.
func (s *Sink) Failure(eventType string, details map[string]any) {
	s.logger.Error(formatEvent(eventType, details))
}

func formatEvent(eventType string, details map[string]any) string {
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(details)))
	}
	return fmt.Sprintf("EVENT: %s | DETAILS: %s", lineBreaks.Replace(eventType), encoded)
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Close flushes and, for file-backed sinks, closes the destination.
func (s *Sink) Close() error {
	_ = s.logger.Sync()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var (
	initOnce sync.Once
	initErr  error
	global   atomic.Pointer[Sink]
)

// Init sets up the process-wide sink. Only the first call opens the
// destination; later calls return the same sink and error.
func Init(cfg Config) (*Sink, error) {
	initOnce.Do(func() {
		s, err := New(cfg)
		if err != nil {
			initErr = err
			return
		}
		global.Store(s)
	})
	if initErr != nil {
		return nil, initErr
	}
	return global.Load(), nil
}

// Default returns the process-wide sink, or a no-op sink when Init has not
// succeeded.
func Default() *Sink {
	if s := global.Load(); s != nil {
		return s
	}
	return Nop()
}
