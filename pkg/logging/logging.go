package logging

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLoggerKey struct{}

var (
	mu         sync.RWMutex
	baseLogger *zap.Logger
	hostName   = "unknown"
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	baseLogger = logger
	if h, err := os.Hostname(); err == nil && h != "" {
		hostName = h
	}
}

// Options controls how Build constructs a logger.
type Options struct {
	Level string
	// Format is "json" for the production encoder or "console" for the development one.
	Format string
}

// Build returns a zap logger for the given options. An empty level means info.
func Build(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// SetBase replaces the process-wide logger.
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	baseLogger = l
	mu.Unlock()
}

func BaseLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

func HostName() string {
	return hostName
}

func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return BaseLogger()
	}
	if l, ok := ctx.Value(ctxLoggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return BaseLogger()
}

func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

// StartOperation tags the context logger with an operation name and a fresh
// operation_id. An operation already tagged keeps its ID.
func StartOperation(ctx context.Context, op string, fields ...zap.Field) (context.Context, *zap.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(ctxLoggerKey{}).(*zap.Logger); !ok {
		fields = append([]zap.Field{zap.String("operation_id", uuid.NewString())}, fields...)
	}
	l := FromContext(ctx).With(append([]zap.Field{zap.String("operation", op)}, fields...)...)
	return WithLogger(ctx, l), l
}
