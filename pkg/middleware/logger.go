package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/krukov/levin/pkg/component"
	"github.com/krukov/levin/pkg/message"
	"github.com/krukov/levin/pkg/timing"
)

// Logger records one structured line per request: method, path, protocol,
// status, body size, elapsed time and stream id (spec §4.5 "Logger"),
// using the teacher's zap-based logging idiom in place of the source's
// stdlib logging.dictConfig setup.
type Logger struct {
	component.Base
	log   *zap.Logger
	Level zap.AtomicLevel
}

// NewLogger builds a Logger around base; a nil base constructs a
// production zap.Logger.
func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base, _ = zap.NewProduction()
	}
	return &Logger{Base: component.Base{ComponentName: "logger"}, log: base}
}

func (l *Logger) Start(ctx context.Context, app any) error {
	l.log.Info("start server")
	return nil
}

func (l *Logger) Stop(ctx context.Context, app any) error {
	l.log.Info("server stop")
	return l.log.Sync()
}

func (l *Logger) Middleware() component.Middleware {
	return func(ctx context.Context, req *message.Request, next component.Handler) (*message.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		elapsed := time.Since(start)

		status := 0
		bodySize := 0
		if resp != nil {
			status = resp.Status
			bodySize = len(resp.Body)
		}

		fields := []zap.Field{
			zap.String("method", string(req.Method)),
			zap.String("path", string(req.RawPath)),
			zap.String("protocol", string(req.Protocol)),
			zap.Int("status", status),
			zap.Int("body_size", bodySize),
			zap.Duration("elapsed", elapsed),
			zap.Int("stream", req.Stream),
		}
		if qw, ok := req.Get("timing").(timing.Metrics); ok {
			fields = append(fields, zap.Duration("queue_wait", qw.QueueWait))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			l.log.Error("request", fields...)
		} else {
			l.log.Info("request", fields...)
		}
		return resp, err
	}
}
