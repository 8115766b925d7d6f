package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "alertbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// slowHandler promotes a successful request log line from DEBUG to INFO.
const slowHandler = 750 * time.Millisecond

// guard runs h with an optional deadline, turns a panic into an error and
// logs the outcome on the request logger.
func (m *Router) guard(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		log := req.Logger
		if log.IsZero() {
			log = m.log
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
			took := time.Since(start)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Duration("took", took),
			}
			switch {
			case err != nil:
				log.Warn("handler failed", append(fields, logx.Err(err))...)
			case took >= slowHandler:
				log.Info("handler slow", fields...)
			default:
				log.Debug("handler done", fields...)
			}
		}()
		return h(ctx, req)
	}
}
