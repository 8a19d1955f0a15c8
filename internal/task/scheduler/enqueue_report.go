package scheduler

import (
	"errors"
	"time"

	"farmcrew/internal/task/engine"
	"farmcrew/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs trigger submission failures, at most once per throttle window
// per schedule. Overlap skips are routine and stay at debug.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
