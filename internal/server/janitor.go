package server

import (
	"context"
	"time"
)

func (s *Server) janitorInterval() time.Duration {
	if s.opts.IdleTTL < 2*time.Minute {
		return max(s.opts.IdleTTL/2, time.Second)
	}
	return time.Minute
}

// janitor resets sessions idle for longer than IdleTTL until ctx is done.
func (s *Server) janitor(ctx context.Context) {
	t := time.NewTicker(s.janitorInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.sweep(ctx, now)
		}
	}
}

// sweep resets and forgets the sessions idle at now. A session whose
// partition cannot be deleted is still forgotten; its vectors are left to
// the store.
func (s *Server) sweep(ctx context.Context, now time.Time) int {
	idle := s.sessions.Idle(s.opts.IdleTTL, now)
	for _, sess := range idle {
		log := s.log.WithField("session", sess.ID())
		if err := s.svc.Retire(ctx, sess); err != nil {
			log.WithError(err).Error("expiring idle session: reset failed")
			continue
		}
		log.Info("idle session expired")
	}
	if len(idle) > 0 {
		s.updateSessionGauge()
	}
	return len(idle)
}
