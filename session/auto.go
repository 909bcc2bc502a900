package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LiveChecker reports whether a channel is broadcasting.
type LiveChecker interface {
	IsLive(ctx context.Context, channel string) (bool, error)
}

// RunAuto polls the channel's live status every interval until ctx ends. When
// the channel goes live and no session is running, it starts one with the
// default pool; when the channel goes offline it stops the session it started.
// Sessions started by hand are left alone.
func (c *Controller) RunAuto(ctx context.Context, channel string, live LiveChecker, every time.Duration) {
	if channel == "" {
		c.log.Info("auto start: channel empty; abort")
		return
	}
	if every <= 0 {
		every = 30 * time.Second
	}
	log := c.log.With(slog.String("channel", channel))

	var st autoState
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	log.Info("auto start: started poller", slog.Duration("interval", every))
	for {
		c.autoStep(ctx, log, channel, live, &st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// autoState remembers the session the poller started and whether it was
// stopped by hand during the current broadcast.
type autoState struct {
	ownID      string
	suppressed bool
}

func (c *Controller) autoStep(ctx context.Context, log *slog.Logger, channel string, live LiveChecker, as *autoState) {
	isLive, err := live.IsLive(ctx, channel)
	if err != nil {
		log.Debug("auto start: stream status", slog.Any("err", err))
		return
	}
	cur := c.Status()

	if !isLive {
		as.suppressed = false
		if as.ownID != "" && cur.State == StateRunning && cur.SessionID == as.ownID {
			if _, err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				log.Warn("auto start: stop session", slog.Any("err", err))
			}
			log.Info("auto start: stream ended; session stopped", slog.String("session_id", as.ownID))
		}
		as.ownID = ""
		return
	}

	switch {
	case cur.State == StateRunning:
		if cur.SessionID != as.ownID {
			// a session started by hand; leave it to its owner
			as.ownID = ""
		}
	case as.ownID != "":
		// our session was stopped by hand while the channel is still live
		as.ownID = ""
		as.suppressed = true
	case !as.suppressed:
		started, err := c.Start(ctx, Params{Channel: channel})
		if err != nil {
			if !errors.Is(err, ErrAlreadyRunning) {
				log.Warn("auto start: start session", slog.Any("err", err))
			}
			return
		}
		as.ownID = started.SessionID
		log.Info("auto start: stream live; session started", slog.String("session_id", started.SessionID))
	}
}
