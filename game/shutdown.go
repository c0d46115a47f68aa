package game

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/usurper/lang"
	"github.com/zond/usurper/storage"
)

var ErrShutdownInProgress = errors.New("shutdown already in progress")

const defaultShutdownReason = "Server shutting down"

// announceAt lists the remaining seconds at which the countdown is repeated.
var announceAt = map[int]bool{
	300: true,
	120: true,
	60:  true,
	30:  true,
	10:  true,
	5:   true,
	3:   true,
	2:   true,
	1:   true,
}

// ShuttingDown returns when the pending shutdown fires, if one is pending.
func (g *Game) ShuttingDown() (time.Time, bool) {
	g.shutdownLock.Lock()
	defer g.shutdownLock.Unlock()
	return g.shutdownAt, !g.shutdownAt.IsZero()
}

// Shutdown announces a countdown to every session and cancels the game when
// it runs out. Only one countdown runs at a time.
func (g *Game) Shutdown(ctx context.Context, caller string, seconds int, reason string) error {
	if seconds < 0 {
		seconds = 0
	}
	if reason == "" {
		reason = defaultShutdownReason
	}
	g.shutdownLock.Lock()
	if !g.shutdownAt.IsZero() {
		g.shutdownLock.Unlock()
		return errors.WithStack(ErrShutdownInProgress)
	}
	g.shutdownAt = time.Now().Add(time.Duration(seconds) * g.config.ShutdownTick)
	g.shutdownLock.Unlock()

	log.Printf("%s initiated shutdown in %d seconds: %s", caller, seconds, reason)
	g.store.AuditLog(ctx, "SERVER_SHUTDOWN", storage.AuditServerShutdown{
		Caller:  caller,
		Seconds: seconds,
		Reason:  reason,
	})
	g.Broadcast(fmt.Sprintf("*** SERVER SHUTDOWN in %s: %s ***", lang.Count(seconds, "second"), reason))
	go g.countdown(seconds)
	return nil
}

func (g *Game) countdown(seconds int) {
	ticker := time.NewTicker(g.config.ShutdownTick)
	defer ticker.Stop()
	for remaining := seconds; remaining > 0; {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}
		remaining--
		if announceAt[remaining] {
			g.Broadcast(fmt.Sprintf("*** SERVER SHUTDOWN in %s ***", lang.Count(remaining, "second")))
		}
	}
	g.Broadcast("*** SERVER SHUTTING DOWN NOW ***")
	g.flushAll()
	select {
	case <-g.ctx.Done():
	case <-time.After(g.config.DisconnectGrace):
	}
	log.Printf("shutdown countdown finished, stopping %d sessions", g.sessions.Len())
	g.cancel()
}

func (g *Game) flushAll() {
	for _, s := range g.Sessions() {
		if err := s.Flush(); err != nil {
			log.Printf("flushing %v: %v", s, err)
		}
	}
}
