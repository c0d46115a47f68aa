package game

import (
	"context"
	"fmt"
	"log"
	"time"
)

func (g *Game) watchIdle(ctx context.Context) {
	ticker := time.NewTicker(g.config.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.reapIdle(now)
		}
	}
}

// reapIdle disconnects every in-game session idle past the timeout and
// returns their names. Spectators produce no input and are never reaped.
func (g *Game) reapIdle(now time.Time) []string {
	reaped := []string{}
	for _, s := range g.Sessions() {
		idle := s.Idle(now)
		if !s.InGame() || s.Spectating() != nil || idle < g.config.IdleTimeout {
			continue
		}
		log.Printf("%v idle since %v, disconnecting", s, s.LastActivity())
		g.metrics.idleDisconnects.Inc()
		reaped = append(reaped, s.Username())
		go s.Disconnect(fmt.Sprintf("Disconnected: idle for %d minutes.", int(idle/time.Minute)))
	}
	return reaped
}
