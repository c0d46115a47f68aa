package game

import (
	"context"
	"io"
	"log"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/zond/usurper"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

type sshContextKey int

const sshPlayerKey sshContextKey = 0

// PasswordHandler authenticates SSH logins against the store. Sessions that
// pass it skip the login menu.
func (g *Game) PasswordHandler(ctx ssh.Context, password string) bool {
	req := &authRequest{
		mode:     authPassword,
		username: ctx.User(),
		password: password,
		kind:     session.SSH,
	}
	player, err := g.authenticate(ctx, req, ctx.RemoteAddr().String(), nil)
	if err != nil {
		return false
	}
	ctx.SetValue(sshPlayerKey, player)
	return true
}

// HandleSSH owns sess until the session ends.
func (g *Game) HandleSSH(sess ssh.Session) {
	g.running.Add(1)
	defer g.running.Done()

	ctx := storage.SetSessionID(g.ctx, usurper.NextSessionID())
	remote := sess.RemoteAddr().String()
	stream := newTerminalStream(sess)
	g.metrics.connections.WithLabelValues("ssh").Inc()

	stopWatch := context.AfterFunc(ctx, func() {
		sess.Close()
	})
	defer stopWatch()

	var adm *admission
	if player, ok := sess.Context().Value(sshPlayerKey).(*storage.Player); ok {
		adm = &admission{
			player: player,
			kind:   session.SSH,
			remote: remote,
			stream: stream,
		}
	} else {
		var err error
		if adm, err = g.interactiveAuth(ctx, stream, remote, session.SSH); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrOperationAborted) && ctx.Err() == nil {
				log.Printf("ssh handshake with %s: %v", remote, err)
			}
			stream.Close()
			return
		}
	}
	if adm == nil {
		stream.Close()
		return
	}
	stopWatch()
	g.start(ctx, adm)
}
