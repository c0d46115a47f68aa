package game

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/usurper"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

const authPrefix = "AUTH:"

var (
	ErrInvalidAuth      = errors.New("Invalid auth format. Expected AUTH:username:connectionType")
	ErrPasswordRequired = errors.New("Password required.")
	ErrOperationAborted = errors.New("operation aborted")
)

type authMode int

const (
	authTrusted authMode = iota
	authPassword
	authRegister
)

func (m authMode) String() string {
	switch m {
	case authPassword:
		return "password"
	case authRegister:
		return "register"
	default:
		return "trusted"
	}
}

type authRequest struct {
	mode     authMode
	username string
	password string
	kind     session.Kind
}

// parseAuth splits an AUTH line. A password may not contain ':'.
func parseAuth(line string) (*authRequest, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), ":", 5)
	if len(parts) < 3 || parts[0] != "AUTH" || strings.TrimSpace(parts[1]) == "" {
		return nil, ErrInvalidAuth
	}
	req := &authRequest{
		username: strings.TrimSpace(parts[1]),
	}
	switch {
	case len(parts) == 5 && strings.EqualFold(strings.TrimSpace(parts[3]), "REGISTER"):
		req.mode = authRegister
		req.password = parts[2]
		req.kind = parseKind(parts[4])
	case len(parts) >= 4:
		req.mode = authPassword
		req.password = parts[2]
		req.kind = parseKind(parts[3])
	default:
		req.mode = authTrusted
		req.kind = parseKind(parts[2])
	}
	return req, nil
}

var knownKinds = []session.Kind{session.Web, session.SSH, session.BBS, session.Local, session.Telnet}

func parseKind(s string) session.Kind {
	s = strings.TrimSpace(s)
	for _, k := range knownKinds {
		if strings.EqualFold(s, string(k)) {
			return k
		}
	}
	if s == "" {
		return session.Web
	}
	return session.Kind(s)
}

// userMessage returns the text shown to a client for a failed login or registration.
func userMessage(err error) string {
	var validation storage.ValidationError
	var banned storage.BannedError
	switch {
	case errors.As(err, &validation):
		return validation.Msg
	case errors.As(err, &banned):
		return banned.Error()
	case errors.Is(err, storage.ErrNotFound):
		return "Unknown username. Type 'R' to register a new account."
	case errors.Is(err, storage.ErrNameTaken),
		errors.Is(err, storage.ErrNameUnavailable),
		errors.Is(err, storage.ErrBadPassword),
		errors.Is(err, ErrInvalidAuth),
		errors.Is(err, ErrPasswordRequired):
		return errors.Cause(err).Error()
	default:
		return "Authentication failed. Please try again."
	}
}

func failureReason(err error) string {
	var validation storage.ValidationError
	var banned storage.BannedError
	switch {
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &banned):
		return "banned"
	case errors.Is(err, storage.ErrNotFound):
		return "unknown_user"
	case errors.Is(err, storage.ErrNameTaken), errors.Is(err, storage.ErrNameUnavailable):
		return "name_taken"
	case errors.Is(err, storage.ErrBadPassword):
		return "bad_password"
	case errors.Is(err, ErrInvalidAuth):
		return "format"
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	default:
		return "internal"
	}
}

// admission is an authenticated connection waiting for its session to start.
type admission struct {
	player   *storage.Player
	kind     session.Kind
	remote   string
	stream   session.Stream
	protocol bool
}

// authenticate resolves req against the store. Expected failures are
// returned as the store's typed errors and are audited as LOGIN_FAILED.
func (g *Game) authenticate(ctx context.Context, req *authRequest, remote string, notice io.Writer) (*storage.Player, error) {
	var player *storage.Player
	var err error
	switch req.mode {
	case authRegister:
		if player, err = g.store.Register(ctx, req.username, req.password); err == nil {
			g.store.AuditLog(ctx, "USER_REGISTER", storage.AuditUserRegister{
				User:   player.DisplayName,
				Remote: remote,
			})
		}
	case authPassword:
		if err = g.limiter.waitIfNeeded(ctx, req.username, notice); err != nil {
			return nil, err
		}
		if player, err = g.store.Authenticate(ctx, req.username, req.password); err != nil {
			g.limiter.recordFailure(req.username)
		} else {
			g.limiter.clearFailure(req.username)
		}
	default:
		if !g.config.TrustPreauth {
			err = ErrPasswordRequired
		} else {
			player, err = g.store.Ensure(ctx, req.username)
		}
	}
	if err != nil {
		g.metrics.handshakeFailures.WithLabelValues(failureReason(err)).Inc()
		if failureReason(err) == "internal" {
			if ctx.Err() == nil {
				log.Printf("authenticating %q: %v", req.username, err)
				log.Println(usurper.StackTrace(err))
			}
		} else {
			g.store.AuditLog(ctx, "LOGIN_FAILED", storage.AuditLoginFailed{
				User:   req.username,
				Remote: remote,
				Reason: failureReason(err),
			})
		}
		return nil, err
	}
	return player, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HandleConn owns conn until the connection ends.
func (g *Game) HandleConn(conn net.Conn) {
	g.running.Add(1)
	defer g.running.Done()
	defer conn.Close()

	ctx := storage.SetSessionID(g.ctx, usurper.NextSessionID())
	remote := conn.RemoteAddr().String()
	stream := newLineStream(conn, g.config.MaxLineLength)

	stopWatch := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stopWatch()

	stream.SetReadDeadline(time.Now().Add(g.config.HandshakeTimeout))
	line, err := stream.ReadLine()
	stream.SetReadDeadline(time.Time{})

	var adm *admission
	switch {
	case err == nil && strings.HasPrefix(line, authPrefix):
		g.metrics.connections.WithLabelValues("protocol").Inc()
		adm, err = g.protocolAuth(ctx, stream, line, remote)
	case err == nil || isTimeout(err):
		g.metrics.connections.WithLabelValues("interactive").Inc()
		stream.enableTelnet()
		adm, err = g.interactiveAuth(ctx, stream, remote, session.Telnet)
	}
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, ErrOperationAborted) && ctx.Err() == nil && !isTimeout(err) {
			log.Printf("handshake with %s: %v", remote, err)
		}
		return
	}
	if adm == nil {
		return
	}
	stopWatch()
	g.start(ctx, adm)
}

// protocolAuth answers an AUTH line. Rejections write one ERR line and
// return a nil admission.
func (g *Game) protocolAuth(ctx context.Context, stream *lineStream, line string, remote string) (*admission, error) {
	req, err := parseAuth(line)
	if err != nil {
		g.metrics.handshakeFailures.WithLabelValues(failureReason(err)).Inc()
		fmt.Fprintf(stream, "ERR:%s\n", userMessage(err))
		return nil, nil
	}
	log.Printf("connection from %s: user=%s, type=%s, auth=%s", remote, req.username, req.kind, req.mode)
	player, err := g.authenticate(ctx, req, remote, nil)
	if err != nil {
		fmt.Fprintf(stream, "ERR:%s\n", userMessage(err))
		return nil, nil
	}
	return &admission{
		player:   player,
		kind:     req.kind,
		remote:   remote,
		stream:   stream,
		protocol: true,
	}, nil
}
