package game

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/zond/usurper/session"
)

const maxInteractiveAttempts = 5

func promptLine(stream session.Stream, text string) (string, error) {
	if _, err := io.WriteString(stream, text); err != nil {
		return "", err
	}
	line, err := stream.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(stream session.Stream, text string) (string, error) {
	line, err := stream.ReadPassword(text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// interactiveAuth drives the login menu for clients that sent no AUTH line.
func (g *Game) interactiveAuth(ctx context.Context, stream session.Stream, remote string, kind session.Kind) (*admission, error) {
	for attempt := 0; attempt < maxInteractiveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprint(stream, "\n=== Usurper Online ===\n[L]ogin, [R]egister, [Q]uit\nChoice: ")
		choice, err := stream.ReadLine()
		if err != nil {
			return nil, err
		}
		req := &authRequest{
			kind: kind,
		}
		switch strings.ToUpper(strings.TrimSpace(choice)) {
		case "Q":
			fmt.Fprintln(stream, "Goodbye.")
			return nil, ErrOperationAborted
		case "L":
			req.mode = authPassword
			if req.username, err = promptLine(stream, "Username: "); err != nil {
				return nil, err
			}
			if req.username == "" {
				continue
			}
			if req.password, err = promptPassword(stream, "Password: "); err != nil {
				return nil, err
			}
			if req.password == "" {
				continue
			}
		case "R":
			req.mode = authRegister
			if req.username, err = promptLine(stream, "Choose a username: "); err != nil {
				return nil, err
			}
			if req.username == "" {
				continue
			}
			if n := utf8.RuneCountInString(req.username); n < 2 || n > 20 {
				fmt.Fprint(stream, "Username must be 2-20 characters.\n\n")
				continue
			}
			if req.password, err = promptPassword(stream, "Choose a password: "); err != nil {
				return nil, err
			}
			if req.password == "" {
				continue
			}
			if len(req.password) < 4 {
				fmt.Fprint(stream, "Password must be at least 4 characters.\n\n")
				continue
			}
			confirm, err := promptPassword(stream, "Confirm password: ")
			if err != nil {
				return nil, err
			}
			if confirm != req.password {
				fmt.Fprint(stream, "Passwords do not match.\n\n")
				continue
			}
		default:
			continue
		}
		player, err := g.authenticate(ctx, req, remote, stream)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fmt.Fprintf(stream, "%s\n\n", userMessage(err))
			continue
		}
		fmt.Fprintf(stream, "Welcome, %s!\n\n", player.DisplayName)
		return &admission{
			player: player,
			kind:   req.kind,
			remote: remote,
			stream: stream,
		}, nil
	}
	fmt.Fprintln(stream, "Too many attempts. Goodbye.")
	return nil, nil
}
