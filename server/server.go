// Package server wires storage, the game and every listener into one process.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/game"
	"github.com/zond/usurper/pemfile"
	"github.com/zond/usurper/storage"
	"gopkg.in/natefinch/lumberjack.v2"

	goccy "github.com/goccy/go-json"
	gossh "golang.org/x/crypto/ssh"
)

const controlCaller = "control socket"

type Server struct {
	config Config

	store   *storage.Storage
	game    *game.Game
	cancel  context.CancelFunc
	logFile *lumberjack.Logger

	tcp     net.Listener
	ssh     *ssh.Server
	control net.Listener
	metrics *http.Server

	serving   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func New(config Config) (*Server, error) {
	if config.Dir == "" {
		return nil, errors.New("no data directory configured")
	}
	return &Server{config: config}, nil
}

func (s *Server) Game() *game.Game {
	return s.game
}

// TCPAddr returns the address the game listener is bound to.
func (s *Server) TCPAddr() net.Addr {
	return s.tcp.Addr()
}

func (s *Server) setupLogging() {
	if s.config.LogFile == "" {
		return
	}
	s.logFile = &lumberjack.Logger{
		Filename:   s.config.LogFile,
		MaxSize:    s.config.LogMaxSizeMB,
		MaxBackups: s.config.LogMaxBackups,
		MaxAge:     s.config.LogMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, s.logFile))
}

// Listen opens the store and every configured listener.
func (s *Server) Listen(ctx context.Context) error {
	if err := os.MkdirAll(s.config.Dir, 0700); err != nil {
		return usurper.WithStack(err)
	}
	s.setupLogging()

	var err error
	if s.store, err = storage.New(ctx, s.config.Dir); err != nil {
		return err
	}
	if err := s.store.PromoteBootstrap(ctx, s.config.BootstrapAdmins, authority.God); err != nil {
		return err
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.game = game.New(ctx, s.store, s.config.Game())

	if s.tcp, err = net.Listen("tcp", s.config.TCPAddr); err != nil {
		return usurper.WithStack(err)
	}
	log.Printf("listening for game connections on %v", s.tcp.Addr())

	if s.config.SSHAddr != "" {
		if err := s.listenSSH(); err != nil {
			return err
		}
	}
	if s.config.ControlSocket != "" {
		if err := os.Remove(s.config.ControlSocket); err != nil && !os.IsNotExist(err) {
			return usurper.WithStack(err)
		}
		if s.control, err = net.Listen("unix", s.config.ControlSocket); err != nil {
			return usurper.WithStack(err)
		}
		log.Printf("control socket at %q", s.config.ControlSocket)
	}
	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.game.Metrics().Handler())
		s.metrics = &http.Server{
			Addr:              s.config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

func (s *Server) listenSSH() error {
	pemBytes, signer, generated, err := pemfile.KeyParams{
		KeyPath:       filepath.Join(s.config.Dir, "private.pem"),
		SSHPubKeyPath: filepath.Join(s.config.Dir, "public.pem"),
	}.Load()
	if err != nil {
		return err
	}
	if generated {
		log.Printf("generated server key pair in %q", s.config.Dir)
	}
	s.ssh = &ssh.Server{
		Addr:            s.config.SSHAddr,
		Handler:         s.game.HandleSSH,
		PasswordHandler: s.game.PasswordHandler,
	}
	if err := s.ssh.SetOption(ssh.HostKeyPEM(pemBytes)); err != nil {
		return usurper.WithStack(err)
	}
	log.Printf("listening for SSH on %q with public key %q", s.config.SSHAddr, gossh.FingerprintSHA256(signer.PublicKey()))
	return nil
}

func (s *Server) serve(name string, f func() error) {
	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		if err := f(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, ssh.ErrServerClosed) {
			log.Printf("%s: %v", name, err)
		}
	}()
}

func (s *Server) acceptLoop(l net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go handle(conn)
	}
}

// Serve runs until ctx is cancelled or the game shuts itself down.
func (s *Server) Serve(ctx context.Context) error {
	s.serve("game listener", func() error {
		return s.acceptLoop(s.tcp, s.game.HandleConn)
	})
	if s.ssh != nil {
		s.serve("ssh listener", s.ssh.ListenAndServe)
	}
	if s.control != nil {
		s.serve("control socket", func() error {
			return s.acceptLoop(s.control, s.handleControl)
		})
	}
	if s.metrics != nil {
		s.serve("metrics", s.metrics.ListenAndServe)
	}
	select {
	case <-ctx.Done():
	case <-s.game.Done():
	}
	return s.Close()
}

// Start is Listen followed by Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close stops accepting, ends every session and closes the store.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Server) close() error {
	if s.tcp != nil {
		s.tcp.Close()
	}
	if s.control != nil {
		s.control.Close()
	}
	if s.ssh != nil {
		s.ssh.Close()
	}
	if s.metrics != nil {
		s.metrics.Close()
	}
	if s.game != nil {
		s.game.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.serving.Wait()
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
	log.Printf("server stopped")
	return err
}

func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(conn, s.runControl(strings.TrimSpace(line)))
		}
		if err != nil {
			return
		}
	}
}

// runControl runs one control command and returns the response line.
func (s *Server) runControl(line string) string {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToUpper(cmd) {
	case "SHUTDOWN":
		secondsString, reason, _ := strings.Cut(rest, " ")
		seconds, err := strconv.Atoi(secondsString)
		if err != nil || seconds < 0 {
			return "ERROR: usage: SHUTDOWN <seconds> [reason]"
		}
		if err := s.game.Shutdown(context.Background(), controlCaller, seconds, strings.TrimSpace(reason)); err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return "OK"
	case "KICK":
		name, reason, _ := strings.Cut(rest, " ")
		if name == "" {
			return "ERROR: usage: KICK <name> [reason]"
		}
		if reason = strings.TrimSpace(reason); reason == "" {
			reason = "Kicked by administrator"
		}
		if !s.game.Kick(name, reason) {
			return fmt.Sprintf("ERROR: %s is not online", name)
		}
		return "OK"
	case "WHO":
		b, err := goccy.Marshal(s.game.Who())
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return "OK " + string(b)
	case "BROADCAST":
		if rest == "" {
			return "ERROR: usage: BROADCAST <message>"
		}
		s.game.Broadcast("[SYSTEM] " + rest)
		return "OK"
	default:
		return fmt.Sprintf("ERROR: unknown command %q", cmd)
	}
}
