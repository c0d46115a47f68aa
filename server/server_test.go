package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zond/usurper/game"

	goccy "github.com/goccy/go-json"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usurper.yaml")
	if err := os.WriteFile(path, []byte(`
tcp_addr: "127.0.0.1:2323"
idle_timeout: 5m
bootstrap_admins:
  - alice
  - bob
trust_preauth: false
`), 0600); err != nil {
		t.Fatal(err)
	}
	config := DefaultConfig()
	if err := config.LoadConfigFile(path); err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig()
	want.TCPAddr = "127.0.0.1:2323"
	want.IdleTimeout = 5 * time.Minute
	want.BootstrapAdmins = []string{"alice", "bob"}
	want.TrustPreauth = false
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usurper.yaml")
	if err := os.WriteFile(path, []byte("idle_timeout: [nope"), 0600); err != nil {
		t.Fatal(err)
	}
	config := DefaultConfig()
	if err := config.LoadConfigFile(path); err == nil {
		t.Error("expected a parse error")
	}
	if err := config.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("USURPER_SSH_ADDR", ":2222")
	t.Setenv("USURPER_DISCONNECT_GRACE", "2s")
	t.Setenv("USURPER_BOOTSTRAP_ADMINS", "carol,dave")
	config := DefaultConfig()
	if err := config.ParseEnv(); err != nil {
		t.Fatal(err)
	}
	if config.SSHAddr != ":2222" {
		t.Errorf("got ssh addr %q", config.SSHAddr)
	}
	if config.DisconnectGrace != 2*time.Second {
		t.Errorf("got grace %v", config.DisconnectGrace)
	}
	if diff := cmp.Diff([]string{"carol", "dave"}, config.BootstrapAdmins); diff != "" {
		t.Errorf("admins (-want +got):\n%s", diff)
	}
	if config.TCPAddr != DefaultConfig().TCPAddr {
		t.Errorf("unset variables should keep defaults, got %q", config.TCPAddr)
	}

	t.Setenv("USURPER_IDLE_TIMEOUT", "forever")
	if err := config.ParseEnv(); err == nil || !strings.HasPrefix(err.Error(), "parse env: ") {
		t.Errorf("got %v, want a parse env error", err)
	}
}

func TestGameConfig(t *testing.T) {
	config := DefaultConfig()
	config.MaxGroupSize = 8
	if got := config.Game().MaxGroupSize; got != 8 {
		t.Errorf("got %d, want 8", got)
	}
	if got, want := config.Game().FlushInterval, game.DefaultConfig().FlushInterval; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func startServer(t *testing.T) (*Server, <-chan error) {
	t.Helper()
	dir, err := os.MkdirTemp("", "usurper")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	config := DefaultConfig()
	config.Dir = dir
	config.TCPAddr = "127.0.0.1:0"
	config.ControlSocket = filepath.Join(dir, "control.sock")
	config.DisconnectGrace = 10 * time.Millisecond
	srv, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Listen(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, done
}

func control(t *testing.T, srv *Server, line string) string {
	t.Helper()
	conn, err := net.Dial("unix", srv.config.ControlSocket)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprintln(conn, line)
	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(response)
}

func readUntil(t *testing.T, reader *bufio.Reader, want string) {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if strings.Contains(line, want) {
			return
		}
		if err != nil {
			t.Fatalf("reading until %q: %v", want, err)
		}
	}
}

func TestControlSocket(t *testing.T) {
	srv, done := startServer(t)

	conn, err := net.Dial("tcp", srv.TCPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(conn)
	fmt.Fprintln(conn, "AUTH:alice:web")
	readUntil(t, reader, "OK")
	readUntil(t, reader, "Town Square")

	response := control(t, srv, "WHO")
	if !strings.HasPrefix(response, "OK ") {
		t.Fatalf("got %q", response)
	}
	who := []game.Online{}
	if err := goccy.Unmarshal([]byte(strings.TrimPrefix(response, "OK ")), &who); err != nil {
		t.Fatal(err)
	}
	if len(who) != 1 || who[0].Name != "alice" || who[0].Location != "Town Square" {
		t.Errorf("got %+v", who)
	}

	if got := control(t, srv, "BROADCAST maintenance soon"); got != "OK" {
		t.Errorf("got %q", got)
	}
	readUntil(t, reader, "[SYSTEM] maintenance soon")

	if got := control(t, srv, "KICK nobody"); got != "ERROR: nobody is not online" {
		t.Errorf("got %q", got)
	}
	if got := control(t, srv, "FROB"); !strings.HasPrefix(got, "ERROR: unknown command") {
		t.Errorf("got %q", got)
	}
	if got := control(t, srv, "KICK alice spamming"); got != "OK" {
		t.Errorf("got %q", got)
	}
	readUntil(t, reader, "Kicked: spamming")

	if got := control(t, srv, "SHUTDOWN soon"); !strings.HasPrefix(got, "ERROR: usage") {
		t.Errorf("got %q", got)
	}
	if got := control(t, srv, "SHUTDOWN 1 testing"); got != "OK" {
		t.Errorf("got %q", got)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server should stop after the countdown")
	}
}
