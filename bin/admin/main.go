// usurper-admin is the administration tool for Usurper servers.
// It communicates with a running server via Unix domain socket.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rodaine/table"
	"github.com/zond/usurper/game"

	goccy "github.com/goccy/go-json"
)

func main() {
	homeDir, _ := os.UserHomeDir()
	defaultSocket := filepath.Join(homeDir, ".usurper", "control.sock")

	socketPath := flag.String("socket", defaultSocket, "Path to control socket")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  shutdown <seconds> [reason]  Count down and stop the server\n")
		fmt.Fprintf(os.Stderr, "  kick <name> [reason]         Disconnect a player\n")
		fmt.Fprintf(os.Stderr, "  who                          List online players\n")
		fmt.Fprintf(os.Stderr, "  broadcast <message>          Send a system message to everyone\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch command := strings.ToLower(args[0]); command {
	case "shutdown":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		err = simple(*socketPath, "SHUTDOWN", args[1:], "Shutdown initiated")
	case "kick":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		err = simple(*socketPath, "KICK", args[1:], fmt.Sprintf("Kicked %s", args[1]))
	case "broadcast":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		err = simple(*socketPath, "BROADCAST", args[1:], "Broadcast sent")
	case "who":
		err = who(*socketPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// send writes one command and returns the payload of an OK response.
func send(socketPath string, cmd string, args []string) (string, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return "", fmt.Errorf("failed to connect to control socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	line := strings.TrimSpace(cmd + " " + strings.Join(args, " "))
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	response = strings.TrimSpace(response)
	switch {
	case response == "OK":
		return "", nil
	case strings.HasPrefix(response, "OK "):
		return strings.TrimPrefix(response, "OK "), nil
	case strings.HasPrefix(response, "ERROR:"):
		return "", fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(response, "ERROR:")))
	}
	return "", fmt.Errorf("unexpected response: %s", response)
}

func simple(socketPath string, cmd string, args []string, success string) error {
	if _, err := send(socketPath, cmd, args); err != nil {
		return err
	}
	fmt.Println(success)
	return nil
}

func who(socketPath string) error {
	payload, err := send(socketPath, "WHO", nil)
	if err != nil {
		return err
	}
	online := []game.Online{}
	if err := goccy.Unmarshal([]byte(payload), &online); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(online) == 0 {
		fmt.Println("No one is online.")
		return nil
	}
	tbl := table.New("Name", "Tier", "Kind", "Location", "Idle", "Remote")
	for _, o := range online {
		name := o.Name
		if o.Invisible {
			name += " (invis)"
		}
		tbl.AddRow(name, o.Tier, o.Kind, o.Location, time.Duration(o.IdleSeconds)*time.Second, o.Remote)
	}
	tbl.Print()
	return nil
}
