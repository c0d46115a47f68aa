package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zond/usurper/server"
)

func main() {
	flags := server.DefaultConfig()
	admins := ""

	configFile := flag.String("config", "", "YAML file with server settings.")
	flag.StringVar(&flags.Dir, "dir", flags.Dir, "Where to save database, keys and logs.")
	flag.StringVar(&flags.TCPAddr, "tcp", flags.TCPAddr, "Where to listen to game connections.")
	flag.StringVar(&flags.SSHAddr, "ssh", flags.SSHAddr, "Where to listen to SSH connections, empty to disable.")
	flag.StringVar(&flags.ControlSocket, "control", flags.ControlSocket, "Path of the administration socket, empty to disable.")
	flag.StringVar(&flags.MetricsAddr, "metrics", flags.MetricsAddr, "Where to serve Prometheus metrics, empty to disable.")
	flag.StringVar(&flags.LogFile, "log", flags.LogFile, "Rotated log file, empty for stderr only.")
	flag.DurationVar(&flags.IdleTimeout, "idle", flags.IdleTimeout, "Disconnect players idle longer than this.")
	flag.BoolVar(&flags.TrustPreauth, "trust_preauth", flags.TrustPreauth, "Accept AUTH lines without a password.")
	flag.StringVar(&admins, "admins", "", "Comma separated accounts promoted to God at startup.")
	flag.Parse()

	config := server.DefaultConfig()
	if *configFile != "" {
		if err := config.LoadConfigFile(*configFile); err != nil {
			log.Fatal(err)
		}
	}
	if err := config.ParseEnv(); err != nil {
		log.Fatal(err)
	}

	// Flags given on the command line win over the file and the environment.
	overrides := map[string]func(){
		"dir":           func() { config.Dir = flags.Dir },
		"tcp":           func() { config.TCPAddr = flags.TCPAddr },
		"ssh":           func() { config.SSHAddr = flags.SSHAddr },
		"control":       func() { config.ControlSocket = flags.ControlSocket },
		"metrics":       func() { config.MetricsAddr = flags.MetricsAddr },
		"log":           func() { config.LogFile = flags.LogFile },
		"idle":          func() { config.IdleTimeout = flags.IdleTimeout },
		"trust_preauth": func() { config.TrustPreauth = flags.TrustPreauth },
		"admins":        func() { config.BootstrapAdmins = strings.Split(admins, ",") },
	}
	flag.Visit(func(f *flag.Flag) {
		if override, found := overrides[f.Name]; found {
			override()
		}
	})

	srv, err := server.New(config)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
