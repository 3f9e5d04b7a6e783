/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof" // http profile handlers
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/aether-im/aether/c2s"
	"github.com/aether-im/aether/component"
	"github.com/aether-im/aether/host"
	"github.com/aether-im/aether/log"
	"github.com/aether-im/aether/module/offline"
	"github.com/aether-im/aether/router"
	"github.com/aether-im/aether/s2s"
	"github.com/aether-im/aether/session"
	"github.com/aether-im/aether/storage"
	"github.com/aether-im/aether/version"
	"github.com/pkg/errors"
)

const defaultShutDownWaitTime = time.Duration(5) * time.Second

var logoStr = []string{
	`               __  .__                        `,
	`  _____   _____/  |_|  |__   ___________      `,
	`  \__  \ _/ __ \   __\  |  \_/ __ \_  __ \    `,
	`   / __ \\  ___/|  | |   Y  \  ___/|  | \/    `,
	`  (____  /\___  >__| |___|  /\___  >__|       `,
	`       \/     \/          \/     \/           `,
}

const usageStr = `
Usage: aether [options]

Server Options:
    -c, --config <file>    Configuration file path
Common Options:
    -h, --help             Show this message
    -v, --version          Show version
`

// Application encapsulates an aether server application.
type Application struct {
	output           io.Writer
	args             []string
	c2s              *c2s.C2S
	s2s              *s2s.S2S
	comps            *component.Components
	compListener     *component.Listener
	debugSrv         *http.Server
	waitStopCh       chan os.Signal
	shutDownWaitSecs time.Duration
}

// New returns a runnable application given an output and a command
// line arguments array.
func New(output io.Writer, args []string) *Application {
	return &Application{
		output:           output,
		args:             args,
		waitStopCh:       make(chan os.Signal, 1),
		shutDownWaitSecs: defaultShutDownWaitTime,
	}
}

// Run runs the aether application until either a stop signal
// is received or an error occurs.
func (a *Application) Run() error {
	if len(a.args) == 0 {
		return errors.New("empty command-line arguments")
	}
	var configFile string
	var showVersion, showUsage bool

	fs := flag.NewFlagSet("aether", flag.ExitOnError)
	fs.SetOutput(a.output)

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showUsage, "h", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.BoolVar(&showVersion, "v", false, "Print version information.")
	fs.StringVar(&configFile, "config", "/etc/aether/aether.yml", "Configuration file path.")
	fs.StringVar(&configFile, "c", "/etc/aether/aether.yml", "Configuration file path.")
	fs.Usage = func() {
		for i := range logoStr {
			_, _ = fmt.Fprintf(a.output, "%s\n", logoStr[i])
		}
		_, _ = fmt.Fprintf(a.output, "%s\n", usageStr)
	}
	_ = fs.Parse(a.args[1:])

	// print usage
	if showUsage {
		fs.Usage()
		return nil
	}
	// print version
	if showVersion {
		_, _ = fmt.Fprintf(a.output, "aether version: %v\n", version.ApplicationVersion)
		return nil
	}
	// load configuration
	var cfg Config
	if err := cfg.FromFile(configFile); err != nil {
		return err
	}
	// create PID file
	if err := a.createPIDFile(cfg.PIDFile); err != nil {
		return err
	}
	// initialize subsystems
	if err := log.Initialize(&cfg.Logger); err != nil {
		return err
	}
	host.Initialize(cfg.Hosts)
	storage.Initialize(&cfg.Storage)

	// show aether's fancy logo
	a.printLogo()

	// initialize session manager and stanza routers
	table := router.NewTable()
	sessions := session.NewManager(table)
	offlineMod := offline.New(&cfg.Offline)

	stanzaRouter := &router.Router{
		Table:    table,
		IQ:       router.NewIQRouter(table, sessions),
		Message:  router.NewMessageRouter(table, sessions, offlineMod),
		Presence: router.NewPresenceRouter(table, nil, nil),
	}
	a.comps = component.New(table)

	// start serving external components...
	if cfg.Component != nil {
		a.compListener = component.NewListener(cfg.Component, a.comps, stanzaRouter)
		go a.compListener.Start()
	}
	// start serving s2s...
	if cfg.S2S != nil {
		a.s2s = s2s.New(cfg.S2S, stanzaRouter)
		a.s2s.Start()
	}
	// start serving c2s...
	var err error
	if a.s2s != nil {
		a.c2s, err = c2s.New(cfg.C2S, stanzaRouter, sessions, offlineMod, a.s2s)
	} else {
		a.c2s, err = c2s.New(cfg.C2S, stanzaRouter, sessions, offlineMod, nil)
	}
	if err != nil {
		return err
	}
	a.c2s.Start()

	// initialize debug server...
	if cfg.Debug.Port > 0 {
		if err := a.initDebugServer(cfg.Debug.Port); err != nil {
			return err
		}
	}

	// ...wait for stop signal to shutdown
	sig := a.waitForStopSignal()
	log.Infof("received %s signal... shutting down...", sig.String())

	return a.gracefullyShutdown()
}

func (a *Application) createPIDFile(pidFile string) error {
	if len(pidFile) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(pidFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	currentPid := os.Getpid()
	if _, err := file.WriteString(strconv.FormatInt(int64(currentPid), 10)); err != nil {
		return err
	}
	return nil
}

func (a *Application) printLogo() {
	for i := range logoStr {
		log.Infof("%s", logoStr[i])
	}
	log.Infof("")
	log.Infof("aether %v\n", version.ApplicationVersion)
}

func (a *Application) initDebugServer(port int) error {
	a.debugSrv = &http.Server{}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	go func() { _ = a.debugSrv.Serve(ln) }()
	log.Infof("debug server listening at %d...", port)
	return nil
}

func (a *Application) waitForStopSignal() os.Signal {
	signal.Notify(a.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return <-a.waitStopCh
}

func (a *Application) gracefullyShutdown() error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(a.shutDownWaitSecs))
	defer cancel()

	select {
	case <-a.shutdown():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Application) shutdown() <-chan bool {
	c := make(chan bool, 1)
	go func() {
		if a.debugSrv != nil {
			_ = a.debugSrv.Close()
		}
		a.c2s.Shutdown()
		if a.s2s != nil {
			a.s2s.Shutdown()
		}
		if a.compListener != nil {
			a.compListener.Shutdown()
		}
		a.comps.Shutdown()

		storage.Shutdown()
		host.Shutdown()
		log.Shutdown()
		c <- true
	}()
	return c
}
