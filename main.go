/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "", "path to the engine TOML configuration")
	flag.Parse()

	tb := testbed.NewTestGame(*configPath)

	e, err := engine.New(tb.Game)
	if err != nil {
		os.Exit(1)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("initialization failed: %s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
