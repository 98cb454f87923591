package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Server  ServerCmd  `command:"server" description:"run authentication gateway"`
	Sync    SyncCmd    `command:"sync" description:"sync registry file into the store and exit"`
	Key     KeyCmd     `command:"key" description:"manage api keys"`
	Account AccountCmd `command:"account" description:"manage key owner accounts"`
	Policy  PolicyCmd  `command:"policy" description:"manage resource policies"`
	Flag    FlagCmd    `command:"flag" description:"manage persisted feature flags"`
	Token   TokenCmd   `command:"token" description:"mint a signed bearer token for development"`
}

var revision = "unknown"

func main() {
	fmt.Fprintf(os.Stderr, "gatekeeper %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			p.WriteHelp(os.Stderr)
			os.Exit(2)
		}
		if errors.As(err, &flagsErr) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		log.Printf("[ERROR] failed: %v", err)
		os.Exit(1)
	}
}

func setupLogs(dbg bool) {
	log.Setup(log.Msec)
	if dbg {
		log.Setup(log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			switch sig {
			case syscall.SIGQUIT:
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
			case syscall.SIGTERM, syscall.SIGINT:
				cancel()
			}
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
