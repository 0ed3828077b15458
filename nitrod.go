package main

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nitrokey-community/nitrod-go/internal/logs"
	"github.com/nitrokey-community/nitrod-go/internal/server"
	"github.com/nitrokey-community/nitrod-go/nitrokeyapi"
)

const version = "0.2.0"

func main() {
	options := parseFlags()

	sentry.Init(sentry.ClientOptions{
		Dsn:     "",
		Debug:   false,
		Release: version,
	})

	defer func() {
		err := recover()

		if err != nil {
			sentry.CurrentHub().Recover(err)
			sentry.Flush(time.Second * 5)
		}
	}()

	if options.versionFlag {
		fmt.Printf("nitrod version %s\n", version)
		return
	}

	stderrWriter, stderrLogger, shortMemoryWriter, longMemoryWriter := initLoggers(options.logfile, options.verbose)

	stderrLogger.Printf("nitrod v%s is starting.", version)

	mgr, err := nitrokeyapi.Take(nitrokeyapi.LogWriter(longMemoryWriter))
	if err != nil {
		sentry.CaptureException(err)
		stderrLogger.Fatalf("driver: %s", err)
	}
	defer mgr.Close()

	logger := &logs.Logger{Writer: longMemoryWriter}

	logger.Log("Creating HTTP server")
	s, err := server.New(mgr, stderrWriter, shortMemoryWriter, longMemoryWriter, version)
	if err != nil {
		sentry.CaptureException(err)
		stderrLogger.Fatalf("https: %s", err)
	}

	logger.Log("Running HTTP server")
	err = s.Run()
	if err != nil {
		sentry.CaptureException(err)
		stderrLogger.Fatalf("https: %s", err)
	}

	logger.Log("Main ended successfully")
}
