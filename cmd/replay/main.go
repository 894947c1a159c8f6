package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/radio-scanner/cmd/replay/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var (
		address, level string
		src            app.Source
	)
	flag.StringVar(&address, "addr", "127.0.0.1:7356", "Receiver remote control address")
	flag.StringVar(&src.LogPath, "log", "", "Path to a scan log")
	flag.StringVar(&src.DBPath, "db", "", "Path to a scanner database")
	flag.StringVar(&src.SessionID, "s", "", "Session to replay from the database, the latest when empty")
	flag.StringVar(&level, "level", "info", "Log level")
	flag.Parse()

	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logger.Error(fmt.Sprintf("invalid log level: %s", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	signals, err := app.LoadSignals(ctx, src)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load signals: %s", err.Error()))
		os.Exit(1)
	}

	pauser, restore, err := app.OpenKeyboard(os.Stdout)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	err = app.Run(ctx, address, signals, pauser, logger)
	restore()

	if err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
