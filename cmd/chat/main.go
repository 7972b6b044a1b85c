package main

import (
	"bufio"
	"chat-session/auth"
	"chat-session/client"
	"chat-session/contract"
	"chat-session/internal"
	"chat-session/moderation"
	"chat-session/observability"
	"chat-session/repositories"
	"chat-session/services"
	"chat-session/transport"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the session, then reads commands from stdin until EOF,
// /quit or a termination signal.
func run() (int, error) {
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	mask, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if config.MetricsAddr != "" {
		stopDebug := internal.StartDebugServer(config.MetricsAddr, registry, log)
		defer stopDebug()
	}

	var store contract.TokenStore = auth.NewMemoryTokenStore()
	if config.BadgerFilepath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return exitRuntime, fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
		store = repositories.NewCredentialRepository(db, log)
	}

	authClient, err := client.NewAuthClient(client.Config{BaseURL: config.APIURL, Logger: log}, store)
	if err != nil {
		return exitConfig, err
	}
	refresher := auth.NewRefresher(authClient.Refresh, store, metrics, log)
	authClient.UseRefresher(refresher)
	dialer := transport.NewWebsocketDialer(config.WebsocketURL, config.HandshakeTimeout, log)
	session := services.NewSession(authClient, store, refresher, dialer, metrics, log, config.Reconnect())
	defer session.Connection().Disconnect()

	filter, err := moderation.NewMuteFilter(config.Muted(), mask, log)
	if err != nil {
		return exitConfig, fmt.Errorf("muted words: %w", err)
	}
	term := newTerminal(os.Stdout, filter, config.Colours)
	session.OnStateChange(term.stateChange)
	session.OnError(term.fail)
	session.OnRoomMessage(term.roomMessage)
	session.OnDirectMessage(term.directMessage)

	sh := &shell{session: session, term: term, requestTimeout: config.RequestTimeout}
	if _, ok := store.Get(); ok {
		sh.execute(ctx, command{name: "restore"})
	}
	term.info("Type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if sh.execute(ctx, parseCommand(line)) {
				return exitOK, nil
			}
		}
	}
}
