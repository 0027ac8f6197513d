// riglink - connection core and probe CLI for the workbench backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/riglink/internal/config"
	"github.com/jeranaias/riglink/internal/history"
	"github.com/jeranaias/riglink/internal/link"
	"github.com/jeranaias/riglink/internal/logging"
	"github.com/jeranaias/riglink/internal/protocol"
	"github.com/jeranaias/riglink/internal/stream"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "search":
		runSearch(args)
	case "upload":
		runUpload(args)
	case "chat":
		runChat(args)
	case "watch":
		runWatch(args)
	case "history":
		runHistory(args)
	case "config":
		runConfig(args)
	case "version", "--version", "-v":
		fmt.Printf("riglink %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`riglink - workbench connection probe

Usage:
  riglink search  -project <id> -query <text> [-limit N]
  riglink upload  -project <id> -file <path>
  riglink chat    [-conversation <id>] -message <text>
  riglink watch   [topics...]
  riglink history [-conversation <id>] [-limit N]
  riglink config  [init|show]
  riglink version

Environment:
  RIGLINK_URL           websocket endpoint override
  RIGLINK_TIMEOUT_SECS  request timeout override
  RIGLINK_LOG_LEVEL     trace|debug|info|warn|error
`)
}

// setup loads config, builds the logger and connects the manager.
func setup(ctx context.Context) (*link.Manager, *config.Config, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	mgr, err := link.NewFromConfig(cfg, log)
	if err != nil {
		fatal("init: %v", err)
	}

	if err := mgr.Open(ctx); err != nil {
		fatal("connect to %s: %v", cfg.Server.URL, err)
	}

	return mgr, cfg, log
}

// watchConfig follows config file edits for long-lived commands,
// applying the log level and the manager's runtime settings without a
// restart. The returned stop function releases the watcher.
func watchConfig(mgr *link.Manager, log zerolog.Logger) func() {
	path, err := config.ConfigPath()
	if err != nil {
		log.Warn().Err(err).Msg("config watch unavailable")
		return func() {}
	}

	w, err := config.NewWatcher(path, 0, func(cfg *config.Config) {
		logging.SetLevel(cfg.Log.Level)
		mgr.ApplyConfig(cfg)
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("config watch unavailable")
		return func() {}
	}
	if err := w.Watch(); err != nil {
		log.Warn().Err(err).Msg("config watch unavailable")
		_ = w.Close()
		return func() {}
	}

	return func() { _ = w.Close() }
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "riglink: "+format+"\n", args...)
	os.Exit(1)
}

// =============================================================================
// COMMANDS
// =============================================================================

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	project := fs.String("project", "", "project id")
	query := fs.String("query", "", "search query")
	limit := fs.Int("limit", 10, "max results")
	fs.Parse(args)

	if *query == "" {
		fatal("search: -query is required")
	}

	ctx := context.Background()
	mgr, _, _ := setup(ctx)
	defer mgr.Shutdown()

	hits, err := mgr.Search(ctx, protocol.SearchParams{
		ProjectID: *project,
		Query:     *query,
		Limit:     *limit,
	})
	if err != nil {
		fatal("search: %v", err)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return
	}
	for i, h := range hits {
		fmt.Printf("%2d. [%.2f] %s (chunk %d)\n", i+1, h.Score, h.FileName, h.ChunkIndex)
		fmt.Printf("    %s\n", h.Content)
	}
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	project := fs.String("project", "", "project id")
	file := fs.String("file", "", "path to the file to upload")
	fs.Parse(args)

	if *file == "" {
		fatal("upload: -file is required")
	}

	body, err := os.ReadFile(*file)
	if err != nil {
		fatal("upload: %v", err)
	}

	ctx := context.Background()
	mgr, _, _ := setup(ctx)
	defer mgr.Shutdown()

	// Processing progress arrives as broadcasts; subscribe before the
	// upload so nothing is missed.
	done := make(chan struct{})
	mgr.Subscribe(protocol.PayloadProcessingProgress, func(env *protocol.Envelope) {
		var p protocol.ProcessingProgressPayload
		if env.DecodePayload(&p) == nil {
			fmt.Printf("\rprocessing: %3.0f%%", p.Progress*100)
		}
	})
	mgr.Subscribe(protocol.PayloadDocumentProcessed, func(env *protocol.Envelope) {
		fmt.Println("\rprocessing: done   ")
		close(done)
	})

	if _, err := mgr.UploadDocument(ctx, *project, *file, body); err != nil {
		fatal("upload: %v", err)
	}
	fmt.Printf("uploaded %s (%d bytes)\n", *file, len(body))

	select {
	case <-done:
	case <-time.After(5 * time.Minute):
		fatal("upload: timed out waiting for processing")
	}
}

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	conversation := fs.String("conversation", "", "conversation id")
	message := fs.String("message", "", "message to send")
	fs.Parse(args)

	if *message == "" {
		fatal("chat: -message is required")
	}

	ctx := context.Background()
	mgr, _, log := setup(ctx)
	defer mgr.Shutdown()

	stop := watchConfig(mgr, log)
	defer stop()

	done := make(chan struct{})
	mgr.OnStreamUpdate(func(snap stream.Snapshot) {
		switch snap.Status {
		case stream.StatusStreaming:
			fmt.Printf("\r%s", snap.Content)
		case stream.StatusComplete:
			fmt.Printf("\r%s\n", snap.Content)
			close(done)
		case stream.StatusErrored:
			fmt.Fprintf(os.Stderr, "\nstream interrupted: %v\n", snap.Err)
			close(done)
		}
	})

	if _, err := mgr.SendChat(ctx, *conversation, *message); err != nil {
		fatal("chat: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Minute):
		fatal("chat: timed out waiting for reply")
	}
}

func runWatch(args []string) {
	topics := args
	if len(topics) == 0 {
		topics = []string{
			protocol.PayloadProcessingProgress,
			protocol.PayloadDocumentProcessed,
			protocol.PayloadChatToken,
		}
	}

	ctx := context.Background()
	mgr, cfg, log := setup(ctx)
	defer mgr.Shutdown()

	stop := watchConfig(mgr, log)
	defer stop()

	fmt.Printf("watching %v on %s\n", topics, cfg.Server.URL)
	for _, topic := range topics {
		topic := topic
		mgr.Subscribe(topic, func(env *protocol.Envelope) {
			fmt.Printf("[%s] %s\n", topic, string(env.Data))
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	conversation := fs.String("conversation", "", "conversation id")
	limit := fs.Int("limit", 20, "max messages")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}
	if !cfg.History.Enabled {
		fatal("history: persistence is disabled in config")
	}

	path, err := cfg.HistoryPath()
	if err != nil {
		fatal("history: %v", err)
	}

	store, err := history.Open(path)
	if err != nil {
		fatal("history: %v", err)
	}
	defer store.Close()

	records, err := store.Recent(*conversation, *limit)
	if err != nil {
		fatal("history: %v", err)
	}
	for _, rec := range records {
		fmt.Printf("%s  %-9s %s\n", rec.CreatedAt.Format(time.RFC3339), rec.Role, rec.Content)
	}
}

func runConfig(args []string) {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "init":
		cfg := config.Default()
		if err := config.Save(cfg); err != nil {
			fatal("config init: %v", err)
		}
		path, _ := config.ConfigPath()
		fmt.Printf("wrote %s\n", path)
	case "show":
		cfg, err := config.Load()
		if err != nil {
			fatal("config: %v", err)
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fatal("config: %v", err)
		}
		fmt.Println(string(data))
	default:
		fatal("config: unknown subcommand %q", sub)
	}
}
