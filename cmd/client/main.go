package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/curvelaunch/curvelaunch-engine-go/patcher"
	"github.com/curvelaunch/curvelaunch-engine-go/streams/jsonrpc/client"
)

const DefaultClientBufferSize = 100

func main() {
	url := flag.String("url", "ws://localhost:8546", "snapshot stream websocket URL")
	flag.Parse()

	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	rootLogger := slog.New(rootLogHandler)
	close := func() {
		os.Exit(1)
	}

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := client.NewClient(
		ctx,
		client.Config{
			URL:        *url,
			Logger:     rootLogger.With("component", "jsonrpc-client"),
			BufferSize: DefaultClientBufferSize,
			Patcher:    patcher.NewStatePatcher().Patch,
		},
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "url", *url, "error", err)
		close()
	}

	for {
		select {
		case snap := <-client.Snapshots():
			rootLogger.Info("snapshot",
				"sequence", snap.Sequence,
				"pools", len(snap.Pools),
				"liquidity_entries", len(snap.Liquidity),
			)
		case err := <-client.Err():
			rootLogger.Error("Fatal client error", "error", err)
			return
		case <-ctx.Done():
			return
		}
	}
}
