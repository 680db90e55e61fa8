// Command mock-backend serves the mockserver Chat Completions backend on a
// local port.
//
// Configuration:
//
//	MOCK_PORT        listen port (default: 9090)
//	MOCK_SLOW_DELAY  delay between words of the slow scenario (default: 200ms)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/provider/openaicompat/mockserver"
	transporthttp "github.com/rhuss/alpha/pkg/transport/http"
)

func main() {
	debug.Init("", "")

	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	delay := 200 * time.Millisecond
	if v := os.Getenv("MOCK_SLOW_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid MOCK_SLOW_DELAY", "value", v, "error", err)
			os.Exit(1)
		}
		delay = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := transporthttp.NewServer(mockserver.NewHandler(delay),
		transporthttp.WithAddr(":"+port),
		transporthttp.WithShutdownTimeout(5*time.Second),
	)
	if err := srv.Run(ctx); err != nil {
		slog.Error("mock backend failed", "error", err)
		os.Exit(1)
	}
}
