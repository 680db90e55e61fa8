// Command mcp-tools runs a small MCP tool server over streamable HTTP on
// /mcp, for trying alpha's tool calling locally together with the mock
// backend. Tools: get_time, get_weather and echo.
//
// Configuration:
//
//	PORT  listen port (default: 8080)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/alpha/pkg/debug"
	transporthttp "github.com/rhuss/alpha/pkg/transport/http"
)

func main() {
	debug.Init("", "")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := transporthttp.NewServer(newHandler(newServer(time.Now)),
		transporthttp.WithAddr(":"+port),
		transporthttp.WithShutdownTimeout(5*time.Second),
	)
	if err := srv.Run(ctx); err != nil {
		slog.Error("mcp-tools failed", "error", err)
		os.Exit(1)
	}
}

func newHandler(server *mcp.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// WeatherInput is the input of get_weather.
type WeatherInput struct {
	City string `json:"city" jsonschema:"City name, e.g. Berlin"`
}

// EchoInput is the input of echo.
type EchoInput struct {
	Message string `json:"message" jsonschema:"The message to echo back"`
}

// forecasts holds the canned weather of get_weather.
var forecasts = map[string]string{
	"berlin": "cloudy, 14C",
	"london": "rain, 11C",
	"oslo":   "snow, -3C",
	"rome":   "sunny, 24C",
}

func newServer(now func() time.Time) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "alpha-tools", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_time",
		Description: "Returns the current UTC time",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return text("Current time: " + now().UTC().Format(time.RFC3339)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Returns the current weather for a city",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in WeatherInput) (*mcp.CallToolResult, any, error) {
		f, ok := forecasts[strings.ToLower(strings.TrimSpace(in.City))]
		if !ok {
			res := text(fmt.Sprintf("No weather data for %q. Known cities: %s", in.City, knownCities()))
			res.IsError = true
			return res, nil, nil
		}
		return text(fmt.Sprintf("Weather in %s: %s", in.City, f)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in EchoInput) (*mcp.CallToolResult, any, error) {
		return text("Echo: " + in.Message), nil, nil
	})

	return server
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func knownCities() string {
	names := make([]string, 0, len(forecasts))
	for c := range forecasts {
		names = append(names, c)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
