// Command alpha is the command-line client of the alpha chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/rhuss/alpha/pkg/client"
)

var (
	baseURL string
	token   string
)

var rootCmd = &cobra.Command{
	Use:   "alpha",
	Short: "Chat with an alpha server",
	Long: `alpha sends messages to an alpha chat server and manages its
conversations. Streaming replies are reconstructed locally from the frame
stream.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", envOr("ALPHA_API_URL", client.DefaultBaseURL), "API root of the alpha server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("ALPHA_TOKEN"), "Bearer token or API key")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(baseURL, opts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
