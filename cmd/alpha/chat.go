package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/transcript"
)

var noStream bool

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		if noStream {
			return chatOnce(cmd.Context(), cmd.OutOrStdout(), message)
		}
		return chatStream(cmd.Context(), cmd.OutOrStdout(), message)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the complete reply instead of streaming")
}

func chatOnce(ctx context.Context, w io.Writer, message string) error {
	resp, err := newClient().Chat(ctx, message)
	if err != nil {
		return err
	}
	printTranscript(w, resp.Messages)
	return nil
}

// chatStream folds the frame stream into a local transcript. An interrupt
// stops the stream; the partial transcript is still printed.
func chatStream(ctx context.Context, w io.Writer, message string) error {
	src, err := newClient().ChatStream(ctx, message)
	if err != nil {
		return err
	}
	defer src.Close()

	b := transcript.New()
	err = transcript.Fold(ctx, src, b)
	printTranscript(w, b.Messages())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	var te *api.TransportError
	if errors.As(err, &te) {
		// Already rendered as an error message.
		return nil
	}
	return err
}

// printTranscript renders the assistant side of an exchange.
func printTranscript(w io.Writer, msgs []api.Message) {
	fmt.Fprintln(w)
	for _, m := range msgs {
		switch {
		case m.IsToolExchange():
			for _, x := range m.ToolCalls {
				fmt.Fprintf(w, "[tool] %s %s\n", x.Call.ToolName, compactArgs(x.Call.Args))
				fmt.Fprintf(w, "  -> %s\n", truncate(x.Response.Content, 200))
			}
		case m.Role == api.RoleError:
			fmt.Fprintf(w, "Error: %s\n", m.Content)
		case m.Role == api.RoleUser:
			continue
		default:
			fmt.Fprintln(w, m.Content)
		}
	}
	fmt.Fprintln(w)
}

func compactArgs(args []byte) string {
	s := strings.TrimSpace(string(args))
	if s == "" {
		return "{}"
	}
	return truncate(s, 120)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
