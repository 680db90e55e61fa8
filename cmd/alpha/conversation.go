package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhuss/alpha/pkg/api"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show the model of the current conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		model, err := newClient().Model(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Current model: %s\n", model)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model <provider:model>",
	Short: "Switch the current conversation to another model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := newClient().SetModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Model changed to: %s\n", model)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the server can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		models, err := newClient().Models(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPROVIDER")
		for _, m := range models {
			fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Provider)
		}
		return tw.Flush()
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the current conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		view, err := newClient().Conversation(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), view)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Start over with an empty conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Conversation cleared. Current model: %s\n", resp.Model)
		return nil
	},
}

var (
	newModel  string
	newPrompt string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		view, err := newClient().NewConversation(cmd.Context(), newModel, newPrompt)
		if err != nil {
			return err
		}
		prompt := view.SystemPromptFile
		if prompt == "" {
			prompt = "none"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "New conversation %s (model %s, prompt %s)\n", view.ID, view.Model, prompt)
		return nil
	},
}

var conversationsLimit int

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List stored conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		list, err := newClient().Conversations(cmd.Context(), conversationsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODEL\tMESSAGES\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Model, c.MessageCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <id>",
	Short: "Make a stored conversation current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := newClient().LoadConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded conversation %s (%d messages, model %s)\n", view.ID, view.TotalMessages, view.Model)
		return nil
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the system prompts available on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		prompts, err := newClient().Prompts(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range prompts {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of messages to show")
	newCmd.Flags().StringVar(&newModel, "model", "", "Model as provider:model (default: server default)")
	newCmd.Flags().StringVar(&newPrompt, "prompt", "", "System prompt file (default: server default, \"none\" for no prompt)")
	conversationsCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "Number of conversations to list")

	rootCmd.AddCommand(modelCmd, setModelCmd, modelsCmd, historyCmd, clearCmd, newCmd, conversationsCmd, loadCmd, promptsCmd)
}

func printHistory(w io.Writer, view *api.ConversationView) {
	fmt.Fprintf(w, "\n=== Conversation History (%d messages) ===\n\n", view.TotalMessages)
	for _, m := range view.Messages {
		if m.IsToolExchange() {
			for _, x := range m.ToolCalls {
				fmt.Fprintf(w, "TOOL: %s %s -> %s\n\n", x.Call.ToolName, compactArgs(x.Call.Args), truncate(x.Response.Content, 200))
			}
			continue
		}
		fmt.Fprintf(w, "%s: %s\n\n", strings.ToUpper(string(m.Role)), m.Content)
	}
}
