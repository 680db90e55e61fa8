package engine

import "github.com/rhuss/alpha/pkg/tools"

// Default values for Config.
const (
	DefaultMaxTurns      = 10
	DefaultHistoryWindow = 10
)

// Config holds configuration for the engine.
type Config struct {
	// DefaultModel is used when the request omits the model.
	DefaultModel string

	// MaxTurns is the maximum number of provider turns in one exchange.
	// Zero or negative means DefaultMaxTurns.
	MaxTurns int

	// HistoryWindow is the number of most recent conversation messages
	// sent to the provider. Zero means DefaultHistoryWindow; negative
	// sends the whole conversation.
	HistoryWindow int

	// Temperature and MaxTokens are passed through to the provider.
	Temperature *float64
	MaxTokens   *int

	// Executors is the list of tool executors available for the agentic
	// loop. When empty, no tools are offered to the model.
	Executors []tools.ToolExecutor
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return c.MaxTurns
}

func (c Config) historyWindow() int {
	if c.HistoryWindow == 0 {
		return DefaultHistoryWindow
	}
	return c.HistoryWindow
}
