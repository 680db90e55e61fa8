// Package engine implements the event source of a chat exchange: the
// agentic loop that streams provider turns, executes the tool calls the
// model makes, and feeds the results back until the model answers without
// calling tools.
//
// The loop's output is a channel of api.Event values in generation order.
// It ends with exactly one Completion or Failure, or with no terminal event
// when the context is cancelled. The channel feeds transcript.Fold directly
// through transcript.FromChannel.
package engine
