// Package api defines the core types shared by every alpha component.
//
// Conversations are ordered lists of Messages. Generation exchanges are
// described as a sequence of Events (text deltas, tool calls, tool results,
// completion, failure) which the transcript builder folds into Messages.
// All types produce the JSON shapes used on the streaming wire and in the
// persisted conversation log, so a reloaded conversation and a live one are
// indistinguishable to a consumer.
//
// Core types:
//   - [Event]: one unit of the generation stream
//   - [Message]: one rendered unit of the transcript
//   - [ToolExchange]: a resolved (ToolCall, ToolResponse) pair
//   - [Conversation]: model, system prompt and messages
//   - [APIError]: structured error with type, code, param, and message
//
// The package performs no I/O.
package api
