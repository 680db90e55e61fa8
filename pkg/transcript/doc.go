// Package transcript folds a generation event stream into an ordered list
// of conversation messages.
//
// A Builder consumes events strictly in arrival order from a single
// producer. Free text accumulates into the open assistant message; tool
// calls are held until their results arrive and are then rendered as
// standalone tool-exchange messages; failures become error messages.
// Persisted transcripts are never replayed through a Builder: stored
// messages are already final.
package transcript
