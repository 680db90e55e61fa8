// Package storage defines the conversation store and the pieces shared by
// its adapters: sentinel errors, tenant scoping and metrics.
//
// A conversation is stored as a header (model, system prompt) plus an
// append-only message log. Messages are appended only after their
// exchange's stream has been finalized, one atomic append per exchange,
// and loading replays the log verbatim, so a reloaded conversation is
// identical to the transcript that was live when it was saved.
//
// Adapters: memory, sqlite (default), postgres, bolt. The storagetest
// package holds the conformance suite every adapter runs.
package storage
