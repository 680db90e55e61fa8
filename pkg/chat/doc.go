// Package chat owns the active conversation of each tenant. A Manager
// runs exchanges through the event source, folds them into transcript
// messages, persists the result and notifies subscribers.
//
// At most one exchange runs per conversation. A second Send while one is
// in flight fails with api.ErrStreamInProgress; Abort cancels the running
// exchange, which ends with the stopped marker instead of an error.
package chat
