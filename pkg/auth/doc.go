// Package auth provides pluggable authentication for the chat API.
//
// Authenticators vote on each request: Yes (identity found), No
// (credentials present but invalid) or Abstain (no credentials they
// understand). A Chain stops at the first Yes or No; when all abstain it
// either admits an anonymous caller or rejects the request.
//
// The middleware stores the identity in the request context and scopes
// storage to the identity's tenant.
package auth
