// Package internal holds helpers private to gatekeep, currently refresh token
// id generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: pure orchestrators for login, refresh rotation and logout
//   - rate: sliding-window admission over memory or Redis backends
//
// # What this package must NOT do
//
//   - Export types that appear in the public gatekeep API.
package internal
