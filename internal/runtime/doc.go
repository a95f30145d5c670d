// Package runtime implements the session state machine: one Apply per action,
// producing the next Session and a user-facing reply.
package runtime
