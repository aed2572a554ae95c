// Package version computes state version numbers for sessions and entities.
//
// The ledger is pure: no I/O, no clock. The contract is that each function
// is called exactly once per logical mutation at its level, however many
// attributes that mutation touched. One user-visible operation produces one
// increment per affected level, never more, never fewer.
package version

// NextSessionVersion returns the session version after one mutation.
func NextSessionVersion(current int64) int64 { return current + 1 }

// NextEntityVersion returns the entity version after one mutation.
func NextEntityVersion(current int64) int64 { return current + 1 }
