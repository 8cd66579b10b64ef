// Package stores provides the build and launch ledger. It is backed by
// SQLite in WAL mode with embedded migrations and records every build,
// its steps, the installed packages and staged files of successful
// builds, and every launch with its exit code.
//
// Ledger adapts a Store to the engine and launch observer interfaces so
// the history is written as builds and launches happen.
package stores
