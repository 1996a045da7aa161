// Package storage persists events, Telegram channel mappings and chat
// sessions.
//
// Drivers:
//   - "sqlite": SQLite database file (pure Go driver, schema embedded)
//   - "file": JSON snapshot plus append-only journal, no database needed
//   - "memory": process-local maps, lost on exit
package storage
