// Package store persists the hub's call journal and provider lifecycle
// events in SQLite.
//
// # Data Models
//
//   - CallRecord: one tool execution, successful or not, with the facade it
//     came through, the error kind on failure and its duration
//   - ServerEvent: one provider state transition (starting, running, dead)
//   - ToolStats: per-tool aggregates computed from the call journal
//
// SQLiteStore is the production implementation (modernc.org/sqlite, WAL
// mode). MockStore keeps the same data in memory for tests.
//
// The journal is observational. Nothing in the hub reads it back to make
// routing decisions, so a store failure is logged and never fails a call.
package store
