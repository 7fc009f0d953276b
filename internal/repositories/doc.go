// Package repositories implements SQLite persistence for task history.
//
// Key Implementations:
//   - [TaskRunRepository] : one row per asset submitted through a session, keyed by the session's run id
//   - [HistoryRecorder] : adapts the repository to the session's recorder hook
//
// Rows are never deleted automatically. The CLI lists them newest first so a completed task's
// report and video URLs stay reachable after the session ends.
package repositories
