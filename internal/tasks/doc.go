// Package tasks owns the lifecycle of a detection task on the client.
//
// # Phases
//
// A [Session] moves through the phases defined in models:
//
//	Idle → Uploading → Uploaded → Starting → Running → Completed
//	                                              ↘ Abandoned
//
//  1. [Session.SelectFile] : stores the asset and resets everything else
//  2. [Session.Upload] : credential request then upload; failure returns to Idle
//  3. [Session.Start] : dials the progress channel, starts the task and announces it; failure returns to Uploaded
//  4. progress frames : applied while Running, filtered by task id, never regressing
//  5. [Session.Reset] / [Session.Abandon] : close the channel and leave the lifecycle
//
// Start is refused with [shared.ErrTaskActive] while a task is uploading, starting, running or
// displayed as completed; a reset is required first.
//
// # Progress Frames
//
// Frames are discarded when they belong to another task, arrive outside Running, report a lower
// percentage than already seen, or repeat the current percentage without new URLs. A Complete
// frame at 100 moves to Completed and closes the channel once. A Failed frame moves to Abandoned.
//
// # Observers
//
// [Session.Subscribe] delivers snapshots with select and default so a slow reader never blocks frame
// processing. [Session.Wait] blocks until a terminal phase. An optional [Recorder] persists snapshots;
// its errors are logged only.
//
// # Guard
//
// [Guard] asks before abandoning in-flight work and tears the channel down on exit. For CLI use
// [Guard.WatchSignals] warns on the first interrupt and abandons on the second.
package tasks
