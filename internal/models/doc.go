// Package models defines the domain types shared by the control-plane client, the progress channel,
// the task state machine and the task history store.
//
// The package contains two categories of types:
//
// 1. Protocol values exchanged with the detection service:
//   - [UploadCredential] : single-use presigned destination for one object
//   - [FileAsset] : the local media file selected for upload
//   - [Task] : a started server-side processing job
//   - [ProgressFrame] : one inbound status update for a task
//
// 2. Client state:
//   - [SessionState] : the aggregate observers render, owned by tasks.Session
//   - [Phase] : the discrete lifecycle state of the current task
//   - [TaskRun] : a persisted record of one session's task, implementing [Model]
package models
