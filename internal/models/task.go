package models

import (
	"encoding/json"
	"math"
	"strings"
)

// UploadCredential is a short-lived authorization to write one object to storage.
//
// Issued once per file and single-use. Expiry is not tracked client-side.
type UploadCredential struct {
	DestinationURL string `json:"url"`
	ContainerID    string `json:"bucket"`
	ObjectKey      string `json:"key"`
}

// FileAsset is a local media file selected for upload.
type FileAsset struct {
	Name     string // Base name sent to the control plane
	Path     string // Local path the transport streams from
	ByteSize int64
	MimeType string
}

// Task is a processing job started by the control plane for an uploaded object.
type Task struct {
	TaskID          string
	ContainerID     string
	ObjectKey       string
	ModuleName      string
	SelectedClasses []string
}

// ClassNames returns the selected classes to send on the wire.
//
// Classes only mean something relative to a module, so none are sent without one.
func (t Task) ClassNames() []string {
	if t.ModuleName == "" {
		return nil
	}
	return t.SelectedClasses
}

// FrameStatus is the server-reported status carried by a [ProgressFrame].
type FrameStatus string

const (
	StatusRunning  FrameStatus = "Running"
	StatusComplete FrameStatus = "Complete"
	StatusFailed   FrameStatus = "Failed"
)

// Normalize maps case variants onto the known statuses; an empty status means Running.
func (s FrameStatus) Normalize() FrameStatus {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "", "running", "processing", "in_progress":
		return StatusRunning
	case "complete", "completed", "done":
		return StatusComplete
	case "failed", "error":
		return StatusFailed
	default:
		return s
	}
}

// ProgressFrame is one progress update pushed by the server for a task.
//
// Frames may be duplicated or reordered across reconnects.
type ProgressFrame struct {
	TaskID     string      `json:"taskId"`
	Percentage int         `json:"progress"`
	Status     FrameStatus `json:"status,omitempty"`
	ReportURL  string      `json:"reportUrl,omitempty"`
	VideoURL   string      `json:"videoUrl,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// UnmarshalJSON accepts any JSON number for progress and rounds it to the nearest whole percentage.
func (f *ProgressFrame) UnmarshalJSON(data []byte) error {
	type wire ProgressFrame
	aux := struct {
		*wire
		Percentage float64 `json:"progress"`
	}{wire: (*wire)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Percentage = int(math.Round(aux.Percentage))
	return nil
}

// IsCompletion reports whether the frame marks its task as finished.
func (f ProgressFrame) IsCompletion() bool {
	return f.Status.Normalize() == StatusComplete && f.Percentage == 100
}

// Phase is the client-side lifecycle state of the current task.
type Phase int

const (
	Idle Phase = iota
	Uploading
	Uploaded
	Starting
	Running
	Completed
	Abandoned
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Uploaded:
		return "uploaded"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	default:
		return ""
	}
}

// ParsePhase is the inverse of [Phase.String]; unknown names map to Idle.
func ParsePhase(s string) Phase {
	for p := Idle; p <= Abandoned; p++ {
		if p.String() == s {
			return p
		}
	}
	return Idle
}

// InFlight reports whether work is underway that an interrupted client could not resume tracking.
func (p Phase) InFlight() bool {
	return p == Uploading || p == Starting || p == Running
}

// Terminal reports whether the phase only leaves via an explicit reset.
func (p Phase) Terminal() bool {
	return p == Completed || p == Abandoned
}

// SessionState is the aggregate observers render. Its zero value is the reset state.
type SessionState struct {
	Phase            Phase
	UploadPercentage int
	TaskPercentage   int
	ReportURL        string
	VideoURL         string

	RunID       string     // History row for the current asset, empty before upload
	Asset       *FileAsset // Selected file, nil until selection
	ContainerID string
	ObjectKey   string
	Task        *Task  // Active or last task, nil before start succeeds
	Warning     string // Non-terminal channel problem, cleared on reconnect
	Err         error  // Last failed operation for the current attempt
}

// TaskID returns the active task identifier, or "".
func (s SessionState) TaskID() string {
	if s.Task == nil {
		return ""
	}
	return s.Task.TaskID
}
