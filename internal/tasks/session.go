package tasks

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/detectx/internal/channel"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/services"
	"github.com/desertthunder/detectx/internal/shared"
)

const subscriberBuffer = 16

// snapshot is a committed state paired with its sequence number.
type snapshot struct {
	models.SessionState
	seq uint64
}

// Recorder persists session snapshots. Failures are logged and never affect the session.
type Recorder interface {
	Record(ctx context.Context, state models.SessionState) error
}

// Deps holds the collaborators a [Session] drives.
type Deps struct {
	Credentials services.CredentialClient
	Transport   services.Transport
	Launcher    services.TaskLauncher
	Dial        channel.DialFunc
	Recorder    Recorder // optional
	Logger      *log.Logger
}

// Session is the task state machine. It is the only component that mutates [models.SessionState]
// and the only holder of the channel handle, which exists exactly while the phase is Starting or Running.
//
// Network calls run on the caller's goroutine without holding the lock. Channel frames are applied
// on the channel's reader goroutine. The lock is never held while closing the channel.
type Session struct {
	deps   Deps
	logger *log.Logger

	mu      sync.Mutex
	state   models.SessionState
	gen     uint64 // bumped by every reset; results from older generations are discarded
	seq     uint64 // bumped by every committed change
	ch      channel.Channel
	subs    map[int]chan models.SessionState
	nextSub int

	recMu   sync.Mutex
	lastRec uint64
}

// NewSession creates a session in the Idle phase.
func NewSession(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = shared.NewLogger(nil)
	}
	return &Session{
		deps:   deps,
		logger: shared.WithLogger(deps.Logger, "component", "session"),
		subs:   make(map[int]chan models.SessionState),
	}
}

// State returns the current snapshot.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel of snapshots and a function that ends the subscription.
//
// Delivery never blocks the session: a slow subscriber loses its oldest pending snapshot.
// The current snapshot is delivered immediately.
func (s *Session) Subscribe() (<-chan models.SessionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	sub := make(chan models.SessionState, subscriberBuffer)
	s.subs[id] = sub
	sub <- s.state

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(sub)
		})
	}
}

// SelectFile resets the session and stores asset as the current file.
//
// Not allowed while an upload or task is in flight.
func (s *Session) SelectFile(asset *models.FileAsset) error {
	if asset == nil {
		return shared.NewPreconditionError("select file", "no file")
	}

	s.mu.Lock()
	if s.state.Phase.InFlight() {
		s.mu.Unlock()
		return fmt.Errorf("select file: %w", shared.ErrTaskActive)
	}
	s.gen++
	ch := s.ch
	s.ch = nil
	s.state = models.SessionState{Asset: asset}
	s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
	s.logger.Debug("file selected", "file", asset.Name, "bytes", asset.ByteSize, "mime", asset.MimeType)
	return nil
}

// UseObject resets the session into the Uploaded phase for an object stored by an earlier upload,
// so a task can be started without re-sending the file.
func (s *Session) UseObject(containerID, objectKey string) error {
	if containerID == "" || objectKey == "" {
		return shared.NewPreconditionError("use object", "bucket and key are required")
	}

	s.mu.Lock()
	if s.state.Phase.InFlight() {
		s.mu.Unlock()
		return fmt.Errorf("use object: %w", shared.ErrTaskActive)
	}
	s.gen++
	ch := s.ch
	s.ch = nil
	s.state = models.SessionState{
		Phase:            models.Uploaded,
		UploadPercentage: 100,
		RunID:            shared.GenerateID(),
		Asset:            &models.FileAsset{Name: path.Base(objectKey)},
		ContainerID:      containerID,
		ObjectKey:        objectKey,
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
	s.record(context.Background(), snap)
	return nil
}

// Upload requests a credential for the selected file and streams it to storage.
//
// On success the phase becomes Uploaded. On failure it returns to Idle with the error recorded and
// the file kept, so the upload can be retried.
func (s *Session) Upload(ctx context.Context) error {
	const op = "upload"

	s.mu.Lock()
	switch {
	case s.state.Phase.InFlight():
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, shared.ErrTaskActive)
	case s.state.Asset == nil:
		s.mu.Unlock()
		return shared.NewPreconditionError(op, "no file selected")
	case s.state.Phase != models.Idle:
		s.mu.Unlock()
		return shared.NewPreconditionError(op, fmt.Sprintf("session is %s; select a file or reset first", s.state.Phase))
	}

	asset := s.state.Asset
	gen := s.gen
	s.state.Phase = models.Uploading
	s.state.UploadPercentage = 0
	s.state.Err = nil
	if s.state.RunID == "" {
		s.state.RunID = shared.GenerateID()
	}
	snap := s.commitLocked()
	s.mu.Unlock()
	s.record(ctx, snap)

	cred, err := s.deps.Credentials.RequestCredential(ctx, asset.Name)
	if err != nil {
		return s.uploadFailed(ctx, gen, err)
	}

	err = s.deps.Transport.Upload(ctx, cred, asset, func(pct int) { s.uploadProgress(gen, pct) })
	if err != nil {
		return s.uploadFailed(ctx, gen, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, shared.ErrSuperseded)
	}
	s.state.Phase = models.Uploaded
	s.state.UploadPercentage = 100
	s.state.ContainerID = cred.ContainerID
	s.state.ObjectKey = cred.ObjectKey
	snap = s.commitLocked()
	s.mu.Unlock()

	s.record(ctx, snap)
	s.logger.Info("asset uploaded", "file", asset.Name, "bucket", cred.ContainerID, "key", cred.ObjectKey)
	return nil
}

func (s *Session) uploadProgress(gen uint64, pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state.Phase != models.Uploading {
		return
	}
	pct = min(max(pct, 0), 100)
	if pct <= s.state.UploadPercentage {
		return
	}
	s.state.UploadPercentage = pct
	s.commitLocked()
}

func (s *Session) uploadFailed(ctx context.Context, gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return fmt.Errorf("upload: %w", shared.ErrSuperseded)
	}
	s.state.Phase = models.Idle
	s.state.Err = err
	snap := s.commitLocked()
	s.mu.Unlock()

	s.record(ctx, snap)
	s.logger.Warn("upload failed", "error", err)
	return err
}

// Start starts processing of the uploaded object and subscribes to its progress.
//
// Only valid in the Uploaded phase. The channel is dialed on first use. A rejected start closes the
// channel and returns the session to Uploaded so the start can be retried.
func (s *Session) Start(ctx context.Context, module string, classes []string) (string, error) {
	const op = "start task"

	s.mu.Lock()
	switch s.state.Phase {
	case models.Uploading, models.Starting, models.Running, models.Completed:
		phase := s.state.Phase
		s.mu.Unlock()
		return "", fmt.Errorf("%s while %s: %w", op, phase, shared.ErrTaskActive)
	case models.Uploaded:
	default:
		s.mu.Unlock()
		return "", shared.NewPreconditionError(op, "no uploaded object")
	}
	if s.state.ContainerID == "" || s.state.ObjectKey == "" {
		s.mu.Unlock()
		return "", shared.NewPreconditionError(op, "no uploaded object")
	}

	req := services.TaskRequest{
		ContainerID:     s.state.ContainerID,
		ObjectKey:       s.state.ObjectKey,
		ModuleName:      module,
		SelectedClasses: classes,
	}
	gen := s.gen
	s.state.Phase = models.Starting
	s.state.TaskPercentage = 0
	s.state.Err = nil
	s.state.Warning = ""
	ch := s.ch
	snap := s.commitLocked()
	s.mu.Unlock()
	s.record(ctx, snap)

	if ch == nil {
		opened, err := s.deps.Dial(ctx)
		if err != nil {
			return "", s.startFailed(ctx, gen, nil, err)
		}
		s.bind(opened)

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			s.closeChannel(opened)
			return "", fmt.Errorf("%s: %w", op, shared.ErrSuperseded)
		}
		s.ch = opened
		ch = opened
		s.mu.Unlock()
	}

	taskID, err := s.deps.Launcher.StartTask(ctx, req)
	if err != nil {
		return "", s.startFailed(ctx, gen, ch, err)
	}

	task := req.Task(taskID)
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", op, shared.ErrSuperseded)
	}
	s.state.Task = task
	s.state.Phase = models.Running
	snap = s.commitLocked()
	s.mu.Unlock()
	s.record(ctx, snap)

	logger := shared.WithLogger(s.logger, "task_id", taskID)
	logger.Info("task running", "module", module, "classes", len(task.SelectedClasses))

	if err := ch.Announce(ctx, channel.AnnouncementFor(task)); err != nil {
		logger.Warn("announce failed; will replay on reconnect", "error", err)
		s.warn(ch, err)
	}
	return taskID, nil
}

// startFailed reverts Starting to Uploaded and tears down ch.
func (s *Session) startFailed(ctx context.Context, gen uint64, ch channel.Channel, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return fmt.Errorf("start task: %w", shared.ErrSuperseded)
	}
	if s.ch == ch {
		s.ch = nil
	}
	s.state.Phase = models.Uploaded
	s.state.Err = err
	snap := s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
	s.record(ctx, snap)
	s.logger.Warn("start task failed", "error", err)
	return err
}

// bind registers the session's handlers on ch. Events from a channel the session no longer holds are ignored.
func (s *Session) bind(ch channel.Channel) {
	ch.OnFrame(func(f models.ProgressFrame) { s.applyFrame(ch, f) })
	ch.OnDisconnect(func(err error) { s.warn(ch, err) })
	ch.OnConnect(func() { s.warn(ch, nil) })
}

func (s *Session) warn(ch channel.Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != ch {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if s.state.Warning == msg {
		return
	}
	s.state.Warning = msg
	s.commitLocked()
}

// applyFrame reconciles one inbound frame. See [models.ProgressFrame] for the wire shape.
func (s *Session) applyFrame(ch channel.Channel, f models.ProgressFrame) {
	s.mu.Lock()
	if s.ch != ch || s.state.Phase != models.Running || f.TaskID != s.state.TaskID() {
		s.mu.Unlock()
		s.logger.Debug("discarding frame", "task_id", f.TaskID, "progress", f.Percentage)
		return
	}

	if f.Status.Normalize() == models.StatusFailed {
		s.mergeURLsLocked(f)
		s.state.Phase = models.Abandoned
		detail := f.Message
		if detail == "" {
			detail = "no detail"
		}
		s.state.Err = fmt.Errorf("%w: %s", shared.ErrTaskFailed, detail)
		s.ch = nil
		snap := s.commitLocked()
		s.mu.Unlock()

		s.closeChannel(ch)
		s.record(context.Background(), snap)
		s.logger.Error("task failed", "task_id", f.TaskID, "detail", detail)
		return
	}

	pct := min(max(f.Percentage, 0), 100)
	completion := f.IsCompletion()
	newURL := (f.ReportURL != "" && f.ReportURL != s.state.ReportURL) ||
		(f.VideoURL != "" && f.VideoURL != s.state.VideoURL)

	if pct < s.state.TaskPercentage || (pct == s.state.TaskPercentage && !newURL && !completion) {
		s.mu.Unlock()
		return
	}

	s.state.TaskPercentage = pct
	s.mergeURLsLocked(f)
	if !completion {
		snap := s.commitLocked()
		s.mu.Unlock()
		s.record(context.Background(), snap)
		return
	}

	s.state.Phase = models.Completed
	s.ch = nil
	snap := s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
	s.record(context.Background(), snap)
	s.logger.Info("task complete", "task_id", f.TaskID, "report", snap.ReportURL, "video", snap.VideoURL)
}

func (s *Session) mergeURLsLocked(f models.ProgressFrame) {
	if f.ReportURL != "" {
		s.state.ReportURL = f.ReportURL
	}
	if f.VideoURL != "" {
		s.state.VideoURL = f.VideoURL
	}
}

// Abandon stops tracking in-flight work and closes the channel. Returns false when nothing was in flight.
//
// Server-side work is not cancelled.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	if !s.state.Phase.InFlight() {
		s.mu.Unlock()
		return false
	}
	s.gen++
	ch := s.ch
	s.ch = nil
	s.state.Phase = models.Abandoned
	s.state.Err = shared.ErrAbandoned
	snap := s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
	s.record(context.Background(), snap)
	s.logger.Warn("task abandoned", "task_id", snap.TaskID())
	return true
}

// Reset returns the session to the zero state from any phase, closing the channel if open.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	ch := s.ch
	s.ch = nil
	s.state = models.SessionState{}
	s.commitLocked()
	s.mu.Unlock()

	s.closeChannel(ch)
}

// Wait blocks until the session reaches Completed or Abandoned, or ctx ends.
func (s *Session) Wait(ctx context.Context) (models.SessionState, error) {
	updates, cancel := s.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return s.State(), ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return s.State(), shared.ErrSuperseded
			}
			switch {
			case st.Phase == models.Completed:
				return st, nil
			case st.Phase == models.Abandoned && st.Err != nil:
				return st, st.Err
			case st.Phase == models.Abandoned:
				return st, shared.ErrAbandoned
			case st.Phase == models.Idle && st.Asset == nil:
				return st, shared.ErrSuperseded
			case !st.Phase.InFlight() && st.Err != nil:
				return st, st.Err
			}
		}
	}
}

// commitLocked publishes the current state to subscribers and returns it. Caller holds s.mu.
func (s *Session) commitLocked() snapshot {
	s.seq++
	snap := s.state
	for _, sub := range s.subs {
		select {
		case sub <- snap:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- snap:
			default:
			}
		}
	}
	return snapshot{SessionState: snap, seq: s.seq}
}

// record persists snap unless a newer snapshot has already been written.
func (s *Session) record(ctx context.Context, snap snapshot) {
	if s.deps.Recorder == nil || snap.RunID == "" {
		return
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()
	if snap.seq <= s.lastRec {
		return
	}
	s.lastRec = snap.seq

	if err := s.deps.Recorder.Record(context.WithoutCancel(ctx), snap.SessionState); err != nil {
		s.logger.Warn("failed to record task history", "run_id", snap.RunID, "error", err)
	}
}

func (s *Session) closeChannel(ch channel.Channel) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		s.logger.Debug("channel close", "error", err)
	}
}
