package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/detectx/internal/formatter"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/services"
	"github.com/desertthunder/detectx/internal/shared"
	"github.com/desertthunder/detectx/internal/tasks"
	tu "github.com/desertthunder/detectx/internal/testing"
)

type fakeBackend struct {
	modules  []string
	classes  []string
	startErr error
	request  services.TaskRequest
}

func (f *fakeBackend) ListModules(ctx context.Context) ([]string, error) { return f.modules, nil }
func (f *fakeBackend) ListClasses(ctx context.Context, module string) ([]string, error) {
	return f.classes, nil
}

func (f *fakeBackend) RequestCredential(ctx context.Context, fileName string) (*models.UploadCredential, error) {
	return &models.UploadCredential{DestinationURL: "https://store.test/put", ContainerID: "b", ObjectKey: "k"}, nil
}

func (f *fakeBackend) StartTask(ctx context.Context, req services.TaskRequest) (string, error) {
	f.request = req
	if f.startErr != nil {
		return "", f.startErr
	}
	return "t1", nil
}

func (f *fakeBackend) Upload(ctx context.Context, cred *models.UploadCredential, asset *models.FileAsset, onProgress services.ProgressFunc) error {
	onProgress(50)
	onProgress(100)
	return nil
}

type harness struct {
	model   *Model
	backend *fakeBackend
	ch      *tu.FakeChannel
	session *tasks.Session
	opened  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		backend: &fakeBackend{modules: []string{"logos", "vehicles"}, classes: []string{"car", "bus", "truck"}},
		ch:      tu.NewFakeChannel(),
	}
	h.session = tasks.NewSession(tasks.Deps{
		Credentials: h.backend,
		Transport:   h.backend,
		Launcher:    h.backend,
		Dial:        h.ch.Dialer(nil),
		Logger:      shared.NewLogger(io.Discard),
	})

	report := &formatter.Report{Headers: []string{"n"}}
	for i := range 45 {
		report.Rows = append(report.Rows, []string{fmt.Sprint(i)})
	}

	h.model = NewModel(context.Background(), h.session, h.backend, Options{
		LoadReport: func(ctx context.Context, url string) (*formatter.Report, error) { return report, nil },
		OpenURL: func(url string) error {
			h.opened = append(h.opened, url)
			return nil
		},
	})
	t.Cleanup(h.model.Close)
	h.model.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return h
}

// send feeds msg to the model and runs any returned command once, feeding back a [Msg] result.
func (h *harness) send(t *testing.T, msg tea.Msg) tea.Msg {
	t.Helper()
	_, cmd := h.model.Update(msg)
	if cmd == nil {
		return nil
	}
	out := cmd()
	if m, ok := out.(Msg); ok {
		h.model.Update(m)
	}
	return out
}

func keyRune(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func (h *harness) selectFile(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	tu.MustWriteFile(t, path, []byte("not really a video"))
	h.model.fileInput.SetValue(path)
	h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
}

func (h *harness) runToCompletion(t *testing.T) {
	t.Helper()
	h.model.Update(modulesFetchedMsg(h.backend.modules, nil))
	h.selectFile(t)
	h.send(t, tea.KeyMsg{Type: tea.KeyEnter}) // "(none)"
	h.send(t, keyRune("y"))
	h.ch.Emit(models.ProgressFrame{TaskID: "t1", Percentage: 100, Status: models.StatusComplete, ReportURL: "https://r.test/report.csv", VideoURL: "https://v.test/out.mp4"})
	h.model.Update(stateChangedMsg(h.session.State()))
}

func TestModel(t *testing.T) {
	t.Run("Modules Fetched", func(t *testing.T) {
		h := newHarness(t)
		h.model.Update(modulesFetchedMsg([]string{"logos", "vehicles"}, nil))

		if got := len(h.model.moduleList.Items()); got != 3 {
			t.Errorf("expected (none) plus 2 modules, got %d", got)
		}
	})

	t.Run("Modules Fetch Failure", func(t *testing.T) {
		h := newHarness(t)
		h.model.Update(modulesFetchedMsg(nil, errors.New("offline")))

		if !strings.Contains(h.model.status, "offline") {
			t.Errorf("expected status to mention failure, got %q", h.model.status)
		}
		if got := len(h.model.moduleList.Items()); got != 1 {
			t.Errorf("expected only (none), got %d", got)
		}
	})

	t.Run("Select File", func(t *testing.T) {
		h := newHarness(t)
		h.selectFile(t)

		if h.model.view != ModuleView {
			t.Errorf("expected ModuleView, got %v", h.model.view)
		}
		if st := h.session.State(); st.Asset == nil || st.Asset.Name != "clip.mp4" {
			t.Errorf("expected asset on session, got %+v", st.Asset)
		}
	})

	t.Run("Select Missing File", func(t *testing.T) {
		h := newHarness(t)
		h.model.fileInput.SetValue(filepath.Join(t.TempDir(), "nope.mp4"))
		h.send(t, tea.KeyMsg{Type: tea.KeyEnter})

		if h.model.view != FileView {
			t.Errorf("expected to stay on FileView, got %v", h.model.view)
		}
		if !errors.Is(h.model.err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", h.model.err)
		}
	})

	t.Run("Module And Classes", func(t *testing.T) {
		h := newHarness(t)
		h.model.Update(modulesFetchedMsg(h.backend.modules, nil))
		h.selectFile(t)

		h.model.moduleList.Select(1)
		h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
		if h.model.view != ClassView || h.model.module != "logos" {
			t.Fatalf("expected ClassView for logos, got %v/%q", h.model.view, h.model.module)
		}
		if got := len(h.model.classList.Items()); got != 3 {
			t.Fatalf("expected 3 classes, got %d", got)
		}

		h.send(t, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
		h.model.classList.Select(2)
		h.send(t, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})

		if got := strings.Join(h.model.selectedClasses(), ","); got != "car,truck" {
			t.Errorf("expected car,truck selected, got %q", got)
		}

		h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
		if h.model.view != ConfirmView {
			t.Errorf("expected ConfirmView, got %v", h.model.view)
		}

		h.send(t, keyRune("y"))
		if h.backend.request.ModuleName != "logos" || len(h.backend.request.SelectedClasses) != 2 {
			t.Errorf("unexpected task request %+v", h.backend.request)
		}
	})

	t.Run("Pipeline To Result", func(t *testing.T) {
		h := newHarness(t)
		h.runToCompletion(t)

		if h.model.view != ResultView {
			t.Fatalf("expected ResultView, got %v", h.model.view)
		}
		if h.model.state.Phase != models.Completed {
			t.Errorf("expected Completed, got %v", h.model.state.Phase)
		}
		if !strings.Contains(h.model.View(), "https://v.test/out.mp4") {
			t.Errorf("expected video URL in view:\n%s", h.model.View())
		}

		h.send(t, keyRune("o"))
		if len(h.opened) != 1 || h.opened[0] != "https://v.test/out.mp4" {
			t.Errorf("expected video opened, got %v", h.opened)
		}
	})

	t.Run("Start Failure Returns To Confirm", func(t *testing.T) {
		h := newHarness(t)
		h.backend.startErr = errors.New("boom")
		h.model.Update(modulesFetchedMsg(h.backend.modules, nil))
		h.selectFile(t)
		h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
		h.send(t, keyRune("y"))

		if h.model.view != ConfirmView || h.model.err == nil {
			t.Fatalf("expected ConfirmView with error, got %v/%v", h.model.view, h.model.err)
		}
		if h.session.State().Phase != models.Uploaded {
			t.Errorf("expected session Uploaded, got %v", h.session.State().Phase)
		}

		h.backend.startErr = nil
		h.send(t, keyRune("y"))
		if h.session.State().Phase != models.Running {
			t.Errorf("expected retry to reach Running, got %v", h.session.State().Phase)
		}
	})

	t.Run("Quit Confirmation While Running", func(t *testing.T) {
		h := newHarness(t)
		h.model.Update(modulesFetchedMsg(h.backend.modules, nil))
		h.selectFile(t)
		h.send(t, tea.KeyMsg{Type: tea.KeyEnter})
		h.send(t, keyRune("y"))

		if out := h.send(t, keyRune("q")); out != nil {
			t.Fatalf("expected no quit while running, got %T", out)
		}
		if !h.model.confirmQuit || !strings.Contains(h.model.View(), "still in progress") {
			t.Fatal("expected quit confirmation")
		}

		h.send(t, keyRune("n"))
		if h.model.confirmQuit || h.session.State().Phase != models.Running {
			t.Error("expected cancel to keep the task running")
		}

		h.send(t, keyRune("q"))
		out := h.send(t, keyRune("y"))
		if _, ok := out.(tea.QuitMsg); !ok {
			t.Errorf("expected QuitMsg, got %T", out)
		}
		if h.session.State().Phase != models.Abandoned {
			t.Errorf("expected Abandoned, got %v", h.session.State().Phase)
		}
		if h.ch.Closes() != 1 {
			t.Errorf("expected channel closed once, got %d", h.ch.Closes())
		}
	})

	t.Run("Quit When Idle", func(t *testing.T) {
		h := newHarness(t)
		out := h.send(t, tea.KeyMsg{Type: tea.KeyCtrlC})
		if _, ok := out.(tea.QuitMsg); !ok {
			t.Errorf("expected QuitMsg, got %T", out)
		}
	})

	t.Run("Report Paging", func(t *testing.T) {
		h := newHarness(t)
		h.runToCompletion(t)

		h.send(t, keyRune("p"))
		if h.model.view != ReportView || h.model.report == nil {
			t.Fatalf("expected loaded report view, got %v", h.model.view)
		}
		if !strings.Contains(h.model.View(), "Page 1 of 3") {
			t.Errorf("expected first page:\n%s", h.model.View())
		}

		for range 5 {
			h.send(t, keyRune("l"))
		}
		if h.model.page != 2 {
			t.Errorf("expected page clamped to 2, got %d", h.model.page)
		}

		h.send(t, keyRune("s"))
		if h.model.pageSize != 30 || h.model.page != 0 {
			t.Errorf("expected page size 30 on first page, got %d/%d", h.model.pageSize, h.model.page)
		}

		h.send(t, tea.KeyMsg{Type: tea.KeyEsc})
		if h.model.view != ResultView {
			t.Errorf("expected ResultView, got %v", h.model.view)
		}
	})

	t.Run("Restart", func(t *testing.T) {
		h := newHarness(t)
		h.runToCompletion(t)

		h.send(t, keyRune("r"))
		if h.model.view != FileView {
			t.Errorf("expected FileView, got %v", h.model.view)
		}
		if st := h.session.State(); st.Phase != models.Idle || st.Asset != nil {
			t.Errorf("expected reset session, got %+v", st)
		}
	})
}
