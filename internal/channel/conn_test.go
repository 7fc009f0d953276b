package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handle for each accepted websocket connection, passing the connection index.
func wsServer(t *testing.T, handle func(n int, ws *websocket.Conn)) *httptest.Server {
	t.Helper()

	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(int(count.Add(1)), ws)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testOptions(server *httptest.Server) Options {
	return Options{
		URL:                 wsURL(server),
		ReconnectInitial:    10 * time.Millisecond,
		ReconnectMaxElapsed: 500 * time.Millisecond,
		Logger:              shared.NewLogger(io.Discard),
	}
}

func readAnnouncement(t *testing.T, ws *websocket.Conn) Announcement {
	t.Helper()

	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Errorf("failed to read announcement: %v", err)
		return Announcement{}
	}
	if env.Event != EventTask {
		t.Errorf("expected task event, got %q", env.Event)
	}
	var a Announcement
	json.Unmarshal(env.Data, &a)
	return a
}

func sendFrame(ws *websocket.Conn, event string, frame models.ProgressFrame) error {
	msg, err := encode(event, frame)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, msg)
}

type frameSink struct {
	mu     sync.Mutex
	frames []models.ProgressFrame
	got    chan struct{}
}

func newFrameSink() *frameSink {
	return &frameSink{got: make(chan struct{}, 64)}
}

func (s *frameSink) add(f models.ProgressFrame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *frameSink) wait(t *testing.T, n int) []models.ProgressFrame {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i+1)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProgressFrame(nil), s.frames...)
}

func TestConn(t *testing.T) {
	t.Run("Announce And Receive Frames In Order", func(t *testing.T) {
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			a := readAnnouncement(t, ws)
			if a.TaskID != "t1" || a.Bucket != "b" || a.Key != "k" || a.ModuleName != "logos" {
				t.Errorf("unexpected announcement %+v", a)
			}

			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 10})
			sendFrame(ws, "heartbeat", models.ProgressFrame{})
			ws.WriteMessage(websocket.TextMessage, []byte("not json"))
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 60, Status: models.StatusRunning})
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 100, Status: models.StatusComplete, ReportURL: "https://r.test/report.csv"})
			ws.ReadMessage()
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer c.Close()

		sink := newFrameSink()
		c.OnFrame(sink.add)

		task := &models.Task{TaskID: "t1", ContainerID: "b", ObjectKey: "k", ModuleName: "logos", SelectedClasses: []string{"car"}}
		if err := c.Announce(context.Background(), AnnouncementFor(task)); err != nil {
			t.Fatalf("failed to announce: %v", err)
		}

		frames := sink.wait(t, 3)
		want := []int{10, 60, 100}
		for i, f := range frames {
			if f.Percentage != want[i] {
				t.Errorf("frame %d percentage = %d, want %d", i, f.Percentage, want[i])
			}
		}
		if frames[2].ReportURL != "https://r.test/report.csv" || !frames[2].IsCompletion() {
			t.Errorf("unexpected final frame %+v", frames[2])
		}
	})

	t.Run("Fractional Progress Is Rounded", func(t *testing.T) {
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			readAnnouncement(t, ws)
			ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"progress","data":{"taskId":"t1","progress":42.5,"status":"Running"}}`))
			ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"progress","data":{"taskId":"t1","progress":100.0,"status":"Complete","videoUrl":"https://v.test/out.mp4"}}`))
			ws.ReadMessage()
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer c.Close()

		sink := newFrameSink()
		c.OnFrame(sink.add)

		if err := c.Announce(context.Background(), AnnouncementFor(&models.Task{TaskID: "t1", ContainerID: "b", ObjectKey: "k"})); err != nil {
			t.Fatalf("failed to announce: %v", err)
		}

		frames := sink.wait(t, 2)
		if frames[0].Percentage != 43 {
			t.Errorf("expected 42.5 to round to 43, got %d", frames[0].Percentage)
		}
		if !frames[1].IsCompletion() || frames[1].VideoURL != "https://v.test/out.mp4" {
			t.Errorf("expected completion frame, got %+v", frames[1])
		}
	})

	t.Run("Reconnects And Replays Announcement", func(t *testing.T) {
		replayed := make(chan Announcement, 1)
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			a := readAnnouncement(t, ws)
			if n == 1 {
				return
			}
			replayed <- a
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: a.TaskID, Percentage: 50})
			ws.ReadMessage()
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer c.Close()

		var disconnects, connects atomic.Int32
		sink := newFrameSink()
		c.OnFrame(sink.add)
		c.OnDisconnect(func(err error) {
			if !errors.Is(err, shared.ErrChannel) {
				t.Errorf("expected ErrChannel, got %v", err)
			}
			disconnects.Add(1)
		})
		c.OnConnect(func() { connects.Add(1) })

		if err := c.Announce(context.Background(), Announcement{TaskID: "t9", Bucket: "b", Key: "k"}); err != nil {
			t.Fatalf("failed to announce: %v", err)
		}

		select {
		case a := <-replayed:
			if a.TaskID != "t9" {
				t.Errorf("expected replay of t9, got %+v", a)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("announcement was not replayed")
		}

		frames := sink.wait(t, 1)
		if frames[0].Percentage != 50 {
			t.Errorf("unexpected frame %+v", frames[0])
		}
		if disconnects.Load() != 1 || connects.Load() != 1 {
			t.Errorf("expected one disconnect and one connect, got %d/%d", disconnects.Load(), connects.Load())
		}
	})

	t.Run("Closes Broken Socket Before Reconnecting", func(t *testing.T) {
		released := make(chan error, 1)
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			if n > 1 {
				ws.ReadMessage()
				return
			}
			readAnnouncement(t, ws)
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second))
			ws.ReadMessage()

			raw := ws.UnderlyingConn()
			raw.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err := raw.Read(make([]byte, 1))
			released <- err
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer c.Close()

		if err := c.Announce(context.Background(), Announcement{TaskID: "t1", Bucket: "b", Key: "k"}); err != nil {
			t.Fatalf("failed to announce: %v", err)
		}

		select {
		case err := <-released:
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Error("expected the client to close the broken socket")
			}
		case <-time.After(5 * time.Second):
			t.Fatal("server never observed the first connection ending")
		}
	})

	t.Run("Gives Up After Max Elapsed", func(t *testing.T) {
		var accepted atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accepted.Add(1) > 1 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			ws.ReadMessage()
			ws.Close()
		}))
		defer server.Close()

		opts := testOptions(server)
		opts.ReconnectMaxElapsed = 100 * time.Millisecond
		c, err := Dial(context.Background(), opts)
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer c.Close()

		errs := make(chan error, 4)
		c.OnDisconnect(func(err error) { errs <- err })
		c.Announce(context.Background(), Announcement{TaskID: "t1"})

		deadline := time.After(3 * time.Second)
		var got []error
		for len(got) < 2 {
			select {
			case err := <-errs:
				got = append(got, err)
			case <-deadline:
				t.Fatalf("expected two disconnect notifications, got %v", got)
			}
		}
		if !strings.Contains(got[1].Error(), "reconnect abandoned") {
			t.Errorf("expected final give-up error, got %v", got[1])
		}
	})

	t.Run("Close Is Idempotent And Stops Delivery", func(t *testing.T) {
		release := make(chan struct{})
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			readAnnouncement(t, ws)
			<-release
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 10})
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}

		var delivered, disconnects atomic.Int32
		c.OnFrame(func(models.ProgressFrame) { delivered.Add(1) })
		c.OnDisconnect(func(error) { disconnects.Add(1) })
		c.Announce(context.Background(), Announcement{TaskID: "t1"})

		if err := c.Close(); err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
		close(release)

		time.Sleep(100 * time.Millisecond)
		if delivered.Load() != 0 {
			t.Errorf("expected no frames after close, got %d", delivered.Load())
		}
		if disconnects.Load() != 0 {
			t.Errorf("expected no disconnect notification after close, got %d", disconnects.Load())
		}
		if err := c.Announce(context.Background(), Announcement{TaskID: "t2"}); !errors.Is(err, shared.ErrChannel) {
			t.Errorf("expected ErrChannel announcing on closed channel, got %v", err)
		}
	})

	t.Run("Close From Handler", func(t *testing.T) {
		server := wsServer(t, func(n int, ws *websocket.Conn) {
			readAnnouncement(t, ws)
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 100, Status: models.StatusComplete})
			sendFrame(ws, EventProgress, models.ProgressFrame{TaskID: "t1", Percentage: 100, Status: models.StatusComplete})
			ws.ReadMessage()
		})

		c, err := Dial(context.Background(), testOptions(server))
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}

		var delivered atomic.Int32
		done := make(chan struct{})
		c.OnFrame(func(models.ProgressFrame) {
			if delivered.Add(1) == 1 {
				c.Close()
				close(done)
			}
		})
		c.Announce(context.Background(), Announcement{TaskID: "t1"})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not run")
		}
		time.Sleep(50 * time.Millisecond)
		if delivered.Load() != 1 {
			t.Errorf("expected exactly one delivery, got %d", delivered.Load())
		}
	})

	t.Run("Dial Failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := Dial(context.Background(), testOptions(server))
		if !errors.Is(err, shared.ErrChannel) {
			t.Errorf("expected ErrChannel, got %v", err)
		}
	})
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := shared.ChannelConfig{URL: "ws://x.test/ws", ReconnectInitialMillis: 250, ReconnectMaxElapsedSeconds: 30}
	opts := OptionsFromConfig(cfg, "tok", nil)

	if opts.ReconnectInitial != 250*time.Millisecond || opts.ReconnectMaxElapsed != 30*time.Second {
		t.Errorf("unexpected durations %+v", opts)
	}
	if opts.Header.Get("Authorization") != "Bearer tok" {
		t.Errorf("expected bearer header, got %v", opts.Header)
	}
	if OptionsFromConfig(cfg, "", nil).Header != nil {
		t.Error("expected no header without token")
	}
}
