// package channel implements the push channel that streams task progress from the detection service
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

const (
	EventTask     = "task"
	EventProgress = "progress"
)

// Channel is a persistent, server-push subscription to task progress.
//
// Handlers run on the channel's reader goroutine, one frame at a time in arrival order.
// Register handlers before announcing a task.
type Channel interface {
	// Announce tells the server which task to stream. The last announcement is replayed after a reconnect.
	Announce(ctx context.Context, a Announcement) error
	OnFrame(fn func(models.ProgressFrame))
	OnConnect(fn func())
	OnDisconnect(fn func(error))
	// Close tears the channel down. It is idempotent; after it returns no new frame delivery begins.
	Close() error
}

// DialFunc opens a [Channel].
type DialFunc func(ctx context.Context) (Channel, error)

// Announcement is the payload of the outbound task event.
type Announcement struct {
	TaskID     string   `json:"taskId"`
	Bucket     string   `json:"bucket"`
	Key        string   `json:"key"`
	ModuleName string   `json:"moduleName,omitempty"`
	ClassNames []string `json:"classNames,omitempty"`
}

// AnnouncementFor builds the announcement for task.
func AnnouncementFor(task *models.Task) Announcement {
	return Announcement{
		TaskID:     task.TaskID,
		Bucket:     task.ContainerID,
		Key:        task.ObjectKey,
		ModuleName: task.ModuleName,
		ClassNames: task.ClassNames(),
	}
}

// envelope wraps every message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encode(event string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

// Options configures a websocket [Conn].
type Options struct {
	URL                 string
	Header              http.Header
	ReconnectInitial    time.Duration
	ReconnectMaxElapsed time.Duration
	HandshakeTimeout    time.Duration
	Logger              *log.Logger
}

// OptionsFromConfig builds [Options] from the channel config. A non-empty token is sent as a bearer header.
func OptionsFromConfig(cfg shared.ChannelConfig, token string, logger *log.Logger) Options {
	opts := Options{
		URL:                 cfg.URL,
		ReconnectInitial:    time.Duration(cfg.ReconnectInitialMillis) * time.Millisecond,
		ReconnectMaxElapsed: time.Duration(cfg.ReconnectMaxElapsedSeconds) * time.Second,
		Logger:              logger,
	}
	if token != "" {
		opts.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = 500 * time.Millisecond
	}
	if o.ReconnectMaxElapsed <= 0 {
		o.ReconnectMaxElapsed = 2 * time.Minute
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = shared.NewLogger(nil)
	}
	return o
}

// Dialer returns a [DialFunc] that opens websocket channels with opts.
func Dialer(opts Options) DialFunc {
	return func(ctx context.Context) (Channel, error) {
		c, err := Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
