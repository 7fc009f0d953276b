package testing

import (
	"context"
	"sync"

	"github.com/desertthunder/detectx/internal/channel"
	"github.com/desertthunder/detectx/internal/models"
)

// FakeChannel is an in-memory [channel.Channel]. Emit delivers frames synchronously on the caller goroutine.
type FakeChannel struct {
	mu            sync.Mutex
	onFrame       func(models.ProgressFrame)
	onConnect     func()
	onDisconnect  func(error)
	Announcements []channel.Announcement
	AnnounceErr   error
	closes        int
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{}
}

// Dialer returns a DialFunc that always yields f and counts dials.
func (f *FakeChannel) Dialer(dials *int) channel.DialFunc {
	return func(ctx context.Context) (channel.Channel, error) {
		if dials != nil {
			*dials++
		}
		return f, nil
	}
}

func (f *FakeChannel) Announce(ctx context.Context, a channel.Announcement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Announcements = append(f.Announcements, a)
	return f.AnnounceErr
}

func (f *FakeChannel) OnFrame(fn func(models.ProgressFrame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = fn
}

func (f *FakeChannel) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

func (f *FakeChannel) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

// Close counts calls; unlike a real channel it keeps delivering so tests can prove the receiver filters.
func (f *FakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// Closes returns how many times Close was called.
func (f *FakeChannel) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *FakeChannel) Emit(frame models.ProgressFrame) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (f *FakeChannel) Disconnect(err error) {
	f.mu.Lock()
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (f *FakeChannel) Reconnect() {
	f.mu.Lock()
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}
