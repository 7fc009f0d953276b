package tasks

import (
	"context"
	"os"
)

// Guard protects in-flight work from accidental interruption and guarantees channel teardown
// when the client terminates. A [Session] works without one.
type Guard struct {
	session *Session
}

func NewGuard(s *Session) *Guard {
	return &Guard{session: s}
}

// InFlight reports whether an upload or task is underway.
func (g *Guard) InFlight() bool {
	return g.session.State().Phase.InFlight()
}

// ConfirmLeave decides whether the user may leave.
//
// Outside in-flight phases it returns true without asking. Otherwise confirm is asked and, when it
// agrees, the session is abandoned before returning true.
func (g *Guard) ConfirmLeave(confirm func() bool) bool {
	if !g.InFlight() {
		return true
	}
	if confirm == nil || !confirm() {
		return false
	}
	g.session.Abandon()
	return true
}

// Release tears down the session's channel on termination, abandoning in-flight work.
func (g *Guard) Release() {
	if g.session.Abandon() {
		return
	}

	s := g.session
	s.mu.Lock()
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()
	s.closeChannel(ch)
}

// WatchSignals turns process interrupts into leave decisions for CLI use.
//
// An interrupt outside in-flight phases returns true at once. While work is in flight the first
// interrupt calls warn and the second abandons the session and returns true. Returns false when
// ctx ends first.
func (g *Guard) WatchSignals(ctx context.Context, sig <-chan os.Signal, warn func()) bool {
	warned := false
	for {
		select {
		case <-ctx.Done():
			return false
		case <-sig:
			if !g.InFlight() {
				return true
			}
			if !warned {
				warned = true
				if warn != nil {
					warn()
				}
				continue
			}
			g.session.Abandon()
			return true
		}
	}
}
