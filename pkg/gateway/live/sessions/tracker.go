// Package sessions is the process-wide registry of live relays, used for the
// session listing, drain notices and shutdown.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Info is the externally visible view of one live session.
type Info struct {
	ConnectionID string    `json:"connection_id"`
	Identity     string    `json:"identity"`
	Language     string    `json:"language"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
}

type Handle struct {
	Cancel func()
	Notify func(message string) error

	// Info is static per registration except for State, which is read
	// through StateFn when set.
	Info    Info
	StateFn func() string
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

func (t *Tracker) Register(connectionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	if h.Info.ConnectionID == "" {
		h.Info.ConnectionID = connectionID
	}
	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[connectionID]
	t.sessions[connectionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(connectionID, old)
	}

	return func() { t.unregister(connectionID, entry) }
}

func (t *Tracker) unregister(connectionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[connectionID] == entry {
			delete(t.sessions, connectionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// List returns the registered sessions, oldest first.
func (t *Tracker) List() []Info {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	handles := make([]Handle, 0, len(t.sessions))
	for _, entry := range t.sessions {
		if entry != nil {
			handles = append(handles, entry.handle)
		}
	}
	t.mu.Unlock()

	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		info := h.Info
		if h.StateFn != nil {
			info.State = h.StateFn()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// NotifyAll sends message to every session that accepts notices. Delivery is
// best effort; sent counts attempts.
func (t *Tracker) NotifyAll(message string) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
