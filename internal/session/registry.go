// Package session holds voice session state and the registry a transport
// uses to track its live sessions.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Handle is the running pipeline behind a session.
type Handle interface {
	Stop()
}

type entry struct {
	session *VoiceSession
	handle  Handle
}

// Registry tracks live sessions for one transport. It is never global: each
// server owns its own.
type Registry struct {
	mu                sync.RWMutex
	entries           map[string]entry
	inactivityTimeout time.Duration
	onExpire          func(*VoiceSession)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		entries:           make(map[string]entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*VoiceSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Add(s *VoiceSession, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = entry{session: s, handle: h}
}

func (r *Registry) Get(sessionID string) (*VoiceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Remove stops the session's pipeline and forgets it. Removing an unknown ID
// is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok && e.handle != nil {
		e.handle.Stop()
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns info for every live session, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopAll stops and removes every session. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]entry)
	r.mu.Unlock()
	for _, e := range entries {
		if e.handle != nil {
			e.handle.Stop()
		}
	}
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []entry

	r.mu.Lock()
	for id, e := range r.entries {
		// A session mid-cycle is active even if the client is silent.
		if e.session.InFlight() || now.Sub(e.session.LastActivity()) < r.inactivityTimeout {
			continue
		}
		expired = append(expired, e)
		delete(r.entries, id)
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, e := range expired {
		if e.handle != nil {
			e.handle.Stop()
		}
		if hook != nil {
			hook(e.session)
		}
	}
}
