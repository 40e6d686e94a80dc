package identity

import (
	"strings"
	"sync"

	"github.com/park285/scorekeeper/internal/observe"
)

type EventKind string

const (
	SignedIn      EventKind = "signed_in"
	SignedOut     EventKind = "signed_out"
	ProfileLoaded EventKind = "profile_loaded"
)

// Profile is what the scorekeeper knows about the current viewer.
type Profile struct {
	UserID      string
	DisplayName string
}

// Event carries the snapshot that was current when it was emitted.
type Event struct {
	Kind    EventKind
	Profile *Profile
}

// Provider holds the current viewer. Listeners are called synchronously, in
// subscription order.
type Provider struct {
	mu      sync.RWMutex
	current *Profile
	events  observe.Emitter[Event]
}

func NewProvider() *Provider { return &Provider{} }

// Current returns the viewer id, or "" when nobody is signed in.
func (p *Provider) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return ""
	}
	return p.current.UserID
}

func (p *Provider) Profile() (Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return Profile{}, false
	}
	return *p.current, true
}

func (p *Provider) Subscribe(fn func(Event)) int { return p.events.Subscribe(fn) }

func (p *Provider) Unsubscribe(id int) { p.events.Unsubscribe(id) }

// SignIn switches to userID. Signing in as the current user is a no-op.
func (p *Provider) SignIn(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		p.SignOut()
		return
	}
	p.mu.Lock()
	if p.current != nil && p.current.UserID == userID {
		p.mu.Unlock()
		return
	}
	p.current = &Profile{UserID: userID}
	snap := *p.current
	p.mu.Unlock()
	p.events.Emit(Event{Kind: SignedIn, Profile: &snap})
}

// SignOut clears the viewer. Does nothing when already signed out.
func (p *Provider) SignOut() {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.mu.Unlock()
	p.events.Emit(Event{Kind: SignedOut})
}

// LoadProfile attaches a display name to the signed-in viewer.
func (p *Provider) LoadProfile(displayName string) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return
	}
	p.current.DisplayName = strings.TrimSpace(displayName)
	snap := *p.current
	p.mu.Unlock()
	p.events.Emit(Event{Kind: ProfileLoaded, Profile: &snap})
}
