// Package registry keeps the live games visible to the current viewer in memory,
// applies the viewer's commands optimistically and reconciles with the gateway.
//
// Local edits are applied at once and persisted in the background, one write at a
// time in issue order. A failed write is reported and not rolled back. Snapshots
// from the feed or a refresh replace the local entry for that game wholesale.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/identity"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/notify"
	"github.com/park285/scorekeeper/internal/observe"
)

var ErrClosed = errors.New("registry closed")

const DefaultPollInterval = 30 * time.Second

// View is one game as the current viewer sees it.
type View struct {
	Game           livegame.LiveGame
	Role           access.Role
	Permissions    access.Permissions
	Labels         access.Labels
	PendingBreaker bool
}

// Snapshot is the ordered board delivered to change listeners.
type Snapshot struct {
	Viewer string
	Games  []View
}

type writeJob struct {
	run  func(ctx context.Context)
	done chan struct{}
}

type Registry struct {
	gw       gateway.Gateway
	ident    *identity.Provider
	notifier notify.Notifier
	log      *zap.Logger
	poll     time.Duration
	allowed  []livegame.GameKind
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	writes chan writeJob
	wg     sync.WaitGroup

	// sendMu is held for reading across every send on writes. Close takes it
	// for writing before closing stopCh, so the writer's final drain sees every
	// accepted job.
	sendMu sync.RWMutex
	// beforeSend runs after enqueue has accepted a job and before the send.
	beforeSend func()

	// switchMu serialises identity transitions.
	switchMu sync.Mutex

	mu       sync.Mutex
	started  bool
	closed   bool
	viewer   string
	gen      uint64
	games    map[string]livegame.LiveGame
	pending  map[string]bool
	unsub    func()
	identSub int
	visible  bool
	pollStop chan struct{}

	changes observe.Emitter[Snapshot]
}

type Option func(*Registry)

func WithNotifier(n notify.Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.poll = d
		}
	}
}

func WithAllowedKinds(kinds []livegame.GameKind) Option {
	return func(r *Registry) { r.allowed = kinds }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(gw gateway.Gateway, ident *identity.Provider, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		gw:       gw,
		ident:    ident,
		notifier: notify.Nop,
		log:      zap.NewNop(),
		poll:     DefaultPollInterval,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		writes:   make(chan writeJob, 64),
		games:    make(map[string]livegame.LiveGame),
		pending:  make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start runs the background writer, follows identity changes and loads the games
// of the viewer signed in right now.
func (r *Registry) Start() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.wg.Add(1)
	go r.writer()
	if r.ident != nil {
		r.identSub = r.ident.Subscribe(r.onIdentity)
	}
	r.mu.Unlock()

	if r.ident != nil {
		r.switchTo(r.ident.Current())
	}
	return nil
}

// Close stops polling, drops the feed subscription and waits for queued writes.
// It is safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.pollStop != nil {
		close(r.pollStop)
		r.pollStop = nil
	}
	unsub := r.unsub
	r.unsub = nil
	r.gen++
	r.mu.Unlock()

	if r.ident != nil {
		r.ident.Unsubscribe(r.identSub)
	}
	if unsub != nil {
		unsub()
	}
	r.sendMu.Lock()
	close(r.stopCh)
	r.sendMu.Unlock()
	r.wg.Wait()
	r.cancel()
}

// OnChange registers fn to receive the board after every change.
func (r *Registry) OnChange(fn func(Snapshot)) int { return r.changes.Subscribe(fn) }

func (r *Registry) RemoveListener(id int) { r.changes.Unsubscribe(id) }

func (r *Registry) Viewer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewer
}

func (r *Registry) onIdentity(ev identity.Event) {
	switch ev.Kind {
	case identity.SignedIn:
		if ev.Profile != nil {
			r.switchTo(ev.Profile.UserID)
		}
	case identity.SignedOut:
		r.switchTo("")
	case identity.ProfileLoaded:
		r.emit()
	}
}

// switchTo tears down everything held for the previous viewer and, for a non-empty
// viewer, subscribes to their feed and loads their games.
func (r *Registry) switchTo(viewer string) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	if r.closed || (viewer == r.viewer && (viewer == "" || r.unsub != nil)) {
		r.mu.Unlock()
		return
	}
	old := r.unsub
	r.unsub = nil
	r.viewer = viewer
	r.gen++
	gen := r.gen
	r.games = make(map[string]livegame.LiveGame)
	r.pending = make(map[string]bool)
	r.mu.Unlock()

	if old != nil {
		old()
	}
	r.emit()
	if viewer == "" {
		r.log.Info("registry_detach")
		return
	}

	unsub, err := r.gw.SubscribeToLiveGameChanges(r.ctx, viewer, func(ev feed.Event) { r.applyEvent(gen, ev) })
	if err != nil {
		r.log.Warn("registry_subscribe_error", zap.String("viewer_id", viewer), zap.Error(err))
	} else {
		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			unsub()
			return
		}
		r.unsub = unsub
		r.mu.Unlock()
	}
	r.log.Info("registry_attach", zap.String("viewer_id", viewer), zap.Bool("subscribed", err == nil))
	_ = r.Refresh(r.ctx)
}

// Refresh waits for queued writes, then replaces the board with the gateway's list.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	viewer, gen := r.viewer, r.gen
	r.mu.Unlock()
	if viewer == "" {
		return nil
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	list, err := r.gw.ListLiveGames(ctx, viewer)
	if err != nil {
		r.log.Warn("registry_load_error", zap.String("viewer_id", viewer), zap.Error(err))
		r.notifier.Notify(notify.Notice{Outcome: notify.LoadFailed})
		return err
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return nil
	}
	next := make(map[string]livegame.LiveGame, len(list))
	for _, g := range list {
		next[g.ID] = g.Clone()
	}
	for id := range r.pending {
		if _, ok := next[id]; !ok {
			delete(r.pending, id)
		}
	}
	r.games = next
	r.mu.Unlock()
	r.emit()
	return nil
}

// FocusRegained reconciles after the view comes back to the foreground.
func (r *Registry) FocusRegained(ctx context.Context) error { return r.Refresh(ctx) }

// NetworkReconnected reconciles after connectivity returns.
func (r *Registry) NetworkReconnected(ctx context.Context) error { return r.Refresh(ctx) }

// SetVisible starts polling while the board is visible and stops it otherwise.
func (r *Registry) SetVisible(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.started || r.visible == visible {
		return
	}
	r.visible = visible
	if !visible {
		close(r.pollStop)
		r.pollStop = nil
		return
	}
	stop := make(chan struct{})
	r.pollStop = stop
	r.wg.Add(1)
	go r.pollLoop(stop)
}

func (r *Registry) pollLoop(stop <-chan struct{}) {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-r.stopCh:
			return
		case <-t.C:
			_ = r.Refresh(r.ctx)
		}
	}
}

func (r *Registry) applyEvent(gen uint64, ev feed.Event) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	viewer := r.viewer
	switch ev.Type {
	case feed.Insert, feed.Update:
		if ev.Game == nil {
			r.mu.Unlock()
			return
		}
		r.games[ev.GameID] = ev.Game.Clone()
	case feed.Delete:
		delete(r.games, ev.GameID)
		delete(r.pending, ev.GameID)
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if ev.Type == feed.Insert && ev.Invite && ev.Game != nil {
		labels := access.SideLabels(*ev.Game, viewer)
		r.notifier.Notify(notify.Notice{
			Outcome: notify.InviteReceived,
			GameID:  ev.GameID,
			Data:    map[string]any{"Creator": labels.Side1, "Kind": ev.Game.Kind.Label()},
		})
	}
	r.emit()
}

// Games returns the board: games the viewer plays in first, then spectated ones,
// each group by start time.
func (r *Registry) Games() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewsLocked()
}

func (r *Registry) Game(id string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return View{}, false
	}
	return r.viewLocked(g), true
}

// PendingBreakerChoice reports whether the game waits for a manual breaker pick.
func (r *Registry) PendingBreakerChoice(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[id]
}

func (r *Registry) viewsLocked() []View {
	out := make([]View, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, r.viewLocked(g))
	}
	Sort(out)
	return out
}

func (r *Registry) viewLocked(g livegame.LiveGame) View {
	role := access.Classify(g, r.viewer)
	return View{
		Game:           g.Clone(),
		Role:           role,
		Permissions:    access.For(role),
		Labels:         access.SideLabels(g, r.viewer),
		PendingBreaker: r.pending[g.ID],
	}
}

// Sort orders views: participating before spectating, then StartedAt, then ID.
func Sort(views []View) {
	sort.SliceStable(views, func(i, j int) bool {
		pi, pj := views[i].Role != access.Spectator, views[j].Role != access.Spectator
		if pi != pj {
			return pi
		}
		a, b := views[i].Game, views[j].Game
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
}

func (r *Registry) emit() {
	r.mu.Lock()
	snap := Snapshot{Viewer: r.viewer, Games: r.viewsLocked()}
	r.mu.Unlock()
	r.changes.Emit(snap)
}

func (r *Registry) writer() {
	defer r.wg.Done()
	for {
		select {
		case j := <-r.writes:
			r.runJob(j)
		case <-r.stopCh:
			for {
				select {
				case j := <-r.writes:
					r.runJob(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) runJob(j writeJob) {
	if j.run != nil {
		j.run(r.ctx)
	}
	if j.done != nil {
		close(j.done)
	}
}

// enqueue hands j to the writer. A true result means j will run, even if Close
// starts while the send is in flight.
func (r *Registry) enqueue(j writeJob) bool {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	r.mu.Lock()
	ok := r.started && !r.closed
	r.mu.Unlock()
	if !ok {
		return false
	}
	if r.beforeSend != nil {
		r.beforeSend()
	}
	r.writes <- j
	return true
}

// Flush returns once every write queued before the call has been attempted.
func (r *Registry) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !r.enqueue(writeJob{done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
