// Package notify names the user-visible outcomes of live game commands and turns
// them into catalog messages.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/msgcat"
)

type Outcome string

const (
	GameStarted           Outcome = "game_started"
	InviteReceived        Outcome = "invite_received"
	SyncFailed            Outcome = "sync_failed"
	NotCreator            Outcome = "not_creator"
	NotParticipant        Outcome = "not_participant"
	GameSaved             Outcome = "game_saved"
	SaveAllDone           Outcome = "save_all_done"
	SavePartial           Outcome = "save_partial"
	GameCancelled         Outcome = "game_cancelled"
	ValidationFailed      Outcome = "validation_failed"
	BreakerChoiceRequired Outcome = "breaker_choice_required"
	LoadFailed            Outcome = "load_failed"
	GameMissing           Outcome = "game_missing"
)

// Notice is one outcome together with the values its message needs.
type Notice struct {
	Outcome Outcome
	GameID  string
	Data    map[string]any
}

type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Nop drops every notice.
var Nop Notifier = Func(func(Notice) {})

// Sink receives the rendered text of a notice.
type Sink func(n Notice, text string)

// CatalogNotifier renders notices through the message catalog.
type CatalogNotifier struct {
	cat    *msgcat.Catalog
	sink   Sink
	logger *zap.Logger
}

func NewCatalogNotifier(cat *msgcat.Catalog, sink Sink, logger *zap.Logger) *CatalogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogNotifier{cat: cat, sink: sink, logger: logger}
}

func (c *CatalogNotifier) Notify(n Notice) {
	text := Render(c.cat, n)
	c.logger.Debug("notify", zap.String("outcome", string(n.Outcome)), zap.String("game_id", n.GameID))
	if c.sink != nil {
		c.sink(n, text)
	}
}

// Render returns the message for n, or the outcome name when the catalog has no
// usable template. Raw error strings never reach the text.
func Render(cat *msgcat.Catalog, n Notice) string {
	if cat == nil {
		return string(n.Outcome)
	}
	data := make(map[string]any, len(n.Data))
	for k, v := range n.Data {
		data[k] = v
	}
	if step, ok := data["Step"].(string); ok {
		if s, err := cat.Render("step."+step, nil); err == nil {
			data["Step"] = s
		}
	}
	text, err := cat.Render("notify."+string(n.Outcome), data)
	if err != nil {
		return string(n.Outcome)
	}
	return text
}

// Recorder keeps every notice; safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *Recorder) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.notices {
		if v.Outcome == o {
			n++
		}
	}
	return n
}

// Last returns the most recent notice with outcome o.
func (r *Recorder) Last(o Outcome) (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notices) - 1; i >= 0; i-- {
		if r.notices[i].Outcome == o {
			return r.notices[i], true
		}
	}
	return Notice{}, false
}
