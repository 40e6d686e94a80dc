package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/notify"
)

// SaveAllReport summarises a SaveAll run.
type SaveAllReport struct {
	Attempted int
	Succeeded int
	Failed    []string
}

// lookup returns the game and viewer under the lock, checking permission for a.
// Denials are reported before anything reaches the gateway.
func (r *Registry) lookup(id string, a access.Action) (livegame.LiveGame, string, error) {
	g, viewer, outcome, err := r.lookupLocked(id, a)
	if outcome != "" {
		r.notifier.Notify(notify.Notice{Outcome: outcome, GameID: id})
	}
	return g, viewer, err
}

func (r *Registry) lookupLocked(id string, a access.Action) (livegame.LiveGame, string, notify.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return livegame.LiveGame{}, "", "", ErrClosed
	}
	if r.viewer == "" {
		return livegame.LiveGame{}, "", "", gateway.ErrUnauthorized
	}
	g, ok := r.games[id]
	if !ok {
		return livegame.LiveGame{}, "", notify.GameMissing, fmt.Errorf("%w: %s", gateway.ErrNotFound, id)
	}
	if err := access.Authorize(g, r.viewer, a); err != nil {
		return livegame.LiveGame{}, "", deniedOutcome(a), err
	}
	return g.Clone(), r.viewer, "", nil
}

func deniedOutcome(a access.Action) notify.Outcome {
	switch a {
	case access.Cancel, access.Complete:
		return notify.NotCreator
	default:
		return notify.NotParticipant
	}
}

// store replaces the local copy of g if the viewer has not changed since lookup.
func (r *Registry) store(viewer string, g livegame.LiveGame, pending *bool) bool {
	r.mu.Lock()
	if r.viewer != viewer {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.games[g.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	g.UpdatedAt = r.now()
	r.games[g.ID] = g
	if pending != nil {
		if *pending {
			r.pending[g.ID] = true
		} else {
			delete(r.pending, g.ID)
		}
	}
	r.mu.Unlock()
	r.emit()
	return true
}

// ApplyScoreDelta adds or removes one point for side. The board changes at once;
// the write happens in the background.
func (r *Registry) ApplyScoreDelta(id string, side breakrule.Side, delta livegame.Delta) (livegame.ScoreChange, error) {
	g, viewer, err := r.lookup(id, access.MutateScore)
	if err != nil {
		return livegame.ScoreChange{}, err
	}
	change, err := g.ApplyScoreDelta(side, delta)
	if err != nil {
		return livegame.ScoreChange{}, err
	}
	if !change.Changed {
		return change, nil
	}

	next := g.Apply(change)
	var pending *bool
	switch {
	case change.BreakerIndeterminate:
		v := true
		pending = &v
	case change.Pool != nil && change.Pool.CurrentBreaker != nil:
		v := false
		pending = &v
	}
	if !r.store(viewer, next, pending) {
		return change, nil
	}
	if change.BreakerIndeterminate {
		labels := access.SideLabels(next, viewer)
		r.notifier.Notify(notify.Notice{
			Outcome: notify.BreakerChoiceRequired,
			GameID:  id,
			Data:    map[string]any{"Game": labels.Side1 + " vs " + labels.Side2},
		})
	}
	r.persist(viewer, id, next.Score, change.Pool)
	return change, nil
}

// ChangeBreakRule switches the break rule of a pool game.
func (r *Registry) ChangeBreakRule(id string, rule breakrule.Rule) error {
	g, viewer, err := r.lookup(id, access.ChangeSettings)
	if err != nil {
		return err
	}
	patch, err := g.ChangeBreakRule(rule)
	if err != nil {
		return err
	}
	var pending *bool
	if patch.CurrentBreaker != nil {
		v := false
		pending = &v
	}
	if r.store(viewer, g.ApplyPool(&patch), pending) {
		r.persist(viewer, id, g.Score, &patch)
	}
	return nil
}

// ChangeBreakerSide marks side as the next breaker. It also answers a pending
// breaker prompt.
func (r *Registry) ChangeBreakerSide(id string, side breakrule.Side) error {
	g, viewer, err := r.lookup(id, access.ChangeSettings)
	if err != nil {
		return err
	}
	patch, err := g.ChangeBreakerSide(side)
	if err != nil {
		return err
	}
	resolved := false
	if r.store(viewer, g.ApplyPool(&patch), &resolved) {
		r.persist(viewer, id, g.Score, &patch)
	}
	return nil
}

func (r *Registry) persist(viewer, id string, score livegame.Score, patch *livegame.PoolPatch) {
	ok := r.enqueue(writeJob{run: func(ctx context.Context) {
		if _, err := r.gw.UpdateLiveGameScore(ctx, viewer, id, score, patch); err != nil {
			r.log.Warn("registry_sync_error",
				zap.String("game_id", id),
				zap.Int("score_a", score.A),
				zap.Int("score_b", score.B),
				zap.Error(err),
			)
			r.notifier.Notify(notify.Notice{Outcome: notify.SyncFailed, GameID: id})
		}
	}})
	if !ok {
		r.notifier.Notify(notify.Notice{Outcome: notify.SyncFailed, GameID: id})
	}
}

// Create validates req locally, then starts the game through the gateway.
func (r *Registry) Create(ctx context.Context, req livegame.CreateRequest) (livegame.LiveGame, error) {
	r.mu.Lock()
	viewer, closed := r.viewer, r.closed
	r.mu.Unlock()
	if closed {
		return livegame.LiveGame{}, ErrClosed
	}
	if viewer == "" {
		return livegame.LiveGame{}, gateway.ErrUnauthorized
	}
	req.CreatorID = viewer
	if req.CreatorName == "" && r.ident != nil {
		if p, ok := r.ident.Profile(); ok && p.UserID == viewer {
			req.CreatorName = p.DisplayName
		}
	}
	if err := req.Validate(r.allowed); err != nil {
		r.notifyValidation(err)
		return livegame.LiveGame{}, err
	}

	g, err := r.gw.CreateLiveGame(ctx, viewer, req)
	if err != nil {
		var ve *livegame.ValidationError
		if errors.As(err, &ve) {
			r.notifyValidation(err)
		} else {
			r.notifier.Notify(notify.Notice{Outcome: notify.SyncFailed})
		}
		return livegame.LiveGame{}, err
	}

	r.mu.Lock()
	if r.viewer == viewer {
		r.games[g.ID] = g.Clone()
	}
	r.mu.Unlock()
	r.emit()

	labels := access.SideLabels(g, viewer)
	r.notifier.Notify(notify.Notice{
		Outcome: notify.GameStarted,
		GameID:  g.ID,
		Data:    map[string]any{"Kind": g.Kind.Label(), "Opponent": labels.Side2},
	})
	return g, nil
}

func (r *Registry) notifyValidation(err error) {
	reason := "check the game details"
	var ve *livegame.ValidationError
	if errors.As(err, &ve) {
		reason = ve.Reason
	}
	r.notifier.Notify(notify.Notice{Outcome: notify.ValidationFailed, Data: map[string]any{"Reason": reason}})
}

// Watch adds a game the viewer does not play in to the board.
func (r *Registry) Watch(ctx context.Context, id string) (livegame.LiveGame, error) {
	viewer := r.Viewer()
	if viewer == "" {
		return livegame.LiveGame{}, gateway.ErrUnauthorized
	}
	g, err := r.gw.WatchLiveGame(ctx, viewer, id)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			r.notifier.Notify(notify.Notice{Outcome: notify.GameMissing, GameID: id})
		}
		return livegame.LiveGame{}, err
	}
	r.mu.Lock()
	if r.viewer == viewer {
		r.games[g.ID] = g.Clone()
	}
	r.mu.Unlock()
	r.emit()
	return g, nil
}

// Unwatch drops a spectated game from the board.
func (r *Registry) Unwatch(ctx context.Context, id string) error {
	viewer := r.Viewer()
	if viewer == "" {
		return gateway.ErrUnauthorized
	}
	r.mu.Lock()
	g, ok := r.games[id]
	r.mu.Unlock()
	if ok && access.Participates(g, viewer) {
		r.notifier.Notify(notify.Notice{Outcome: notify.NotParticipant, GameID: id})
		return fmt.Errorf("%w: participants cannot stop watching their own game", access.ErrForbidden)
	}
	if err := r.gw.UnwatchLiveGame(ctx, viewer, id); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		r.notifyRemote(id, err, notify.SyncFailed)
		return err
	}
	r.forget(viewer, id)
	return nil
}

// Cancel discards a live game without saving it. Only its creator may do so.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	_, viewer, err := r.lookup(id, access.Cancel)
	if err != nil {
		return err
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	if err := r.gw.DeleteLiveGame(ctx, viewer, id); err != nil {
		r.notifyRemote(id, err, notify.SyncFailed)
		return err
	}
	r.forget(viewer, id)
	r.notifier.Notify(notify.Notice{Outcome: notify.GameCancelled, GameID: id})
	return nil
}

// Save completes a game into a permanent score. Only its creator may do so.
func (r *Registry) Save(ctx context.Context, id string) (gateway.Completion, error) {
	comp, err := r.save(ctx, id)
	if err == nil {
		r.notifier.Notify(notify.Notice{Outcome: notify.GameSaved, GameID: id})
	}
	return comp, err
}

func (r *Registry) save(ctx context.Context, id string) (gateway.Completion, error) {
	_, viewer, err := r.lookup(id, access.Complete)
	if err != nil {
		return gateway.Completion{}, err
	}
	// the completion reads the stored score, so queued writes go first
	if err := r.Flush(ctx); err != nil {
		return gateway.Completion{}, err
	}
	comp, err := r.gw.CompleteLiveGame(ctx, viewer, id)
	if err != nil {
		var ce *gateway.CompletionError
		if errors.As(err, &ce) {
			r.log.Warn("registry_save_partial",
				zap.String("game_id", id),
				zap.String("step", string(ce.Step)),
				zap.Int64("score_id", ce.ScoreID),
			)
			r.notifier.Notify(notify.Notice{
				Outcome: notify.SavePartial,
				GameID:  id,
				Data:    map[string]any{"Saved": ce.Saved(), "Step": string(ce.Step)},
			})
			return gateway.Completion{}, err
		}
		r.notifyRemote(id, err, notify.SyncFailed)
		return gateway.Completion{}, err
	}
	r.forget(viewer, id)
	return comp, nil
}

func (r *Registry) notifyRemote(id string, err error, fallback notify.Outcome) {
	switch {
	case errors.Is(err, access.ErrForbidden):
		r.notifier.Notify(notify.Notice{Outcome: notify.NotCreator, GameID: id})
	case errors.Is(err, gateway.ErrNotFound):
		r.notifier.Notify(notify.Notice{Outcome: notify.GameMissing, GameID: id})
	default:
		r.notifier.Notify(notify.Notice{Outcome: fallback, GameID: id})
	}
}

func (r *Registry) forget(viewer, id string) {
	r.mu.Lock()
	if r.viewer == viewer {
		delete(r.games, id)
		delete(r.pending, id)
	}
	r.mu.Unlock()
	r.emit()
}

// SaveAll saves every game the viewer created. A failure does not stop the run;
// the returned error combines all failures.
func (r *Registry) SaveAll(ctx context.Context) (SaveAllReport, error) {
	r.mu.Lock()
	viewer := r.viewer
	var ids []string
	for _, v := range r.viewsLocked() {
		if v.Role == access.Creator {
			ids = append(ids, v.Game.ID)
		}
	}
	r.mu.Unlock()
	if viewer == "" {
		return SaveAllReport{}, gateway.ErrUnauthorized
	}

	var report SaveAllReport
	var errs error
	for _, id := range ids {
		report.Attempted++
		if _, err := r.save(ctx, id); err != nil {
			report.Failed = append(report.Failed, id)
			errs = multierr.Append(errs, fmt.Errorf("save %s: %w", id, err))
			continue
		}
		report.Succeeded++
	}
	sort.Strings(report.Failed)
	r.log.Info("registry_save_all",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
	)
	r.notifier.Notify(notify.Notice{
		Outcome: notify.SaveAllDone,
		Data:    map[string]any{"Succeeded": report.Succeeded, "Attempted": report.Attempted},
	})
	return report, errs
}
