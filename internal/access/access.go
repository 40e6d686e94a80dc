package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/livegame"
)

// Role is how a viewer relates to a live game.
type Role string

const (
	Creator   Role = "creator"
	Opponent  Role = "opponent"
	Spectator Role = "spectator"
)

// Action is a command a viewer may issue on a live game.
type Action string

const (
	MutateScore    Action = "mutate_score"
	ChangeSettings Action = "change_settings"
	Cancel         Action = "cancel"
	Complete       Action = "complete"
)

var ErrForbidden = errors.New("forbidden")

// ForbiddenError is returned by Authorize. It matches ErrForbidden with errors.Is.
type ForbiddenError struct {
	GameID string
	Role   Role
	Action Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s may not %s game %s", e.Role, strings.ReplaceAll(string(e.Action), "_", " "), e.GameID)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// Permissions is the derived capability set of a role.
type Permissions struct {
	MutateScore    bool
	ChangeSettings bool
	Cancel         bool
	Complete       bool
}

var permissionTable = map[Role]Permissions{
	Creator:   {MutateScore: true, ChangeSettings: true, Cancel: true, Complete: true},
	Opponent:  {MutateScore: true, ChangeSettings: true},
	Spectator: {},
}

func For(role Role) Permissions { return permissionTable[role] }

func (p Permissions) Allows(a Action) bool {
	switch a {
	case MutateScore:
		return p.MutateScore
	case ChangeSettings:
		return p.ChangeSettings
	case Cancel:
		return p.Cancel
	case Complete:
		return p.Complete
	}
	return false
}

// Classify derives the viewer's role. An empty viewer is always a spectator.
func Classify(g livegame.LiveGame, viewerID string) Role {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return Spectator
	}
	if viewerID == g.CreatorID {
		return Creator
	}
	if id := g.Opponent.UserID(); id != "" && id == viewerID {
		return Opponent
	}
	return Spectator
}

// Authorize returns a *ForbiddenError when the viewer may not perform a.
func Authorize(g livegame.LiveGame, viewerID string, a Action) error {
	role := Classify(g, viewerID)
	if For(role).Allows(a) {
		return nil
	}
	return &ForbiddenError{GameID: g.ID, Role: role, Action: a}
}

// Participates reports whether the viewer plays in the game.
func Participates(g livegame.LiveGame, viewerID string) bool {
	return Classify(g, viewerID) != Spectator
}

// SideOf returns the viewer's own side, if any.
func SideOf(g livegame.LiveGame, viewerID string) (breakrule.Side, bool) {
	switch Classify(g, viewerID) {
	case Creator:
		return breakrule.Side1, true
	case Opponent:
		return breakrule.Side2, true
	}
	return breakrule.SideNone, false
}

const selfLabel = "You"

// Labels are the display names of both sides from one viewer's perspective.
type Labels struct {
	Side1 string
	Side2 string
}

func (l Labels) Of(side breakrule.Side) string {
	if side == breakrule.Side2 {
		return l.Side2
	}
	return l.Side1
}

// SideLabels renders the viewer's own side as "You" and the other by stored name.
func SideLabels(g livegame.LiveGame, viewerID string) Labels {
	l := Labels{Side1: nameOr(g.CreatorName, g.CreatorID), Side2: nameOr(g.Opponent.Name, g.Opponent.ID)}
	if own, ok := SideOf(g, viewerID); ok {
		if own == breakrule.Side1 {
			l.Side1 = selfLabel
		} else {
			l.Side2 = selfLabel
		}
	}
	return l
}

func nameOr(name, fallback string) string {
	if n := livegame.NormalizeName(name); n != "" {
		return n
	}
	if f := strings.TrimSpace(fallback); f != "" {
		return f
	}
	return "Opponent"
}
