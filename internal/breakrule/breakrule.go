package breakrule

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"strings"
)

// Side identifies one of the two score-bearing participants of a game.
type Side string

const (
	SideNone Side = ""
	Side1    Side = "side1"
	Side2    Side = "side2"
)

func (s Side) Valid() bool { return s == Side1 || s == Side2 }

// ParseSide accepts the stored enum value and a few operator shorthands.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "side1", "1", "a":
		return Side1, nil
	case "side2", "2", "b":
		return Side2, nil
	case "", "none":
		return SideNone, nil
	default:
		return SideNone, fmt.Errorf("unknown side %q", s)
	}
}

// Rule is the break-rule policy of a pool game.
type Rule string

const (
	Alternate   Rule = "alternate"
	WinnerStays Rule = "winner_stays"
)

func (r Rule) Valid() bool { return r == Alternate || r == WinnerStays }

func ParseRule(s string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alternate", "alt":
		return Alternate, nil
	case "winner_stays", "winnerstays", "winner":
		return WinnerStays, nil
	default:
		return "", fmt.Errorf("unknown break rule %q", s)
	}
}

// FirstBreakerChoice is the creation-time configuration of who breaks the first rack.
type FirstBreakerChoice string

const (
	ChooseSide1  FirstBreakerChoice = "side1"
	ChooseSide2  FirstBreakerChoice = "side2"
	ChooseRandom FirstBreakerChoice = "random"
)

// ParseFirstBreakerChoice falls back to random for anything it does not recognise.
func ParseFirstBreakerChoice(s string) FirstBreakerChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "side1", "1", "a", "me":
		return ChooseSide1
	case "side2", "2", "b", "opponent":
		return ChooseSide2
	default:
		return ChooseRandom
	}
}

// Coin reports heads with probability 1/2.
type Coin func() bool

var entropy io.Reader = rand.Reader

// CryptoCoin flips using crypto/rand, falling back to math/rand/v2 if the
// system source fails so the flip stays fair.
func CryptoCoin() bool {
	n, err := rand.Int(entropy, big.NewInt(2))
	if err != nil {
		return mrand.IntN(2) == 0
	}
	return n.Int64() == 0
}

// ResolveFirstBreaker turns a configuration choice into a concrete side.
// Random is decided here once and must not be recomputed later.
func ResolveFirstBreaker(choice FirstBreakerChoice, coin Coin) Side {
	switch choice {
	case ChooseSide1:
		return Side1
	case ChooseSide2:
		return Side2
	}
	if coin == nil {
		coin = CryptoCoin
	}
	if coin() {
		return Side1
	}
	return Side2
}

// Opposite returns the other side. SideNone maps to itself.
func Opposite(s Side) Side {
	switch s {
	case Side1:
		return Side2
	case Side2:
		return Side1
	default:
		return SideNone
	}
}

// AlternateBreakerForRackCount is the only derivation of the Alternate-mode breaker:
// first breaks every even-numbered rack, the other side every odd one.
func AlternateBreakerForRackCount(first Side, completedRacks int) Side {
	if completedRacks < 0 {
		completedRacks = 0
	}
	if completedRacks%2 == 0 {
		return first
	}
	return Opposite(first)
}

// AfterWin returns the breaker of the next rack once winner took the rack that
// brought the total to completedRacks.
func AfterWin(rule Rule, first, winner Side, completedRacks int) Side {
	if rule == WinnerStays {
		return winner
	}
	return AlternateBreakerForRackCount(first, completedRacks)
}

// AfterUndo returns the breaker after a rack was taken back. The second result is
// false when the breaker cannot be derived and an operator has to pick it.
func AfterUndo(rule Rule, first Side, completedRacks int) (Side, bool) {
	if rule == WinnerStays {
		return SideNone, false
	}
	return AlternateBreakerForRackCount(first, completedRacks), true
}
