package automation

import (
	"time"

	"github.com/nerrad567/mergebot/internal/infrastructure/config"
	"github.com/nerrad567/mergebot/internal/screen"
)

// Battle modes selectable from the main screen.
const (
	ModePVP  = "pvp"
	ModeCoop = "coop"
)

// Policy is the static configuration the Rules consult.
type Policy struct {
	Mode string

	// LoseQuota is the number of battles to lose before playing to win.
	LoseQuota int

	// After SurrenderAfterWins consecutive wins, surrender the next
	// SurrenderCount battles. 0 disables.
	SurrenderAfterWins int
	SurrenderCount     int

	LoadingDelay   time.Duration
	StuckTimeout   time.Duration
	UnknownTimeout time.Duration

	// DoubleMergeRound runs two scan+merge passes on that round. 0 disables.
	DoubleMergeRound int

	// RoundActions maps a round to the battle region tapped once in it.
	RoundActions map[int]string
}

// PolicyFromConfig extracts the policy from the automation config.
func PolicyFromConfig(cfg config.AutomationConfig) Policy {
	return Policy{
		Mode:               cfg.Mode,
		LoseQuota:          cfg.LoseQuota,
		SurrenderAfterWins: cfg.SurrenderAfterWins,
		SurrenderCount:     cfg.SurrenderCount,
		LoadingDelay:       cfg.LoadingDelay,
		StuckTimeout:       cfg.StuckTimeout,
		UnknownTimeout:     cfg.UnknownTimeout,
		DoubleMergeRound:   cfg.DoubleMergeRound,
		RoundActions:       cfg.RoundActions,
	}
}

// Counters are the session-wide win/lose bookkeeping. They survive battles
// and are cleared only by an explicit reset or a process restart.
type Counters struct {
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`
	Surrenders int `json:"surrenders"`
	Streak     int `json:"streak"`

	// LoseQuota counts down the battles still to be lost.
	LoseQuota int `json:"lose_quota"`

	// SurrendersDue counts down the scheduled post-streak surrenders.
	SurrendersDue int `json:"surrenders_due"`

	Restarts int `json:"restarts"`
}

// BattleState is scoped to one battle and cleared when it ends.
type BattleState struct {
	Active    bool      `json:"active"`
	Mode      string    `json:"mode,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	// Round never decreases within a battle.
	Round int `json:"round"`

	// CastRound is the last round whose round action was issued.
	CastRound int `json:"-"`

	// LoseArmed marks a battle entered to be lost.
	LoseArmed bool `json:"lose_armed"`

	// Surrendered is set once the surrender gesture was issued.
	Surrendered bool `json:"surrendered"`

	Merges int `json:"merges"`
}

// SessionState is everything the Rules remember between polls.
type SessionState struct {
	Counters Counters
	Battle   BattleState

	// Screen is the last observed screen name and ScreenSince the time it
	// was first seen.
	Screen      string
	ScreenSince time.Time

	// UnknownSince is zero unless the app is running on an unknown screen.
	UnknownSince time.Time

	// BoostsTapped is set after the combat boosts dialog was dismissed.
	BoostsTapped bool
}

// NewSession starts a session with the configured quota.
func NewSession(p Policy) SessionState {
	return SessionState{Counters: Counters{LoseQuota: p.LoseQuota}}
}

// surrenderDue reports whether the next battle should be thrown.
func (s SessionState) surrenderDue() bool {
	return s.Counters.LoseQuota > 0 || s.Counters.SurrendersDue > 0
}

// Reset clears the counters back to the policy values.
func (s SessionState) Reset(p Policy) SessionState {
	s.Counters = Counters{LoseQuota: p.LoseQuota}
	return s
}

// cleared drops everything an app restart invalidates. Counters survive.
func (s SessionState) cleared(now time.Time) SessionState {
	s.Battle = BattleState{}
	s.ScreenSince = now
	s.UnknownSince = time.Time{}
	s.BoostsTapped = false
	return s
}

// Facts are observations gathered beyond the screen itself.
type Facts struct {
	Victory    bool
	AppRunning bool
	Round      screen.RoundInfo
	RoundOK    bool
}

// Need is a set of facts to gather for one observation.
type Need uint8

const (
	NeedVictory Need = 1 << iota
	NeedAppRunning
	NeedRound
)

// Has reports whether n includes f.
func (n Need) Has(f Need) bool { return n&f != 0 }

// Feedback reports what an executed plan changed.
type Feedback struct {
	Merges    int
	Restarted bool
}

// Apply folds executor feedback into the state.
func (s SessionState) Apply(fb Feedback, now time.Time) SessionState {
	if s.Battle.Active {
		s.Battle.Merges += fb.Merges
	}
	if fb.Restarted {
		s = s.cleared(now)
		s.Counters.Restarts++
	}
	return s
}
