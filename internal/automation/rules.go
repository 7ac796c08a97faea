package automation

import (
	"fmt"
	"time"

	"github.com/nerrad567/mergebot/internal/results"
	"github.com/nerrad567/mergebot/internal/screen"
)

// Layout groups and regions the rules tap.
const (
	GroupMain   = "main"
	GroupBattle = "battle"
	GroupEnd    = "end"
	GroupChest  = "chest"
	GroupBoosts = "boosts"

	RegionCoin             = "coin"
	RegionEndRound         = "end_round"
	RegionFlag             = "flag"
	RegionSurrenderConfirm = "surrender_confirm"
	RegionLife1            = "life_1"
	RegionLife2            = "life_2"
	RegionContinue         = "continue"
	RegionClaim            = "claim"
	RegionSkip             = "skip"
)

type handler func(r *Rules, s SessionState, f Facts, now time.Time) (Plan, SessionState)

// routes is the single dispatch table from screen to handler.
var routes = map[screen.State]handler{
	screen.Main:         (*Rules).onMain,
	screen.Loading:      (*Rules).onLoading,
	screen.ToBattle:     (*Rules).onBattle,
	screen.Battle:       (*Rules).onBattle,
	screen.EndBattle:    (*Rules).onEndBattle,
	screen.Chest:        (*Rules).onChest,
	screen.CombatBoosts: (*Rules).onCombatBoosts,
	screen.WaitPVP:      (*Rules).onWaitPVP,
	screen.PVP:          (*Rules).onWaitPVP,
	screen.Unknown:      (*Rules).onUnknown,
	screen.Other:        (*Rules).onOther,
}

// Rules decide what to do on each screen.
//
// Thread Safety:
//   - Rules is immutable after construction; Step has no side effects.
type Rules struct {
	policy Policy
}

// NewRules creates rules for a policy. An empty mode means PVP.
func NewRules(p Policy) *Rules {
	if p.Mode == "" {
		p.Mode = ModePVP
	}
	return &Rules{policy: p}
}

// Policy returns the rules' policy.
func (r *Rules) Policy() Policy { return r.policy }

// Needs lists the facts Step will consult for an observation of st.
func (r *Rules) Needs(s SessionState, st screen.State) Need {
	switch st {
	case screen.EndBattle:
		if s.Battle.Active && !s.Battle.Surrendered {
			return NeedVictory
		}
	case screen.Unknown:
		return NeedAppRunning
	case screen.ToBattle, screen.Battle:
		if !s.throwing() {
			return NeedRound
		}
	}
	return 0
}

// throwing reports whether the current or next battle is to be surrendered.
func (s SessionState) throwing() bool {
	return s.Battle.Surrendered || s.Battle.LoseArmed || s.surrenderDue()
}

// Step advances the session by one observation.
//
// The generic stuck check runs before any screen handler: the same screen
// name seen for longer than StuckTimeout yields a single app restart and
// restarts the timer, so a screen persisting for 121s restarts once.
func (r *Rules) Step(s SessionState, obs screen.Observation, f Facts, now time.Time) (Plan, SessionState) {
	if obs.Name != s.Screen || s.ScreenSince.IsZero() {
		s.Screen, s.ScreenSince = obs.Name, now
	} else if r.policy.StuckTimeout > 0 && now.Sub(s.ScreenSince) > r.policy.StuckTimeout {
		reason := fmt.Sprintf("screen %q unchanged for %v", obs.Name, now.Sub(s.ScreenSince).Round(time.Second))
		return Plan{restartApp(reason)}, s.cleared(now)
	}

	if obs.State != screen.Unknown {
		s.UnknownSince = time.Time{}
	}
	if obs.State != screen.CombatBoosts {
		s.BoostsTapped = false
	}

	h, ok := routes[obs.State]
	if !ok {
		h = (*Rules).onOther
	}
	return h(r, s, f, now)
}

func (r *Rules) onMain(s SessionState, _ Facts, _ time.Time) (Plan, SessionState) {
	mode := r.policy.Mode
	if s.surrenderDue() {
		mode = ModePVP
	}
	s.Battle = BattleState{Mode: mode}
	return Plan{tap(GroupMain, mode)}, s
}

func (r *Rules) onLoading(s SessionState, _ Facts, _ time.Time) (Plan, SessionState) {
	return Plan{wait(r.policy.LoadingDelay)}, s
}

func (r *Rules) onBattle(s SessionState, f Facts, now time.Time) (Plan, SessionState) {
	var plan Plan
	// Round 1 after a later round is a new battle that began without
	// leaving the battle screen.
	restarted := f.RoundOK && f.Round.Round == 1 && s.Battle.Round > 1
	if !s.Battle.Active || restarted {
		s.Battle = BattleState{
			Active:    true,
			StartedAt: now,
			Mode:      s.Battle.Mode,
			LoseArmed: s.Battle.LoseArmed || s.surrenderDue(),
		}
		plan = append(plan, Action{Kind: ActResetBoard})
	}

	if s.Battle.LoseArmed || s.surrenderDue() {
		if s.Battle.Surrendered {
			return plan, s
		}
		s.Battle.Surrendered = true
		return append(plan, Action{Kind: ActSurrender}), s
	}

	// Misread pips can only move the round forward, never back.
	round := s.Battle.Round
	if f.RoundOK && f.Round.Round > round {
		round = f.Round.Round
	}
	round = max(round, 1)
	s.Battle.Round = round

	if name, ok := r.policy.RoundActions[round]; ok && s.Battle.CastRound != round {
		plan = append(plan, tap(GroupBattle, name))
		s.Battle.CastRound = round
	}

	passes := 1
	if r.policy.DoubleMergeRound > 0 && round == r.policy.DoubleMergeRound {
		passes = 2
	}
	plan = append(plan,
		Action{Kind: ActCollectCoin},
		Action{Kind: ActScanMerge, Round: round, Passes: passes},
		Action{Kind: ActCollectCoin},
		tap(GroupBattle, RegionEndRound),
	)
	return plan, s
}

func (r *Rules) onEndBattle(s SessionState, f Facts, now time.Time) (Plan, SessionState) {
	if !s.Battle.Active {
		// Already recorded, or a battle that started before we looked.
		return Plan{tap(GroupEnd, RegionContinue)}, s
	}

	outcome := results.Lose
	switch {
	case s.Battle.Surrendered:
		outcome = results.Surrender
	case f.Victory:
		outcome = results.Win
	}
	s.Counters = r.count(s.Counters, outcome)

	mode := s.Battle.Mode
	if mode == "" {
		mode = r.policy.Mode
	}
	res := results.BattleResult{
		Mode:       mode,
		StartedAt:  s.Battle.StartedAt,
		EndedAt:    now,
		DurationMS: now.Sub(s.Battle.StartedAt).Milliseconds(),
		Outcome:    outcome,
		Rounds:     s.Battle.Round,
		Merges:     s.Battle.Merges,
		Wins:       s.Counters.Wins,
		Losses:     s.Counters.Losses,
		Streak:     s.Counters.Streak,
	}
	s.Battle = BattleState{}
	return Plan{
		{Kind: ActRecordResult, Result: res},
		tap(GroupEnd, RegionContinue),
	}, s
}

// count applies one outcome to the counters.
//
// A win extends the streak; reaching SurrenderAfterWins schedules
// SurrenderCount surrenders and starts a new streak. A real loss ends the
// streak. Both a real loss and a surrender count toward the lose quota;
// a surrender leaves the streak untouched and consumes one scheduled
// surrender.
func (r *Rules) count(c Counters, o results.Outcome) Counters {
	switch o {
	case results.Win:
		c.Wins++
		c.Streak++
		if r.policy.SurrenderAfterWins > 0 && c.Streak >= r.policy.SurrenderAfterWins {
			c.SurrendersDue += r.policy.SurrenderCount
			c.Streak = 0
		}
	case results.Lose:
		c.Losses++
		c.Streak = 0
		c.LoseQuota = max(c.LoseQuota-1, 0)
	case results.Surrender:
		c.Losses++
		c.Surrenders++
		c.LoseQuota = max(c.LoseQuota-1, 0)
		c.SurrendersDue = max(c.SurrendersDue-1, 0)
	}
	return c
}

func (r *Rules) onChest(s SessionState, _ Facts, _ time.Time) (Plan, SessionState) {
	return Plan{tap(GroupChest, RegionClaim)}, s
}

func (r *Rules) onCombatBoosts(s SessionState, _ Facts, now time.Time) (Plan, SessionState) {
	if s.BoostsTapped {
		return Plan{restartApp("combat boosts dialog did not close")}, s.cleared(now)
	}
	s.BoostsTapped = true
	return Plan{tap(GroupBoosts, RegionSkip)}, s
}

func (r *Rules) onWaitPVP(s SessionState, _ Facts, _ time.Time) (Plan, SessionState) {
	if s.surrenderDue() {
		s.Battle.LoseArmed = true
	}
	return Plan{wait(r.policy.LoadingDelay)}, s
}

func (r *Rules) onUnknown(s SessionState, f Facts, now time.Time) (Plan, SessionState) {
	if !f.AppRunning {
		s.UnknownSince = time.Time{}
		return Plan{{Kind: ActLaunchApp}}, s
	}
	if s.UnknownSince.IsZero() {
		s.UnknownSince = now
		return nil, s
	}
	if r.policy.UnknownTimeout > 0 && now.Sub(s.UnknownSince) > r.policy.UnknownTimeout {
		reason := fmt.Sprintf("unknown screen for %v", now.Sub(s.UnknownSince).Round(time.Second))
		return Plan{
			{Kind: ActDiagnostic, Reason: "unknown_screen"},
			restartApp(reason),
		}, s.cleared(now)
	}
	return nil, s
}

func (r *Rules) onOther(s SessionState, _ Facts, _ time.Time) (Plan, SessionState) {
	return nil, s
}
