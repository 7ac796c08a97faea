package automation

import (
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/mergebot/internal/results"
	"github.com/nerrad567/mergebot/internal/screen"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func testPolicy() Policy {
	return Policy{
		Mode:             ModePVP,
		LoadingDelay:     2 * time.Second,
		StuckTimeout:     120 * time.Second,
		UnknownTimeout:   90 * time.Second,
		DoubleMergeRound: 3,
		RoundActions:     map[int]string{1: "spell_1", 3: "spell_2"},
	}
}

func obs(name string) screen.Observation {
	return screen.Observation{Name: name, State: screen.Parse(name), Score: 1}
}

func roundFacts(life1, life2 int) Facts {
	return Facts{Round: screen.NewRoundInfo(life1, life2), RoundOK: true}
}

func kinds(ks ...ActionKind) []ActionKind { return ks }

// play drives one battle from the main screen to its end screen.
func play(r *Rules, s SessionState, now time.Time, victory bool) (SessionState, Plan) {
	_, s = r.Step(s, obs("main"), Facts{}, now)
	_, s = r.Step(s, obs("battle"), roundFacts(0, 0), now.Add(5*time.Second))
	_, s = r.Step(s, obs("battle"), roundFacts(1, 0), now.Add(35*time.Second))
	var plan Plan
	plan, s = r.Step(s, obs("end_battle"), Facts{Victory: victory}, now.Add(60*time.Second))
	return s, plan
}

func resultOf(t *testing.T, p Plan) results.BattleResult {
	t.Helper()
	for _, a := range p {
		if a.Kind == ActRecordResult {
			return a.Result
		}
	}
	t.Fatalf("plan %v has no result", p.Kinds())
	return results.BattleResult{}
}

func TestStep_StuckScreenRestartsExactlyOnce(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	restarts := 0
	for sec := 0; sec <= 121; sec++ {
		var plan Plan
		plan, s = r.Step(s, obs("shop"), Facts{}, t0.Add(time.Duration(sec)*time.Second))
		if plan.Has(ActRestartApp) {
			restarts++
			if sec != 121 {
				t.Errorf("restart at %ds, want 121s", sec)
			}
		}
	}
	if restarts != 1 {
		t.Errorf("restarts = %d, want 1", restarts)
	}
}

func TestStep_ScreenChangeResetsStuckTimer(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	for sec := 0; sec <= 200; sec++ {
		name := "shop"
		if sec == 100 {
			name = "inbox"
		}
		var plan Plan
		plan, s = r.Step(s, obs(name), Facts{}, t0.Add(time.Duration(sec)*time.Second))
		if plan.Has(ActRestartApp) {
			t.Fatalf("restart at %ds, screen changed at 100s and 101s", sec)
		}
	}
}

func TestStep_Main(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		quota    int
		due      int
		wantTap  string
		wantMode string
	}{
		{name: "pvp", mode: ModePVP, wantTap: "pvp", wantMode: ModePVP},
		{name: "coop", mode: ModeCoop, wantTap: "coop", wantMode: ModeCoop},
		{name: "empty mode defaults to pvp", mode: "", wantTap: "pvp", wantMode: ModePVP},
		{name: "lose quota forces pvp", mode: ModeCoop, quota: 1, wantTap: "pvp", wantMode: ModePVP},
		{name: "scheduled surrender forces pvp", mode: ModeCoop, due: 2, wantTap: "pvp", wantMode: ModePVP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy()
			p.Mode = tt.mode
			r := NewRules(p)
			s := NewSession(p)
			s.Counters.LoseQuota = tt.quota
			s.Counters.SurrendersDue = tt.due
			s.Battle = BattleState{Active: true, Round: 7}

			plan, next := r.Step(s, obs("main"), Facts{}, t0)

			want := Plan{tap(GroupMain, tt.wantTap)}
			if !reflect.DeepEqual(plan, want) {
				t.Errorf("plan = %v, want %v", plan, want)
			}
			if next.Battle != (BattleState{Mode: tt.wantMode}) {
				t.Errorf("battle = %+v, want reset with mode %s", next.Battle, tt.wantMode)
			}
		})
	}
}

func TestStep_Loading(t *testing.T) {
	r := NewRules(testPolicy())
	plan, _ := r.Step(NewSession(r.Policy()), obs("loading"), Facts{}, t0)
	if !reflect.DeepEqual(plan, Plan{wait(2 * time.Second)}) {
		t.Errorf("plan = %v, want wait 2s", plan)
	}
}

func TestStep_BattleStartAndRepeatPoll(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	plan, s := r.Step(s, obs("battle"), roundFacts(0, 0), t0)

	wantKinds := kinds(ActResetBoard, ActTap, ActCollectCoin, ActScanMerge, ActCollectCoin, ActTap)
	if !reflect.DeepEqual(plan.Kinds(), wantKinds) {
		t.Fatalf("first poll kinds = %v, want %v", plan.Kinds(), wantKinds)
	}
	if plan[1] != tap(GroupBattle, "spell_1") {
		t.Errorf("round action = %v, want tap battle/spell_1", plan[1])
	}
	if plan[3].Round != 1 || plan[3].Passes != 1 {
		t.Errorf("scan_merge = %v, want round 1 passes 1", plan[3])
	}
	if plan[5] != tap(GroupBattle, RegionEndRound) {
		t.Errorf("last action = %v, want end round", plan[5])
	}
	if !s.Battle.Active || s.Battle.Round != 1 || !s.Battle.StartedAt.Equal(t0) {
		t.Errorf("battle = %+v, want active round 1 started at t0", s.Battle)
	}

	plan, _ = r.Step(s, obs("battle"), roundFacts(0, 0), t0.Add(time.Second))
	wantKinds = kinds(ActCollectCoin, ActScanMerge, ActCollectCoin, ActTap)
	if !reflect.DeepEqual(plan.Kinds(), wantKinds) {
		t.Errorf("repeat poll kinds = %v, want %v", plan.Kinds(), wantKinds)
	}
}

func TestStep_RoundIsMonotonic(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	_, s = r.Step(s, obs("battle"), roundFacts(0, 0), t0)
	plan, s := r.Step(s, obs("battle"), roundFacts(1, 1), t0.Add(time.Second))
	if s.Battle.Round != 3 {
		t.Fatalf("round = %d, want 3", s.Battle.Round)
	}
	if plan[0] != tap(GroupBattle, "spell_2") {
		t.Errorf("round 3 action = %v, want tap battle/spell_2", plan[0])
	}
	if plan[2].Passes != 2 {
		t.Errorf("round 3 passes = %d, want 2", plan[2].Passes)
	}

	tests := []struct {
		name  string
		facts Facts
	}{
		{"misread lower", roundFacts(0, 0)},
		{"unreadable", Facts{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, next := r.Step(s, obs("battle"), tt.facts, t0.Add(2*time.Second))
			if next.Battle.Round != 3 {
				t.Errorf("round = %d, want 3", next.Battle.Round)
			}
			if plan.Has(ActResetBoard) {
				t.Error("lower round read restarted the battle")
			}
		})
	}
}

func TestStep_StuckTimerRunsThroughRounds(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	_, s = r.Step(s, obs("battle"), roundFacts(0, 0), t0)
	_, s = r.Step(s, obs("battle"), roundFacts(1, 0), t0.Add(100*time.Second))
	plan, _ := r.Step(s, obs("battle"), roundFacts(1, 1), t0.Add(121*time.Second))
	if !plan.Has(ActRestartApp) {
		t.Errorf("kinds = %v, want a restart after 121s on the battle screen", plan.Kinds())
	}
}

func TestStep_RoundOneAgainStartsNewBattle(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	_, s = r.Step(s, obs("battle"), roundFacts(0, 0), t0)
	_, s = r.Step(s, obs("battle"), roundFacts(1, 1), t0.Add(30*time.Second))
	if s.Battle.Round != 3 {
		t.Fatalf("round = %d, want 3", s.Battle.Round)
	}
	s.Battle.Merges = 4

	plan, next := r.Step(s, obs("battle"), roundFacts(0, 0), t0.Add(60*time.Second))
	if len(plan) == 0 || plan[0].Kind != ActResetBoard {
		t.Fatalf("kinds = %v, want the board reset first", plan.Kinds())
	}
	if next.Battle.Round != 1 || next.Battle.Merges != 0 || !next.Battle.StartedAt.Equal(t0.Add(60*time.Second)) {
		t.Errorf("battle = %+v, want a fresh battle at round 1", next.Battle)
	}
	if next.Battle.Mode != s.Battle.Mode {
		t.Errorf("mode = %v, want %v kept", next.Battle.Mode, s.Battle.Mode)
	}

	// A round 1 reading during round 1 is not a new battle.
	plan, _ = r.Step(next, obs("battle"), roundFacts(0, 0), t0.Add(70*time.Second))
	if plan.Has(ActResetBoard) {
		t.Error("board reset while still in round 1")
	}
}

func TestStep_EndBattleOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		surrender  bool
		victory    bool
		want       results.Outcome
		wantCounts Counters
	}{
		{name: "win", victory: true, want: results.Win,
			wantCounts: Counters{Wins: 1, Streak: 1}},
		{name: "loss", want: results.Lose,
			wantCounts: Counters{Losses: 1}},
		{name: "surrender", surrender: true, want: results.Surrender,
			wantCounts: Counters{Losses: 1, Surrenders: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRules(testPolicy())
			s := NewSession(r.Policy())
			s.Battle = BattleState{Active: true, Mode: ModePVP, StartedAt: t0, Round: 5, Merges: 7, Surrendered: tt.surrender}

			plan, next := r.Step(s, obs("end_battle"), Facts{Victory: tt.victory}, t0.Add(90*time.Second))

			if !reflect.DeepEqual(plan.Kinds(), kinds(ActRecordResult, ActTap)) {
				t.Fatalf("kinds = %v, want record then tap", plan.Kinds())
			}
			res := plan[0].Result
			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if res.DurationMS != 90000 || res.Rounds != 5 || res.Merges != 7 || res.Mode != ModePVP {
				t.Errorf("result = %+v", res)
			}
			if next.Counters != tt.wantCounts {
				t.Errorf("counters = %+v, want %+v", next.Counters, tt.wantCounts)
			}
			if next.Battle != (BattleState{}) {
				t.Errorf("battle not cleared: %+v", next.Battle)
			}

			// The end screen lingering must not record twice.
			again, _ := r.Step(next, obs("end_battle"), Facts{Victory: tt.victory}, t0.Add(91*time.Second))
			if !reflect.DeepEqual(again, Plan{tap(GroupEnd, RegionContinue)}) {
				t.Errorf("second poll = %v, want continue only", again)
			}
		})
	}
}

func TestStep_LoseQuota(t *testing.T) {
	p := testPolicy()
	p.LoseQuota = 2
	r := NewRules(p)
	s := NewSession(p)

	for i := range 2 {
		now := t0.Add(time.Duration(i) * 10 * time.Minute)
		_, s = r.Step(s, obs("main"), Facts{}, now)
		plan, next := r.Step(s, obs("battle"), roundFacts(0, 0), now.Add(time.Second))
		if !reflect.DeepEqual(plan.Kinds(), kinds(ActResetBoard, ActSurrender)) {
			t.Fatalf("battle %d kinds = %v, want reset then surrender", i, plan.Kinds())
		}
		// Surrender is issued once per battle.
		plan, next = r.Step(next, obs("battle"), Facts{}, now.Add(2*time.Second))
		if len(plan) != 0 {
			t.Errorf("battle %d second poll = %v, want nothing", i, plan)
		}
		plan, s = r.Step(next, obs("end_battle"), Facts{}, now.Add(5*time.Second))
		if got := resultOf(t, plan).Outcome; got != results.Surrender {
			t.Errorf("battle %d outcome = %s, want surrender", i, got)
		}
	}
	if s.Counters.LoseQuota != 0 || s.Counters.Surrenders != 2 || s.Counters.Losses != 2 {
		t.Errorf("counters = %+v, want quota spent after 2 surrenders", s.Counters)
	}

	s, plan := play(r, s, t0.Add(time.Hour), true)
	if got := resultOf(t, plan).Outcome; got != results.Win {
		t.Errorf("after quota outcome = %s, want win", got)
	}
	if s.Counters.Wins != 1 {
		t.Errorf("wins = %d, want 1", s.Counters.Wins)
	}
}

func TestStep_RealLossCountsTowardQuota(t *testing.T) {
	p := testPolicy()
	r := NewRules(p)
	s := NewSession(p)
	s.Counters.LoseQuota = 2
	s.Battle = BattleState{Active: true, StartedAt: t0}

	_, s = r.Step(s, obs("end_battle"), Facts{}, t0.Add(time.Minute))
	if s.Counters.LoseQuota != 1 {
		t.Errorf("lose quota = %d, want 1", s.Counters.LoseQuota)
	}
}

func TestStep_SurrenderAfterWins(t *testing.T) {
	p := testPolicy()
	p.SurrenderAfterWins = 2
	p.SurrenderCount = 1
	r := NewRules(p)
	s := NewSession(p)

	s, _ = play(r, s, t0, true)
	if s.Counters.Streak != 1 || s.Counters.SurrendersDue != 0 {
		t.Fatalf("after 1 win counters = %+v", s.Counters)
	}
	s, _ = play(r, s, t0.Add(10*time.Minute), true)
	if s.Counters.Streak != 0 || s.Counters.SurrendersDue != 1 {
		t.Fatalf("after 2 wins counters = %+v, want 1 surrender due and streak restarted", s.Counters)
	}

	_, s = r.Step(s, obs("main"), Facts{}, t0.Add(20*time.Minute))
	plan, s := r.Step(s, obs("battle"), roundFacts(0, 0), t0.Add(21*time.Minute))
	if !plan.Has(ActSurrender) {
		t.Fatalf("plan = %v, want surrender", plan.Kinds())
	}
	_, s = r.Step(s, obs("end_battle"), Facts{}, t0.Add(22*time.Minute))

	want := Counters{Wins: 2, Losses: 1, Surrenders: 1}
	if s.Counters != want {
		t.Errorf("counters = %+v, want %+v", s.Counters, want)
	}

	s, _ = play(r, s, t0.Add(30*time.Minute), true)
	if s.Counters.Streak != 1 {
		t.Errorf("streak after next win = %d, want 1", s.Counters.Streak)
	}
}

func TestStep_LossEndsStreak(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())
	s, _ = play(r, s, t0, true)
	s, _ = play(r, s, t0.Add(10*time.Minute), false)
	if s.Counters.Streak != 0 || s.Counters.Losses != 1 {
		t.Errorf("counters = %+v, want streak 0 and 1 loss", s.Counters)
	}
}

func TestStep_WaitPVPArmsLoss(t *testing.T) {
	p := testPolicy()
	p.LoseQuota = 1
	r := NewRules(p)
	s := NewSession(p)

	plan, s := r.Step(s, obs("wait_pvp"), Facts{}, t0)
	if !reflect.DeepEqual(plan, Plan{wait(p.LoadingDelay)}) {
		t.Errorf("plan = %v, want wait", plan)
	}
	if !s.Battle.LoseArmed {
		t.Fatal("lose flag not armed")
	}

	// An operator reset during matchmaking does not disarm the battle.
	s = s.Reset(Policy{})
	plan, _ = r.Step(s, obs("pvp"), Facts{}, t0.Add(time.Second))
	_, s = r.Step(s, obs("battle"), Facts{}, t0.Add(2*time.Second))
	if !s.Battle.Surrendered {
		t.Errorf("armed battle not surrendered, plan before = %v", plan)
	}
}

func TestStep_Chest(t *testing.T) {
	r := NewRules(testPolicy())
	plan, _ := r.Step(NewSession(r.Policy()), obs("chest"), Facts{}, t0)
	if !reflect.DeepEqual(plan, Plan{tap(GroupChest, RegionClaim)}) {
		t.Errorf("plan = %v, want claim", plan)
	}
}

func TestStep_CombatBoosts(t *testing.T) {
	r := NewRules(testPolicy())
	s := NewSession(r.Policy())

	plan, s := r.Step(s, obs("combat_boosts"), Facts{}, t0)
	if !reflect.DeepEqual(plan, Plan{tap(GroupBoosts, RegionSkip)}) {
		t.Fatalf("first plan = %v, want skip", plan)
	}
	plan, s = r.Step(s, obs("combat_boosts"), Facts{}, t0.Add(time.Second))
	if !plan.Has(ActRestartApp) {
		t.Fatalf("persisting dialog plan = %v, want restart", plan)
	}

	_, s = r.Step(s, obs("combat_boosts"), Facts{}, t0.Add(2*time.Second))
	_, s = r.Step(s, obs("main"), Facts{}, t0.Add(3*time.Second))
	plan, _ = r.Step(s, obs("combat_boosts"), Facts{}, t0.Add(4*time.Second))
	if plan.Has(ActRestartApp) {
		t.Error("dialog seen again after another screen triggered a restart")
	}
}

func TestStep_Unknown(t *testing.T) {
	r := NewRules(testPolicy())
	unknown := screen.Observation{Name: screen.UnknownName, State: screen.Unknown}

	t.Run("app not running launches it", func(t *testing.T) {
		plan, s := r.Step(NewSession(r.Policy()), unknown, Facts{AppRunning: false}, t0)
		if !reflect.DeepEqual(plan.Kinds(), kinds(ActLaunchApp)) {
			t.Errorf("plan = %v, want launch", plan.Kinds())
		}
		if !s.UnknownSince.IsZero() {
			t.Error("unknown timer started while app was down")
		}
	})

	t.Run("timer escalates after 90s", func(t *testing.T) {
		s := NewSession(r.Policy())
		running := Facts{AppRunning: true}

		plan, s := r.Step(s, unknown, running, t0)
		if len(plan) != 0 || !s.UnknownSince.Equal(t0) {
			t.Fatalf("first poll plan = %v, since = %v", plan, s.UnknownSince)
		}
		plan, s = r.Step(s, unknown, running, t0.Add(90*time.Second))
		if len(plan) != 0 {
			t.Fatalf("plan at 90s = %v, want nothing", plan.Kinds())
		}
		plan, s = r.Step(s, unknown, running, t0.Add(91*time.Second))
		if !reflect.DeepEqual(plan.Kinds(), kinds(ActDiagnostic, ActRestartApp)) {
			t.Fatalf("plan at 91s = %v, want diagnostic then restart", plan.Kinds())
		}
		if !s.UnknownSince.IsZero() {
			t.Error("unknown timer not cleared after restart")
		}
	})

	t.Run("known screen clears timer", func(t *testing.T) {
		_, s := r.Step(NewSession(r.Policy()), unknown, Facts{AppRunning: true}, t0)
		_, s = r.Step(s, obs("main"), Facts{}, t0.Add(time.Second))
		if !s.UnknownSince.IsZero() {
			t.Error("unknown timer survived a known screen")
		}
	})
}

func TestNeeds(t *testing.T) {
	r := NewRules(testPolicy())
	active := NewSession(r.Policy())
	active.Battle.Active = true
	surrendered := active
	surrendered.Battle.Surrendered = true
	quota := NewSession(r.Policy())
	quota.Counters.LoseQuota = 1

	tests := []struct {
		name  string
		s     SessionState
		state screen.State
		want  Need
	}{
		{"end of observed battle", active, screen.EndBattle, NeedVictory},
		{"end of surrendered battle", surrendered, screen.EndBattle, 0},
		{"end of unseen battle", NewSession(r.Policy()), screen.EndBattle, 0},
		{"unknown", active, screen.Unknown, NeedAppRunning},
		{"battle", active, screen.Battle, NeedRound},
		{"to battle", active, screen.ToBattle, NeedRound},
		{"battle to be thrown", quota, screen.Battle, 0},
		{"main", active, screen.Main, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Needs(tt.s, tt.state); got != tt.want {
				t.Errorf("Needs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionState_Apply(t *testing.T) {
	s := NewSession(Policy{LoseQuota: 3})
	s.Battle = BattleState{Active: true, Round: 2}
	s.Counters.Wins = 4

	s = s.Apply(Feedback{Merges: 3}, t0)
	if s.Battle.Merges != 3 {
		t.Errorf("merges = %d, want 3", s.Battle.Merges)
	}

	s.UnknownSince = t0
	s = s.Apply(Feedback{Restarted: true}, t0.Add(time.Minute))
	if s.Battle != (BattleState{}) || !s.UnknownSince.IsZero() || !s.ScreenSince.Equal(t0.Add(time.Minute)) {
		t.Errorf("state after restart = %+v", s)
	}
	if s.Counters.Restarts != 1 || s.Counters.Wins != 4 {
		t.Errorf("counters = %+v, want 1 restart and wins kept", s.Counters)
	}

	s = s.Reset(Policy{LoseQuota: 3})
	if s.Counters != (Counters{LoseQuota: 3}) {
		t.Errorf("counters after reset = %+v", s.Counters)
	}
}

func TestParseCommand(t *testing.T) {
	for _, name := range []string{"pause", "resume", "reset"} {
		if _, err := ParseCommand(name); err != nil {
			t.Errorf("ParseCommand(%q) error = %v", name, err)
		}
	}
	if _, err := ParseCommand("reboot"); err == nil {
		t.Error("ParseCommand(reboot) error = nil")
	}
}
