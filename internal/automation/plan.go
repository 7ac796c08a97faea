package automation

import (
	"fmt"
	"time"

	"github.com/nerrad567/mergebot/internal/results"
)

// ActionKind identifies what an Action does.
type ActionKind int

const (
	// ActTap taps the centre of layout region Group/Name.
	ActTap ActionKind = iota + 1
	// ActWait sleeps for Delay.
	ActWait
	// ActLaunchApp starts the game without waiting.
	ActLaunchApp
	// ActRestartApp force-stops and relaunches the game, escalating to an
	// emulator restart if no known screen appears.
	ActRestartApp
	// ActDiagnostic saves a screenshot named after Reason.
	ActDiagnostic
	// ActResetBoard clears the board model and the merge memo.
	ActResetBoard
	// ActScanMerge rescans the board for Round and merges, Passes times.
	ActScanMerge
	// ActCollectCoin taps the coin region.
	ActCollectCoin
	// ActSurrender opens the flag menu and confirms.
	ActSurrender
	// ActRecordResult hands Result to the result sinks.
	ActRecordResult
)

var actionNames = map[ActionKind]string{
	ActTap:          "tap",
	ActWait:         "wait",
	ActLaunchApp:    "launch_app",
	ActRestartApp:   "restart_app",
	ActDiagnostic:   "diagnostic",
	ActResetBoard:   "reset_board",
	ActScanMerge:    "scan_merge",
	ActCollectCoin:  "collect_coin",
	ActSurrender:    "surrender",
	ActRecordResult: "record_result",
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is one step of a Plan. Only the fields of its kind are set.
type Action struct {
	Kind   ActionKind
	Group  string
	Name   string
	Delay  time.Duration
	Reason string
	Round  int
	Passes int
	Result results.BattleResult
}

func (a Action) String() string {
	switch a.Kind {
	case ActTap:
		return fmt.Sprintf("tap %s/%s", a.Group, a.Name)
	case ActWait:
		return fmt.Sprintf("wait %v", a.Delay)
	case ActRestartApp, ActDiagnostic:
		return fmt.Sprintf("%s (%s)", a.Kind, a.Reason)
	case ActScanMerge:
		return fmt.Sprintf("scan_merge round=%d passes=%d", a.Round, a.Passes)
	case ActRecordResult:
		return fmt.Sprintf("record_result %s", a.Result.Outcome)
	default:
		return a.Kind.String()
	}
}

// Plan is the ordered list of actions for one poll.
type Plan []Action

// Kinds lists the action kinds in order.
func (p Plan) Kinds() []ActionKind {
	out := make([]ActionKind, len(p))
	for i, a := range p {
		out[i] = a.Kind
	}
	return out
}

// Has reports whether the plan contains an action of kind k.
func (p Plan) Has(k ActionKind) bool {
	for _, a := range p {
		if a.Kind == k {
			return true
		}
	}
	return false
}

func tap(group, name string) Action { return Action{Kind: ActTap, Group: group, Name: name} }

func wait(d time.Duration) Action { return Action{Kind: ActWait, Delay: d} }

func restartApp(reason string) Action { return Action{Kind: ActRestartApp, Reason: reason} }
