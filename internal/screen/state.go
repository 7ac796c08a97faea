package screen

import (
	"strconv"
	"strings"
)

// State is the closed set of screens the orchestrator routes on.
type State int

const (
	Unknown State = iota
	Main
	Loading
	ToBattle
	Battle
	EndBattle
	Chest
	CombatBoosts
	WaitPVP
	PVP
	// Other is a recognised template that carries no routing meaning.
	Other
)

var stateNames = map[State]string{
	Unknown:      "unknown",
	Main:         "main",
	Loading:      "loading",
	ToBattle:     "to_battle",
	Battle:       "battle",
	EndBattle:    "end_battle",
	Chest:        "chest",
	CombatBoosts: "combat_boosts",
	WaitPVP:      "wait_pvp",
	PVP:          "pvp",
	Other:        "other",
}

var byName = func() map[string]State {
	m := make(map[string]State, len(stateNames))
	for s, n := range stateNames {
		if s != Other {
			m[n] = s
		}
	}
	return m
}()

// String returns the state's canonical name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText encodes the state by name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name. Unrecognised names decode as Other.
func (s *State) UnmarshalText(text []byte) error {
	*s = Parse(string(text))
	return nil
}

// Parse maps a template name to a State. A numeric variant suffix is
// ignored, so "end_battle_2" and "end_battle" are both EndBattle.
// Unrecognised names return Other.
func Parse(name string) State {
	name = strings.ToLower(strings.TrimSpace(name))
	if s, ok := byName[name]; ok {
		return s
	}
	if i := strings.LastIndexByte(name, '_'); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			if s, ok := byName[name[:i]]; ok {
				return s
			}
		}
	}
	return Other
}

// InBattle reports whether the state is part of an active battle.
func (s State) InBattle() bool {
	return s == ToBattle || s == Battle
}

// Known reports whether the state is a recognised, routable screen.
func (s State) Known() bool {
	return s != Unknown && s != Other
}
