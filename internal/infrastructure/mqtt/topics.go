package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bot uses.
const TopicPrefix = "mergebot"

// Topics builds the per-device topic tree.
//
//	topics := mqtt.Topics{Serial: "emulator-5554"}
//	topics.Stats() // "mergebot/emulator-5554/stats"
type Topics struct {
	Serial string
}

func (t Topics) base() string {
	serial := t.Serial
	if serial == "" {
		serial = "default"
	}
	// MQTT wildcards and separators are not valid inside a level.
	serial = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(serial)
	return TopicPrefix + "/" + serial
}

// Status is the retained online/offline topic.
func (t Topics) Status() string { return t.base() + "/status" }

// Stats is the retained session counters topic.
func (t Topics) Stats() string { return t.base() + "/stats" }

// Screen carries screen changes.
func (t Topics) Screen() string { return t.base() + "/screen" }

// Results carries one message per finished battle.
func (t Topics) Results() string { return t.base() + "/results" }

// Command is the topic for one remote command.
//
// Example: mergebot/emulator-5554/command/pause
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string { return t.base() + "/command/+" }

// CommandName extracts the command from a topic matched by AllCommands.
// ok is false for topics outside the command tree.
func (t Topics) CommandName(topic string) (string, bool) {
	prefix := t.base() + "/command/"
	name, found := strings.CutPrefix(topic, prefix)
	if !found || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
