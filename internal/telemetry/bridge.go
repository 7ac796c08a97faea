package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/nerrad567/mergebot/internal/automation"
	"github.com/nerrad567/mergebot/internal/infrastructure/mqtt"
	"github.com/nerrad567/mergebot/internal/results"
)

// statsQueueSize bounds snapshots waiting to be published. When the broker
// is slow older snapshots are dropped; stats are retained so only the
// newest one matters.
const statsQueueSize = 16

// Logger defines the logging interface for the telemetry package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Commander accepts operator commands. *automation.Orchestrator implements it.
type Commander interface {
	Send(cmd automation.Command) error
}

// screenMessage is published when the observed screen changes.
type screenMessage struct {
	Serial string `json:"serial,omitempty"`
	Screen string `json:"screen"`
	State  string `json:"state"`
	Since  string `json:"since,omitempty"`
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Client   MQTTClient
	Topics   mqtt.Topics
	Commands Commander
	QoS      byte
}

// Bridge connects one automation loop to MQTT.
//
// Thread Safety:
//   - OnStats and Record are safe to call from the loop goroutine while
//     the publisher goroutine runs.
//   - Start and Stop must not be called concurrently.
type Bridge struct {
	client   MQTTClient
	topics   mqtt.Topics
	commands Commander
	qos      byte

	updates  chan automation.Stats
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	lastScreen string
	logger     Logger
}

// NewBridge creates a bridge. Call Start to subscribe and begin publishing.
func NewBridge(opts BridgeOptions) *Bridge {
	return &Bridge{
		client:   opts.Client,
		topics:   opts.Topics,
		commands: opts.Commands,
		qos:      opts.QoS,
		updates:  make(chan automation.Stats, statsQueueSize),
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the command topics and starts the publisher.
func (b *Bridge) Start(ctx context.Context) error {
	if b.commands != nil {
		topic := b.topics.AllCommands()
		if err := b.client.Subscribe(topic, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logger.Info("subscribed to commands", "topic", topic)
	}

	b.wg.Add(1)
	go b.publishLoop(ctx)
	return nil
}

// Stop ends the publisher. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

// OnStats queues a snapshot for publishing without blocking.
func (b *Bridge) OnStats(st automation.Stats) {
	select {
	case b.updates <- st:
	default:
		b.logger.Debug("stats queue full, dropping snapshot", "iterations", st.Iterations)
	}
}

// Record publishes a finished battle. It implements results.Sink.
func (b *Bridge) Record(_ context.Context, r results.BattleResult) error {
	payload, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := b.client.Publish(b.topics.Results(), payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing result: %w", err)
	}
	return nil
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case st := <-b.updates:
			b.publishStats(st)
		}
	}
}

func (b *Bridge) publishStats(st automation.Stats) {
	if !b.client.IsConnected() {
		return
	}

	payload, err := sonic.Marshal(st)
	if err != nil {
		b.logger.Error("failed to encode stats", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.Stats(), payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish stats", "error", err)
	}

	if st.Screen == b.lastScreen {
		return
	}
	msg := screenMessage{Serial: st.Serial, Screen: st.Screen, State: st.State.String()}
	if !st.ScreenSince.IsZero() {
		msg.Since = st.ScreenSince.UTC().Format(time.RFC3339)
	}
	payload, err = sonic.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to encode screen change", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.Screen(), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish screen change", "error", err)
		return
	}
	b.lastScreen = st.Screen
}

// handleCommand maps mergebot/<serial>/command/<name> onto the loop's
// command queue. The payload is ignored.
func (b *Bridge) handleCommand(topic string, _ []byte) error {
	name, ok := b.topics.CommandName(topic)
	if !ok {
		return fmt.Errorf("%w: %q", automation.ErrUnknownCommand, topic)
	}
	cmd, err := automation.ParseCommand(name)
	if err != nil {
		return err
	}
	b.logger.Info("received command", "command", cmd, "source", "mqtt")
	return b.commands.Send(cmd)
}
