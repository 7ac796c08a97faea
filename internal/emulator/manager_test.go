package emulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/mergebot/internal/clock"
	"github.com/nerrad567/mergebot/internal/infrastructure/config"
)

var errADB = errors.New("adb: device offline")

type fakeDevice struct {
	opens, closes, reboots int
	waitErr                error
	rebootErr              error

	// bootAfter is the number of BootCompleted calls answering false.
	bootAfter int
	bootCalls int
}

func (d *fakeDevice) Open(context.Context) error { d.opens++; return nil }
func (d *fakeDevice) Close() error               { d.closes++; return nil }

func (d *fakeDevice) WaitForDevice(context.Context, time.Duration) error { return d.waitErr }

func (d *fakeDevice) BootCompleted(context.Context) (bool, error) {
	d.bootCalls++
	return d.bootCalls > d.bootAfter, nil
}

func (d *fakeDevice) Reboot(context.Context) error {
	d.reboots++
	return d.rebootErr
}

type fakeProcess struct {
	running       bool
	starts, stops int
	dieOnStart    bool
}

func (p *fakeProcess) Start(context.Context) error {
	p.starts++
	p.running = !p.dieOnStart
	return nil
}

func (p *fakeProcess) Stop() error {
	p.stops++
	p.running = false
	return nil
}

func (p *fakeProcess) IsRunning() bool { return p.running }

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newManaged(dev *fakeDevice, proc *fakeProcess, clk clock.Clock) *Manager {
	m := New(config.EmulatorConfig{BootTimeout: time.Minute}, dev, clk)
	m.proc = proc
	return m
}

func TestNew_Managed(t *testing.T) {
	m := New(config.EmulatorConfig{Managed: true, Binary: "emulator"}, &fakeDevice{}, clock.NewFake(t0))
	if !m.Managed() {
		t.Error("Managed() = false for a managed config")
	}
	if m.cfg.BootTimeout != 3*time.Minute {
		t.Errorf("BootTimeout = %v, want default 3m", m.cfg.BootTimeout)
	}

	m = New(config.EmulatorConfig{}, &fakeDevice{}, clock.NewFake(t0))
	if m.Managed() {
		t.Error("Managed() = true for an external device")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on external device error = %v", err)
	}
}

func TestStart_Managed(t *testing.T) {
	dev := &fakeDevice{bootAfter: 2}
	proc := &fakeProcess{}
	clk := clock.NewFake(t0)
	m := newManaged(dev, proc, clk)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if proc.starts != 1 {
		t.Errorf("process starts = %d, want 1", proc.starts)
	}
	if dev.opens != 1 {
		t.Errorf("channel opens = %d, want 1", dev.opens)
	}
	if got := clk.Slept(); got != 2*bootPollInterval {
		t.Errorf("slept %v, want %v", got, 2*bootPollInterval)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	proc := &fakeProcess{running: true}
	m := newManaged(&fakeDevice{}, proc, clock.NewFake(t0))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if proc.starts != 0 {
		t.Errorf("process starts = %d, want 0", proc.starts)
	}
}

func TestRestart_Managed(t *testing.T) {
	dev := &fakeDevice{}
	proc := &fakeProcess{running: true}
	m := newManaged(dev, proc, clock.NewFake(t0))

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if proc.stops != 1 || proc.starts != 1 {
		t.Errorf("stops = %d, starts = %d, want 1 and 1", proc.stops, proc.starts)
	}
	if dev.reboots != 0 {
		t.Errorf("reboots = %d, want 0 for a managed emulator", dev.reboots)
	}
	if dev.closes != 1 || dev.opens != 1 {
		t.Errorf("closes = %d, opens = %d, want 1 and 1", dev.closes, dev.opens)
	}
}

func TestRestart_External(t *testing.T) {
	dev := &fakeDevice{}
	m := New(config.EmulatorConfig{}, dev, clock.NewFake(t0))

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if dev.reboots != 1 {
		t.Errorf("reboots = %d, want 1", dev.reboots)
	}
	if dev.opens != 1 {
		t.Errorf("opens = %d, want 1", dev.opens)
	}
}

func TestRestart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		dev     *fakeDevice
		proc    *fakeProcess
		wantErr error
	}{
		{
			name:    "reboot fails",
			dev:     &fakeDevice{rebootErr: errADB},
			wantErr: errADB,
		},
		{
			name:    "device never visible",
			dev:     &fakeDevice{waitErr: errADB},
			wantErr: ErrBootTimeout,
		},
		{
			name:    "boot never completes",
			dev:     &fakeDevice{bootAfter: 1000},
			wantErr: ErrBootTimeout,
		},
		{
			name:    "process dies while booting",
			dev:     &fakeDevice{},
			proc:    &fakeProcess{dieOnStart: true},
			wantErr: ErrProcessExited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m *Manager
			if tt.proc != nil {
				m = newManaged(tt.dev, tt.proc, clock.NewFake(t0))
			} else {
				m = New(config.EmulatorConfig{BootTimeout: time.Minute}, tt.dev, clock.NewFake(t0))
			}
			err := m.Restart(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Restart() error = %v, want %v", err, tt.wantErr)
			}
			if tt.dev.opens != 0 {
				t.Errorf("channel reopened after a failed restart")
			}
		})
	}
}

func TestRestart_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(config.EmulatorConfig{}, &fakeDevice{bootAfter: 5}, clock.NewFake(t0))

	if err := m.Restart(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Restart() error = %v, want %v", err, context.Canceled)
	}
}
