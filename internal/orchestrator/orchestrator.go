/*
 * This file is part of Aegis (https://github.com/aegislabs/aegis).
 * Copyright (C) 2025 Aegis Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/config"
	"github.com/aegislabs/aegis-hub/internal/events"
	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/metrics"
	"github.com/aegislabs/aegis-hub/internal/security"
)

// Orchestrator states
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateBackoff State = "backoff"
	StateFailed  State = "failed"
)

var (
	// ErrAlreadyRunning is returned when Start is called while a backend
	// process is alive or pending restart.
	ErrAlreadyRunning = errors.New("backend process already running")

	// ErrNotRunning is returned when a command is sent without a live backend
	ErrNotRunning = errors.New("backend process not running")
)

// ExitStatus records the most recent backend exit
type ExitStatus struct {
	Code int       `json:"code"`
	At   time.Time `json:"at"`
}

// Status is a point-in-time snapshot of the supervisor
type Status struct {
	State      State       `json:"state"`
	PID        int         `json:"pid,omitempty"`
	Monitoring bool        `json:"monitoring"`
	Restarts   int         `json:"restarts"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	LastExit   *ExitStatus `json:"last_exit,omitempty"`
}

// MessageHandler receives structured backend messages
type MessageHandler func(Message)

// LogHandler receives relayed backend output lines
type LogHandler func(events.LogEvent)

// Orchestrator supervises the single inference backend process. It relays
// the child's output streams as log events, decodes structured stdout
// messages, forwards named commands over stdin, and restarts the child
// with exponential backoff on unexpected exits.
type Orchestrator struct {
	cfg  config.BackendConfig
	ring *events.LogRing

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	streams    sync.WaitGroup
	state      State
	monitoring bool
	stopping   bool
	restarts   int
	startedAt  time.Time
	lastExit   *ExitStatus
	stopCh     chan struct{}
	doneCh     chan struct{}

	onMessage MessageHandler
	onLog     LogHandler
	onRestart func()
}

// New creates an orchestrator with no backend running
func New(cfg config.BackendConfig, ring *events.LogRing) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		ring:  ring,
		state: StateStopped,
	}
}

// SetMessageHandler installs the callback for structured backend messages.
// Must be called before Start.
func (o *Orchestrator) SetMessageHandler(handler MessageHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onMessage = handler
}

// SetLogHandler installs the callback invoked for every relayed output
// line, in addition to the bounded log ring. Must be called before Start.
func (o *Orchestrator) SetLogHandler(handler LogHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onLog = handler
}

// SetRestartHandler installs a callback invoked after each automatic
// respawn, once the replacement child is alive. Must be called before
// Start.
func (o *Orchestrator) SetRestartHandler(handler func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onRestart = handler
}

// Start spawns the backend process and begins supervising it. At most one
// backend is alive at a time; a second Start while the first is running or
// waiting to restart returns ErrAlreadyRunning.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning || o.state == StateBackoff {
		return ErrAlreadyRunning
	}

	o.stopping = false
	o.restarts = 0
	o.lastExit = nil
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})

	if err := o.spawnLocked(); err != nil {
		o.state = StateFailed
		o.emitLog(events.SourceHub, fmt.Sprintf("failed to spawn backend: %v", err), true)
		return fmt.Errorf("failed to spawn backend: %w", err)
	}

	go o.supervise()
	return nil
}

// Stop terminates the backend and its supervision. The child is asked to
// exit first and killed after the configured grace period. Killing the
// child releases its camera and audio capture handles with it.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped || o.state == StateFailed {
		o.mu.Unlock()
		return nil
	}

	if !o.stopping {
		o.stopping = true
		close(o.stopCh)
	}
	o.monitoring = false

	cmd := o.cmd
	done := o.doneCh
	o.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logging.LogWarn("failed to signal backend",
				zap.Error(err),
			)
		}
	}

	grace := time.NewTimer(o.cfg.StopTimeout)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace.C:
	}

	logging.LogBackendProcess("kill",
		zap.Duration("grace", o.cfg.StopTimeout),
	)
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendCommand writes a named command with a JSON payload to the backend's
// stdin using the COMMAND:<name>:<json> line protocol.
func (o *Orchestrator) SendCommand(name string, payload interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning || o.stdin == nil {
		return ErrNotRunning
	}

	body := []byte("{}")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode command payload: %w", err)
		}
	}

	if _, err := fmt.Fprintf(o.stdin, "COMMAND:%s:%s\n", name, body); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	logging.LogBackendProcess("command",
		zap.String("command", security.SanitizeLogInput(name)),
	)
	return nil
}

// StartMonitoring asks the backend to open its capture devices
func (o *Orchestrator) StartMonitoring() error {
	if err := o.SendCommand("start-monitoring", nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.monitoring = true
	o.mu.Unlock()
	return nil
}

// StopMonitoring asks the backend to release its capture devices
func (o *Orchestrator) StopMonitoring() error {
	if err := o.SendCommand("stop-monitoring", nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.monitoring = false
	o.mu.Unlock()
	return nil
}

// Status returns a snapshot of the supervisor state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{
		State:      o.state,
		Monitoring: o.monitoring,
		Restarts:   o.restarts,
		LastExit:   o.lastExit,
	}
	if o.state == StateRunning {
		status.StartedAt = o.startedAt
		if o.cmd != nil && o.cmd.Process != nil {
			status.PID = o.cmd.Process.Pid
		}
	}
	return status
}

// State returns the current supervisor state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// spawnLocked starts a fresh child process and wires its streams.
// Caller holds o.mu.
func (o *Orchestrator) spawnLocked() error {
	cmd := exec.Command(o.cfg.Command, o.cfg.Args...)
	cmd.Dir = o.cfg.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	o.cmd = cmd
	o.stdin = stdin
	o.state = StateRunning
	o.startedAt = time.Now()

	o.streams.Add(2)
	go o.relayStdout(stdout)
	go o.relayStderr(stderr)

	logging.LogBackendProcess("started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", security.SanitizeLogInput(o.cfg.Command)),
	)
	return nil
}

// supervise waits for backend exits and applies the restart policy:
// exponential backoff doubling from BackoffInitial to BackoffMax, giving
// up after MaxRestarts consecutive failures, with the failure count reset
// once the child stays up for StableUptime.
func (o *Orchestrator) supervise() {
	defer close(o.doneCh)

	backoff := o.cfg.BackoffInitial

	for {
		o.mu.Lock()
		cmd := o.cmd
		startedAt := o.startedAt
		o.mu.Unlock()

		o.streams.Wait()
		err := cmd.Wait()
		uptime := time.Since(startedAt)

		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}

		o.mu.Lock()
		o.lastExit = &ExitStatus{Code: code, At: time.Now()}
		o.stdin = nil
		intentional := o.stopping
		o.mu.Unlock()

		o.emitLog(events.SourceHub,
			fmt.Sprintf("backend exited with code %d after %s", code, uptime.Round(time.Second)), code != 0)
		logging.LogBackendProcess("exited",
			zap.Int("exit_code", code),
			zap.Duration("uptime", uptime),
		)

		if intentional || !o.cfg.RestartEnabled {
			o.setState(StateStopped)
			return
		}

		if uptime >= o.cfg.StableUptime {
			o.mu.Lock()
			o.restarts = 0
			o.mu.Unlock()
			backoff = o.cfg.BackoffInitial
		}

		// Restart phase: retry until a child is alive again or too many
		// consecutive failures pile up.
		respawned := false
		for !respawned {
			o.mu.Lock()
			o.restarts++
			restarts := o.restarts
			o.mu.Unlock()

			if restarts > o.cfg.MaxRestarts {
				o.emitLog(events.SourceHub,
					fmt.Sprintf("backend failed %d times in a row, giving up", restarts-1), true)
				logging.LogBackendProcess("gave_up",
					zap.Int("restarts", restarts-1),
				)
				o.setState(StateFailed)
				return
			}

			o.setState(StateBackoff)
			logging.LogBackendProcess("backoff",
				zap.Duration("wait", backoff),
				zap.Int("attempt", restarts),
			)

			select {
			case <-o.stopCh:
				o.setState(StateStopped)
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > o.cfg.BackoffMax {
				backoff = o.cfg.BackoffMax
			}

			o.mu.Lock()
			err = o.spawnLocked()
			o.mu.Unlock()
			if err != nil {
				o.emitLog(events.SourceHub, fmt.Sprintf("backend restart failed: %v", err), true)
				continue
			}
			respawned = true
			metrics.RecordBackendRestart()
			o.resumeAfterRestart()
		}
	}
}

// resumeAfterRestart re-arms the replacement child. A backend that was
// monitoring when its predecessor died gets start-monitoring again so
// its capture devices reopen; otherwise the replacement would sit idle
// while the hub still reports monitoring as active.
func (o *Orchestrator) resumeAfterRestart() {
	o.mu.Lock()
	monitoring := o.monitoring
	handler := o.onRestart
	o.mu.Unlock()

	if monitoring {
		if err := o.SendCommand("start-monitoring", nil); err != nil {
			o.mu.Lock()
			o.monitoring = false
			o.mu.Unlock()
			o.emitLog(events.SourceHub,
				fmt.Sprintf("failed to resume monitoring after restart: %v", err), true)
		}
	}

	if handler != nil {
		handler()
	}
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// relayStdout decodes structured messages and passes everything else
// through verbatim as log events
func (o *Orchestrator) relayStdout(r io.Reader) {
	defer o.streams.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if msg, ok := parseMessage(line); ok {
			o.mu.Lock()
			handler := o.onMessage
			o.mu.Unlock()
			if handler != nil {
				handler(msg)
			}
			continue
		}

		o.emitLog(events.SourceBackendStdout, line, false)
	}
}

// relayStderr passes stderr lines through as error-flagged log events
func (o *Orchestrator) relayStderr(r io.Reader) {
	defer o.streams.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		o.emitLog(events.SourceBackendStderr, scanner.Text(), true)
	}
}

func (o *Orchestrator) emitLog(source, message string, isError bool) {
	event := events.NewLogEvent(source, message, isError)
	if o.ring != nil {
		o.ring.Append(event)
	}

	o.mu.Lock()
	handler := o.onLog
	o.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}
