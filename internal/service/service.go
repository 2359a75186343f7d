// Package service controls long-running system services through the service
// manager and waits for them to become ready.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mkrol/sbckit/internal/exec"
	"github.com/mkrol/sbckit/pkg/logger"
)

// ErrNotReady is returned when a service does not become active within the
// polling bound.
var ErrNotReady = errors.New("service did not become ready")

// Manager controls system services.
type Manager interface {
	// Start starts the named service.
	Start(ctx context.Context, name string) error

	// Enable enables the named service at boot.
	Enable(ctx context.Context, name string) error

	// Restart restarts the named service.
	Restart(ctx context.Context, name string) error

	// IsActive reports whether the named service is currently active.
	IsActive(ctx context.Context, name string) (bool, error)
}

// SystemdManager is a Manager backed by systemctl.
type SystemdManager struct {
	runner exec.CommandRunner
	log    logger.Logger
}

// NewSystemdManager creates a SystemdManager.
func NewSystemdManager(runner exec.CommandRunner, log logger.Logger) *SystemdManager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &SystemdManager{runner: runner, log: log}
}

// Start starts the named service.
func (m *SystemdManager) Start(ctx context.Context, name string) error {
	return m.control(ctx, "start", name)
}

// Enable enables the named service at boot.
func (m *SystemdManager) Enable(ctx context.Context, name string) error {
	return m.control(ctx, "enable", name)
}

// Restart restarts the named service.
func (m *SystemdManager) Restart(ctx context.Context, name string) error {
	return m.control(ctx, "restart", name)
}

func (m *SystemdManager) control(ctx context.Context, verb, name string) error {
	m.log.Debug("service control", "verb", verb, "service", name)

	result := m.runner.Run(ctx, "systemctl", verb, name)
	if result.Failed() {
		return errors.Errorf("systemctl %s %s failed: %s",
			verb, name, strings.TrimSpace(result.Stderr))
	}

	return nil
}

// IsActive reports whether the named service is active. A non-zero exit from
// systemctl means inactive, not an error.
func (m *SystemdManager) IsActive(ctx context.Context, name string) (bool, error) {
	result := m.runner.Run(ctx, "systemctl", "is-active", "--quiet", name)

	if result.ExitCode != 0 {
		return false, nil
	}

	if result.Err != nil {
		return false, errors.Wrapf(result.Err, "checking %s", name)
	}

	return true, nil
}

// WaitReady polls until the service reports active: a fixed number of
// attempts with a fixed interval between them, then an explicit timeout
// error. Context cancellation aborts the wait early.
func WaitReady(
	ctx context.Context,
	m Manager,
	name string,
	attempts int,
	interval time.Duration,
) error {
	for i := range attempts {
		active, err := m.IsActive(ctx, name)
		if err != nil {
			return err
		}

		if active {
			return nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for %s", name)
		case <-time.After(interval):
		}
	}

	return errors.Wrapf(ErrNotReady, "%s after %d attempts", name, attempts)
}
