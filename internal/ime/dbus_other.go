//go:build !linux

package ime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

var errDBusUnsupported = errors.New("dbus service not supported on this platform")

// DBusService is a stub on platforms without a session bus.
type DBusService struct{}

// NewDBusService returns a service whose Start always fails.
func NewDBusService(engine *Engine, logger *slog.Logger) *DBusService {
	return &DBusService{}
}

// Start reports that D-Bus is unsupported on this platform.
func (s *DBusService) Start(ctx context.Context, conn *dbus.Conn) error {
	return errDBusUnsupported
}

// Ping reports that D-Bus is unsupported on this platform.
func (s *DBusService) Ping(ctx context.Context) error {
	return errDBusUnsupported
}

// Stop is a no-op.
func (s *DBusService) Stop() error {
	return nil
}

// EmitCommitted is a no-op.
func (s *DBusService) EmitCommitted(text string) {}
