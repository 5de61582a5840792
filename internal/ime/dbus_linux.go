//go:build linux

package ime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// DBusService exports an Engine on the session bus and emits a
// SnapshotChanged signal whenever its state changes.
type DBusService struct {
	engine *Engine
	logger *slog.Logger

	mu        sync.Mutex
	conn      *dbus.Conn
	ownsConn  bool
	stopSub   func()
	forwarder sync.WaitGroup
}

// NewDBusService creates a service for engine.
func NewDBusService(engine *Engine, logger *slog.Logger) *DBusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBusService{engine: engine, logger: logger.With("component", "dbus")}
}

// Start claims DBusName and exports the engine. A nil conn connects to the
// session bus; that connection is closed by Stop.
func (s *DBusService) Start(ctx context.Context, conn *dbus.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("dbus service already started")
	}

	owns := false
	if conn == nil {
		var err error
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to connect to session bus: %w", err)
		}
		owns = true
	}

	reply, err := conn.RequestName(DBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.closeOwned(conn, owns)
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		s.closeOwned(conn, owns)
		return fmt.Errorf("bus name %s already taken", DBusName)
	}

	obj := &dbusEngine{engine: s.engine}
	if err := conn.Export(obj, DBusPath, DBusInterface); err != nil {
		s.closeOwned(conn, owns)
		return fmt.Errorf("failed to export engine: %w", err)
	}
	node := &introspect.Node{
		Name: string(DBusPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    DBusInterface,
				Methods: introspect.Methods(obj),
				Signals: []introspect.Signal{
					{Name: "SnapshotChanged", Args: []introspect.Arg{{Name: "snapshot", Type: "s"}}},
					{Name: "Committed", Args: []introspect.Arg{{Name: "text", Type: "s"}}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), DBusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		s.closeOwned(conn, owns)
		return fmt.Errorf("failed to export introspection: %w", err)
	}

	s.conn = conn
	s.ownsConn = owns
	snapshots, stop := s.engine.Subscribe()
	s.stopSub = stop
	s.forwarder.Add(1)
	go s.forward(conn, snapshots)

	s.logger.Info("dbus service started", "name", DBusName, "path", DBusPath)
	return nil
}

func (s *DBusService) forward(conn *dbus.Conn, snapshots <-chan Snapshot) {
	defer s.forwarder.Done()
	for snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error("encode snapshot", "error", err)
			continue
		}
		if err := conn.Emit(DBusPath, SnapshotChangedSignal, string(data)); err != nil {
			s.logger.Warn("emit snapshot", "error", err)
		}
	}
}

// EmitCommitted sends the Committed signal. It is a no-op before Start.
func (s *DBusService) EmitCommitted(text string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Emit(DBusPath, CommittedSignal, text); err != nil {
		s.logger.Warn("emit committed text", "error", err)
	}
}

// Ping round-trips a call to the bus daemon.
func (s *DBusService) Ping(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("dbus service not started")
	}
	return conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err
}

// Stop releases the bus name and stops forwarding snapshots.
func (s *DBusService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}

	s.stopSub()
	s.forwarder.Wait()

	var errs []error
	if _, err := s.conn.ReleaseName(DBusName); err != nil {
		errs = append(errs, fmt.Errorf("release bus name: %w", err))
	}
	if s.ownsConn {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus connection: %w", err))
		}
	}
	s.conn = nil
	return errors.Join(errs...)
}

func (s *DBusService) closeOwned(conn *dbus.Conn, owns bool) {
	if owns {
		conn.Close()
	}
}

// dbusEngine is the exported object. Only its methods are visible on the bus.
type dbusEngine struct {
	engine *Engine
}

func (d *dbusEngine) PushChar(c int32) *dbus.Error {
	return dbusError(d.engine.PushChar(rune(c)))
}

func (d *dbusEngine) Backspace() *dbus.Error {
	return dbusError(d.engine.Backspace())
}

func (d *dbusEngine) BeginConversion() *dbus.Error {
	return dbusError(d.engine.BeginConversion())
}

func (d *dbusEngine) MoveFocus(delta int32) *dbus.Error {
	return dbusError(d.engine.MoveFocus(int(delta)))
}

func (d *dbusEngine) SetFocus(index int32) *dbus.Error {
	return dbusError(d.engine.SetFocus(int(index)))
}

func (d *dbusEngine) SelectCandidate(index int32) *dbus.Error {
	return dbusError(d.engine.SelectCandidate(int(index)))
}

// AdjustBoundary moves the boundary right when right is true, left otherwise.
func (d *dbusEngine) AdjustBoundary(boundary int32, right bool) *dbus.Error {
	dir := Left
	if right {
		dir = Right
	}
	return dbusError(d.engine.AdjustBoundary(int(boundary), dir))
}

func (d *dbusEngine) Commit() (string, *dbus.Error) {
	text, err := d.engine.Commit()
	return text, dbusError(err)
}

func (d *dbusEngine) Cancel() *dbus.Error {
	return dbusError(d.engine.Cancel())
}

func (d *dbusEngine) Exit() *dbus.Error {
	return dbusError(d.engine.Exit())
}

// Snapshot returns the current snapshot as JSON.
func (d *dbusEngine) Snapshot() (string, *dbus.Error) {
	data, err := json.Marshal(d.engine.Snapshot())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

var dbusErrorNames = []struct {
	err  error
	name string
}{
	{ErrClosed, "Closed"},
	{ErrNotReviewing, "NotReviewing"},
	{ErrAlreadyReviewing, "AlreadyReviewing"},
	{ErrEmptyReading, "EmptyReading"},
	{ErrNoSegment, "NoSegment"},
	{ErrNoCandidate, "NoCandidate"},
	{ErrBoundary, "Boundary"},
}

// dbusError maps engine errors to named D-Bus errors.
func dbusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, e := range dbusErrorNames {
		if errors.Is(err, e.err) {
			return dbus.NewError(DBusInterface+".Error."+e.name, []interface{}{err.Error()})
		}
	}
	return dbus.MakeFailedError(err)
}
