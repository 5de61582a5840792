package ime

import "github.com/godbus/dbus/v5"

// D-Bus names of the renderer surface.
const (
	DBusName      = "dev.kanaime.Engine"
	DBusPath      = dbus.ObjectPath("/dev/kanaime/Engine")
	DBusInterface = "dev.kanaime.Engine"

	// SnapshotChangedSignal carries the JSON-encoded snapshot.
	SnapshotChangedSignal = DBusInterface + ".SnapshotChanged"
	// CommittedSignal carries the text of a finished conversion.
	CommittedSignal = DBusInterface + ".Committed"
)
