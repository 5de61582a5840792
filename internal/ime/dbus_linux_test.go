//go:build linux

package ime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBusErrorNames(t *testing.T) {
	assert.Nil(t, dbusError(nil))

	err := dbusError(fmt.Errorf("wrapped: %w", ErrNotReviewing))
	require.NotNil(t, err)
	assert.Equal(t, "dev.kanaime.Engine.Error.NotReviewing", err.Name)

	err = dbusError(errors.New("something else"))
	require.NotNil(t, err)
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", err.Name)
}

func TestDBusEngineMethods(t *testing.T) {
	e := newTestEngine(t, Options{})
	obj := &dbusEngine{engine: e}

	for _, c := range "watashiha" {
		require.Nil(t, obj.PushChar(int32(c)))
	}
	require.Nil(t, obj.BeginConversion())
	waitFor(t, e, loaded(0))

	require.Nil(t, obj.AdjustBoundary(0, false))
	assert.Equal(t, []string{"わた", "しは"}, readings(e.Snapshot()))
	require.Nil(t, obj.AdjustBoundary(0, true))

	data, derr := obj.Snapshot()
	require.Nil(t, derr)
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	assert.Equal(t, ModeReviewing, snap.Mode)
	assert.Equal(t, []string{"わたし", "は"}, readings(snap))

	text, derr := obj.Commit()
	require.Nil(t, derr)
	assert.Equal(t, "わたしは", text)

	_, derr = obj.Commit()
	require.NotNil(t, derr)
	assert.Equal(t, "dev.kanaime.Engine.Error.NotReviewing", derr.Name)
}

func TestDBusServicePingBeforeStart(t *testing.T) {
	svc := NewDBusService(newTestEngine(t, Options{}), nil)
	assert.Error(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Stop())
}
