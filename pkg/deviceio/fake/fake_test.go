package fake

import (
	"context"
	"testing"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_EnumerateProcesses(t *testing.T) {
	d := NewDevice("emu-1")
	d.AddProcess(1234, "com.ex.app", "com.ex.app")

	procs, err := d.EnumerateProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, 1234, procs[0].Pid)
}

func TestDevice_SpawnAttachResume(t *testing.T) {
	d := NewDevice("emu-1")

	pid, err := d.Spawn(context.Background(), "com.ex.app")
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	sess, err := d.Attach(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, pid, sess.Pid())

	require.NoError(t, d.Resume(context.Background(), pid))
}

func TestDevice_Kill(t *testing.T) {
	d := NewDevice("emu-1")
	assert.False(t, d.Killed(42))
	require.NoError(t, d.Kill(context.Background(), 42))
	assert.True(t, d.Killed(42))
}

func TestDevice_SpawnGating(t *testing.T) {
	d := NewDevice("emu-1")
	assert.False(t, d.GatingEnabled())

	require.NoError(t, d.EnableSpawnGating(context.Background()))
	assert.True(t, d.GatingEnabled())

	var got deviceio.SpawnEvent
	disconnect := d.OnSpawnAdded(func(ev deviceio.SpawnEvent) { got = ev })
	d.TriggerSpawnAdded(deviceio.SpawnEvent{Pid: 99, Identifier: "com.ex.child"})
	assert.Equal(t, 99, got.Pid)

	disconnect()
	got = deviceio.SpawnEvent{}
	d.TriggerSpawnAdded(deviceio.SpawnEvent{Pid: 100})
	assert.Equal(t, deviceio.SpawnEvent{}, got)

	require.NoError(t, d.DisableSpawnGating(context.Background()))
	assert.False(t, d.GatingEnabled())
}

func TestSession_DetachAndCrash(t *testing.T) {
	d := NewDevice("emu-1")
	sess, err := d.Attach(context.Background(), 1234)
	require.NoError(t, err)

	var reasons []string
	sess.OnDetached(func(reason string) { reasons = append(reasons, reason) })

	require.NoError(t, sess.Detach(context.Background()))
	// A second Detach (or a crash reported afterwards) must not re-fire.
	fakeSess := sess.(*Session)
	fakeSess.SimulateCrash("process died")

	require.Len(t, reasons, 1)
	assert.Equal(t, "detach requested", reasons[0])
}

func TestScript_RPCAndLifecycle(t *testing.T) {
	d := NewDevice("emu-1")
	sess, err := d.Attach(context.Background(), 1234)
	require.NoError(t, err)

	script, err := sess.CreateScript(context.Background(), "module.exports={}")
	require.NoError(t, err)
	require.NoError(t, script.Load(context.Background()))

	reply, err := script.Call(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	_, err = script.Call(context.Background(), "getSnapshot")
	require.Error(t, err)

	var received map[string]any
	script.OnMessage(func(msg map[string]any, data []byte) { received = msg })
	fakeScript := script.(*Script)
	fakeScript.SendMessage(map[string]any{"type": "send"}, nil)
	assert.Equal(t, "send", received["type"])

	var destroyedReason string
	script.OnDestroyed(func(reason string) { destroyedReason = reason })
	require.NoError(t, script.Unload(context.Background()))
	assert.Equal(t, "unloaded", destroyedReason)
}
