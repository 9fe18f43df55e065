package sharedstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVisibleAcrossHandles(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	require.NoError(t, a.Set("k", "v1"))

	got, ok := b.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	require.NoError(t, b.Delete("k"))
	_, ok = a.Get("k")
	assert.False(t, ok)
}

func TestMemoryNotifiesOtherContextsOnly(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	var aSeen, bSeen []string
	a.OnChange("k", func(v string, ok bool) { aSeen = append(aSeen, v) })
	b.OnChange("k", func(v string, ok bool) { bSeen = append(bSeen, v) })

	require.NoError(t, a.Set("k", "from-a"))
	assert.Empty(t, aSeen, "writer must not observe its own change")
	assert.Equal(t, []string{"from-a"}, bSeen)

	require.NoError(t, b.Set("k", "from-b"))
	assert.Equal(t, []string{"from-b"}, aSeen)
	assert.Equal(t, []string{"from-a"}, bSeen)
}

func TestMemoryNotificationSeesNewValue(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	var read string
	b.OnChange("k", func(v string, ok bool) {
		// The write must be visible before the notification fires.
		read, _ = b.Get("k")
	})

	require.NoError(t, a.Set("k", "committed"))
	assert.Equal(t, "committed", read)
}

func TestMemoryDeleteNotification(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	require.NoError(t, a.Set("k", "v"))

	deleted := false
	b.OnChange("k", func(v string, ok bool) { deleted = !ok })
	require.NoError(t, a.Delete("k"))
	assert.True(t, deleted)

	// Deleting a missing key notifies nobody.
	deleted = false
	require.NoError(t, a.Delete("k"))
	assert.False(t, deleted)
}

func TestMemoryUnsubscribe(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	calls := 0
	off := b.OnChange("k", func(v string, ok bool) { calls++ })

	require.NoError(t, a.Set("k", "1"))
	off()
	require.NoError(t, a.Set("k", "2"))
	assert.Equal(t, 1, calls)
}

func TestMemoryClosedHandleStopsReceiving(t *testing.T) {
	hub := NewShared()
	a := hub.Attach()
	b := hub.Attach()

	calls := 0
	b.OnChange("k", func(v string, ok bool) { calls++ })
	require.NoError(t, b.Close())

	require.NoError(t, a.Set("k", "v"))
	assert.Equal(t, 0, calls)

	// Values survive a handle closing.
	got, ok := a.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}
