package subscriptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Subscribe("s1", "res://a"), "first subscribe adds")
	assert.False(t, r.Subscribe("s1", "res://a"), "second subscribe is a no-op")
	assert.True(t, r.IsSubscribed("s1", "res://a"))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("s1", "res://a")

	assert.True(t, r.Unsubscribe("s1", "res://a"))
	assert.False(t, r.Unsubscribe("s1", "res://a"), "removing twice is a no-op")
	assert.False(t, r.Unsubscribe("s2", "res://a"), "unknown session never fails")
	assert.False(t, r.IsSubscribed("s1", "res://a"))
}

func TestClearSession(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("s1", "res://a")
	r.Subscribe("s1", "res://b")
	r.Subscribe("s2", "res://a")

	assert.Equal(t, 2, r.ClearSession("s1"))
	assert.Equal(t, 0, r.ClearSession("s1"), "second clear removes nothing")
	assert.False(t, r.IsSubscribed("s1", "res://a"))
	assert.True(t, r.IsSubscribed("s2", "res://a"), "other sessions unaffected")
}

func TestSubscribedSessionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("s1", "res://a")
	r.Subscribe("s2", "res://a")
	r.Subscribe("s3", "res://b")

	got := r.SubscribedSessions("res://a")
	assert.ElementsMatch(t, []string{"s1", "s2"}, got)

	// Mutating the registry must not affect the returned snapshot.
	r.ClearSession("s1")
	assert.ElementsMatch(t, []string{"s1", "s2"}, got)

	assert.Empty(t, r.SubscribedSessions("res://missing"))
}
