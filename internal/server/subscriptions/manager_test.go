package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, checker AncestryChecker) *Manager {
	t.Helper()
	m := NewManager(checker, discard())
	m.notifier.backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestRegisterValidation(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateSubscriptionRequest
	}{
		{"missing name", CreateSubscriptionRequest{WebSocket: true}},
		{"no delivery", CreateSubscriptionRequest{Name: "x"}},
		{"bad webhook", CreateSubscriptionRequest{Name: "x", Webhook: "not a url"}},
		{"bad event type", CreateSubscriptionRequest{Name: "x", WebSocket: true,
			Pattern: SubscriptionPattern{EventTypes: []string{"category.renamed"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(ctx, &tt.req)
			assert.ErrorIs(t, err, ErrInvalidSubscription)
		})
	}
	assert.Empty(t, m.List())
}

func TestSubscriptionLifecycle(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	first, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "first", WebSocket: true})
	require.NoError(t, err)
	assert.True(t, first.Enabled)
	time.Sleep(time.Millisecond)
	second, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "second", Webhook: "http://example.com/hook"})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	name := "renamed"
	disabled := false
	updated, err := m.Update(ctx, first.ID, &UpdateSubscriptionRequest{Name: &name, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)

	got, err := m.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, m.Unregister(ctx, first.ID))
	_, err = m.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Unregister(ctx, first.ID), ErrNotFound)
	_, err = m.Update(ctx, first.ID, &UpdateSubscriptionRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.RegisterWSClient(first.ID, &fakeConn{}), ErrNotFound)
}

func TestUpdateValidation(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "stream", WebSocket: true})
	require.NoError(t, err)

	badURL := "not a url"
	off := false
	tests := []struct {
		name string
		req  UpdateSubscriptionRequest
	}{
		{"bad webhook", UpdateSubscriptionRequest{Webhook: &badURL}},
		{"no delivery left", UpdateSubscriptionRequest{WebSocket: &off}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Update(ctx, sub.ID, &tt.req)
			assert.ErrorIs(t, err, ErrInvalidSubscription)
		})
	}

	// A rejected update leaves the subscription untouched
	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.True(t, got.WebSocket)
	assert.Equal(t, "stream", got.Name)
	assert.Equal(t, sub.Modified, got.Modified)

	// Switching channels in one request is fine
	hook := "http://example.com/hook"
	updated, err := m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Webhook: &hook, WebSocket: &off})
	require.NoError(t, err)
	assert.Equal(t, hook, updated.Webhook)
	assert.False(t, updated.WebSocket)
}

func TestEventsReachWebSocket(t *testing.T) {
	m := newManager(t, parents{2: 1})
	ctx := context.Background()

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{
		Name:      "under one",
		WebSocket: true,
		Pattern:   SubscriptionPattern{Under: ptr(1)},
	})
	require.NoError(t, err)
	conn := &fakeConn{}
	require.NoError(t, m.RegisterWSClient(sub.ID, conn))

	emit := m.GetEmitter()
	emit(Event{Type: EventCategoryCreated, CategoryID: 3, ParentID: ptr(2)})
	emit(Event{Type: EventCategoryCreated, CategoryID: 4})

	require.Eventually(t, func() bool { return len(conn.messages()) == 1 }, time.Second, 5*time.Millisecond)
	note := conn.messages()[0].(Notification)
	assert.Equal(t, int64(3), note.Event.CategoryID)
	assert.NotEmpty(t, note.Event.ID)
	assert.False(t, note.Event.Timestamp.IsZero())

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FireCount)
	assert.NotNil(t, got.LastFired)
}

func TestEventsReachWebhook(t *testing.T) {
	received := make(chan Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		if json.NewDecoder(r.Body).Decode(&n) == nil {
			received <- n
		}
	}))
	defer srv.Close()

	m := newManager(t, nil)
	_, err := m.Register(context.Background(), &CreateSubscriptionRequest{
		Name:    "deletes",
		Webhook: srv.URL,
		Pattern: SubscriptionPattern{EventTypes: []string{EventCategoryDeleted}},
	})
	require.NoError(t, err)

	m.EmitEvent(Event{Type: EventCategoryCreated, CategoryID: 1})
	m.EmitEvent(Event{Type: EventCategoryDeleted, CategoryID: 2})

	select {
	case n := <-received:
		assert.Equal(t, EventCategoryDeleted, n.Event.Type)
		assert.Equal(t, int64(2), n.Event.CategoryID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestDisabledSubscriptionDoesNotFire(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{Name: "quiet", WebSocket: true})
	require.NoError(t, err)
	conn := &fakeConn{}
	require.NoError(t, m.RegisterWSClient(sub.ID, conn))
	off := false
	_, err = m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Enabled: &off})
	require.NoError(t, err)

	m.EmitEvent(Event{Type: EventCategoryCreated, CategoryID: 1})
	m.Stop()

	assert.Empty(t, conn.messages())
}
