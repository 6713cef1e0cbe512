package subscriptions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// parents is an AncestryChecker over a fixed child -> parent map.
type parents map[int64]int64

func (p parents) IsAncestor(_ context.Context, a, d int64) (bool, error) {
	for {
		up, ok := p[d]
		if !ok {
			return false, nil
		}
		if up == a {
			return true, nil
		}
		d = up
	}
}

type failingChecker struct{}

func (failingChecker) IsAncestor(context.Context, int64, int64) (bool, error) {
	return false, errors.New("store down")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v int64) *int64 { return &v }

func TestMatchSimple(t *testing.T) {
	m := NewMatcher(nil, discard())
	ev := Event{Type: EventCategoryCreated, CategoryID: 7, Name: "Outdoor Gear"}

	tests := []struct {
		name    string
		pattern SubscriptionPattern
		want    bool
	}{
		{"empty pattern", SubscriptionPattern{}, true},
		{"type hit", SubscriptionPattern{EventTypes: []string{EventCategoryDeleted, EventCategoryCreated}}, true},
		{"type miss", SubscriptionPattern{EventTypes: []string{EventCategoryMoved}}, false},
		{"id hit", SubscriptionPattern{CategoryIDs: []int64{3, 7}}, true},
		{"id miss", SubscriptionPattern{CategoryIDs: []int64{3}}, false},
		{"name case-insensitive", SubscriptionPattern{NameMatch: "gear"}, true},
		{"name miss", SubscriptionPattern{NameMatch: "books"}, false},
		{"all criteria", SubscriptionPattern{EventTypes: []string{EventCategoryCreated}, CategoryIDs: []int64{7}, NameMatch: "OUT"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(context.Background(), ev, tt.pattern))
		})
	}
}

func TestMatchUnder(t *testing.T) {
	// 1 -> 2 -> 3, 4 is a separate root
	m := NewMatcher(parents{2: 1, 3: 2}, discard())
	ctx := context.Background()

	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"the root itself", Event{CategoryID: 1}, true},
		{"direct child created", Event{CategoryID: 5, ParentID: ptr(1)}, true},
		{"grandchild created", Event{CategoryID: 5, ParentID: ptr(3)}, true},
		{"moved out of the subtree", Event{CategoryID: 5, ParentID: ptr(4), OldParentID: ptr(2)}, true},
		{"moved into the subtree", Event{CategoryID: 5, ParentID: ptr(2), OldParentID: ptr(4)}, true},
		{"unrelated root", Event{CategoryID: 4}, false},
		{"unrelated child", Event{CategoryID: 6, ParentID: ptr(4)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(ctx, tt.ev, SubscriptionPattern{Under: ptr(1)}))
		})
	}
}

func TestMatchUnderWithoutChecker(t *testing.T) {
	m := NewMatcher(nil, discard())
	ctx := context.Background()
	under := SubscriptionPattern{Under: ptr(1)}

	assert.True(t, m.Match(ctx, Event{CategoryID: 5, ParentID: ptr(1)}, under))
	assert.False(t, m.Match(ctx, Event{CategoryID: 5, ParentID: ptr(3)}, under))
}

func TestMatchUnderCheckerError(t *testing.T) {
	m := NewMatcher(failingChecker{}, discard())
	assert.False(t, m.Match(context.Background(), Event{CategoryID: 5, ParentID: ptr(3)}, SubscriptionPattern{Under: ptr(1)}))
}
