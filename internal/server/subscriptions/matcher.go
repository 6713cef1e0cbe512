package subscriptions

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// AncestryChecker answers ancestor queries against the live forest
type AncestryChecker interface {
	IsAncestor(ctx context.Context, ancestor, descendant int64) (bool, error)
}

// Matcher evaluates events against subscription patterns
type Matcher struct {
	checker AncestryChecker
	logger  *slog.Logger
}

// NewMatcher creates a new pattern matcher. checker may be nil, in which
// case Under only matches the named category and its direct children.
func NewMatcher(checker AncestryChecker, logger *slog.Logger) *Matcher {
	return &Matcher{checker: checker, logger: logger}
}

// Match evaluates if an event matches a subscription pattern
func (m *Matcher) Match(ctx context.Context, event Event, pattern SubscriptionPattern) bool {
	// First check simple patterns (fast, no store access)
	if !m.matchSimple(event, pattern) {
		return false
	}

	if pattern.Under != nil {
		return m.matchUnder(ctx, event, *pattern.Under)
	}
	return true
}

// matchSimple evaluates the criteria that only need the event itself
func (m *Matcher) matchSimple(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !slices.Contains(pattern.EventTypes, event.Type) {
		return false
	}
	if len(pattern.CategoryIDs) > 0 && !slices.Contains(pattern.CategoryIDs, event.CategoryID) {
		return false
	}
	if pattern.NameMatch != "" &&
		!strings.Contains(strings.ToLower(event.Name), strings.ToLower(pattern.NameMatch)) {
		return false
	}
	return true
}

// matchUnder reports whether the event touched root or its subtree, before
// or after the change.
func (m *Matcher) matchUnder(ctx context.Context, event Event, root int64) bool {
	if event.CategoryID == root {
		return true
	}
	for _, p := range []*int64{event.ParentID, event.OldParentID} {
		if p == nil {
			continue
		}
		if *p == root {
			return true
		}
		if m.checker == nil {
			continue
		}
		ok, err := m.checker.IsAncestor(ctx, root, *p)
		if err != nil {
			m.logger.Warn("ancestry check failed",
				slog.Int64("root", root),
				slog.Int64("category_id", *p),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
