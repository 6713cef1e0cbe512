package subscriptions

import (
	"errors"
	"time"
)

// Event represents a committed change to the category forest
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // category.created, category.deleted, category.moved, category.subtree_moved
	Timestamp time.Time `json:"timestamp"`
	Index     string    `json:"index"`

	CategoryID int64  `json:"category_id"`
	Name       string `json:"name,omitempty"`
	Slug       string `json:"slug,omitempty"`

	// ParentID is the parent after the change. For a deletion it is the
	// parent the children were promoted to.
	ParentID    *int64 `json:"parent_id,omitempty"`
	OldParentID *int64 `json:"old_parent_id,omitempty"`
}

// Event type constants
const (
	EventCategoryCreated      = "category.created"
	EventCategoryDeleted      = "category.deleted"
	EventCategoryMoved        = "category.moved"
	EventCategorySubtreeMoved = "category.subtree_moved"
)

var (
	// ErrNotFound is returned for an unknown subscription id.
	ErrNotFound = errors.New("subscription not found")
	// ErrInvalidSubscription is returned when a request fails validation or
	// would leave a subscription with no delivery channel.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// SubscriptionPattern defines what events a subscription matches. Empty
// fields match everything.
type SubscriptionPattern struct {
	EventTypes  []string `json:"event_types,omitempty" validate:"dive,oneof=category.created category.deleted category.moved category.subtree_moved"`
	CategoryIDs []int64  `json:"category_ids,omitempty"`
	NameMatch   string   `json:"name_match,omitempty"` // case-insensitive substring of the category name

	// Under matches changes to the category itself or anywhere below it,
	// checked against the live forest.
	Under *int64 `json:"under,omitempty"`
}

// Subscription represents a standing watch that fires when its pattern
// matches
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// What to match
	Pattern SubscriptionPattern `json:"pattern"`

	// How to notify
	Webhook   string `json:"webhook,omitempty"`   // URL to POST notifications
	WebSocket bool   `json:"websocket,omitempty"` // Push via WebSocket connection

	// State
	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook,omitempty" validate:"omitempty,url"`
	WebSocket   bool                `json:"websocket,omitempty"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty" validate:"omitempty,url"`
	WebSocket   *bool                `json:"websocket,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// SubscriptionResponse is the API response for subscription operations
type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
