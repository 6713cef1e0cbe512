package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "cattree",
	Name:      "events_dropped_total",
	Help:      "Category events dropped because the subscription queue was full",
})

// EventEmitter is a function that receives events after a commit
type EventEmitter func(Event)

// Manager handles subscription lifecycle and event processing.
// Subscriptions live in memory for the lifetime of the process.
type Manager struct {
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	matcher       *Matcher
	validate      *validator.Validate
	logger        *slog.Logger
	mu            sync.RWMutex
	emitMu        sync.RWMutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewManager creates a new subscription manager. checker resolves Under
// patterns and may be nil.
func NewManager(checker AncestryChecker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan Event, 1000), // Buffered to avoid blocking writes
		notifier:      NewNotifier(logger),
		matcher:       NewMatcher(checker, logger),
		validate:      validator.New(),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing events
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.processEvents()

	m.logger.Info("subscription manager started")
	return nil
}

// Stop drains queued events and shuts down the manager
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.emitMu.Lock()
		m.closed = true
		close(m.eventChan)
		m.emitMu.Unlock()

		m.wg.Wait()
		m.cancel()
		m.notifier.Close()
		m.logger.Info("subscription manager stopped")
	})
}

// EmitEvent queues an event without blocking. Events are dropped when the
// queue is full or the manager has stopped.
func (m *Manager) EmitEvent(event Event) {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if m.closed {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case m.eventChan <- event:
	default:
		eventsDropped.Inc()
		m.logger.Warn("event channel full, dropping event",
			slog.String("event_id", event.ID),
			slog.String("type", event.Type),
		)
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}
	if err := checkDelivery(req.Webhook, req.WebSocket); err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		WebSocket:   req.WebSocket,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	out := *sub
	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("registered subscription",
		slog.String("subscription_id", out.ID),
		slog.String("name", out.Name),
	)
	return &out, nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.subscriptions, id)

	// Clean up any WebSocket connections
	m.notifier.UnregisterWSClient(id, nil)

	m.logger.Info("unregistered subscription", slog.String("subscription_id", id))
	return nil
}

// Update modifies an existing subscription. The change is applied to a copy
// and stored only if the result can still deliver.
func (m *Manager) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubscription, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sub := *current
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Pattern != nil {
		sub.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		sub.Webhook = *req.Webhook
	}
	if req.WebSocket != nil {
		sub.WebSocket = *req.WebSocket
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	if err := checkDelivery(sub.Webhook, sub.WebSocket); err != nil {
		return nil, err
	}
	sub.Modified = time.Now()
	m.subscriptions[id] = &sub

	out := sub
	return &out, nil
}

func checkDelivery(webhook string, websocket bool) error {
	if webhook == "" && !websocket {
		return fmt.Errorf("%w: needs a webhook URL or websocket enabled", ErrInvalidSubscription)
	}
	return nil
}

// Get returns a copy of a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *sub
	return &out, nil
}

// List returns copies of all subscriptions, oldest first
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out := *sub
		result = append(result, &out)
	}
	slices.SortFunc(result, func(a, b *Subscription) int {
		return a.Created.Compare(b.Created)
	})
	return result
}

// RegisterWSClient registers a WebSocket connection for a subscription
func (m *Manager) RegisterWSClient(subID string, conn WSConn) error {
	m.mu.RLock()
	_, exists := m.subscriptions[subID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, subID)
	}

	m.notifier.RegisterWSClient(subID, conn)
	return nil
}

// UnregisterWSClient removes conn unless a newer connection has replaced it
func (m *Manager) UnregisterWSClient(subID string, conn WSConn) {
	m.notifier.UnregisterWSClient(subID, conn)
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

// handleEvent processes a single event against all subscriptions
func (m *Manager) handleEvent(event Event) {
	m.mu.RLock()
	subs := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.Enabled {
			subs = append(subs, *sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		m.evaluateSubscription(event, sub)
	}
}

// evaluateSubscription checks if an event matches a subscription and fires
// its notifications
func (m *Manager) evaluateSubscription(event Event, sub Subscription) {
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	if !m.matcher.Match(ctx, event, sub.Pattern) {
		return
	}

	now := time.Now()
	notification := Notification{
		SubscriptionID:   sub.ID,
		SubscriptionName: sub.Name,
		Event:            event,
		MatchedAt:        now,
	}

	// Update subscription state
	m.mu.Lock()
	if s, exists := m.subscriptions[sub.ID]; exists {
		s.LastFired = &now
		s.FireCount++
	}
	m.mu.Unlock()

	// Webhooks retry with backoff, so they run off the event loop
	if sub.Webhook != "" {
		go m.notifier.SendWebhook(m.ctx, sub.Webhook, notification)
	}
	if sub.WebSocket {
		m.notifier.SendWebSocket(sub.ID, notification)
	}

	m.logger.Debug("subscription fired",
		slog.String("subscription_id", sub.ID),
		slog.String("event_type", event.Type),
		slog.Int64("category_id", event.CategoryID),
	)
}
