package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WSConn is an interface for WebSocket connections
// This allows us to avoid importing gorilla/websocket in the types
type WSConn interface {
	WriteJSON(v any) error
	Close() error
}

// Notifier handles sending notifications via webhooks and WebSockets
type Notifier struct {
	httpClient *http.Client
	wsClients  map[string]WSConn // subscription_id -> connection
	attempts   int
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewNotifier creates a new notifier
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		wsClients: make(map[string]WSConn),
		attempts:  3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		logger: logger,
	}
}

// Close closes all WebSocket connections
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, conn := range n.wsClients {
		conn.Close()
	}
	n.wsClients = make(map[string]WSConn)
}

// RegisterWSClient registers a WebSocket connection for a subscription
func (n *Notifier) RegisterWSClient(subID string, conn WSConn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Close existing connection if any
	if existing, ok := n.wsClients[subID]; ok {
		existing.Close()
	}

	n.wsClients[subID] = conn
	n.logger.Info("websocket client registered", slog.String("subscription_id", subID))
}

// UnregisterWSClient closes conn and removes it if it is still the one
// registered for subID. A nil conn removes whichever connection is
// registered.
func (n *Notifier) UnregisterWSClient(subID string, conn WSConn) {
	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.wsClients[subID]
	if ok && (conn == nil || current == conn) {
		current.Close()
		delete(n.wsClients, subID)
		n.logger.Info("websocket client unregistered", slog.String("subscription_id", subID))
		return
	}
	if conn != nil {
		conn.Close()
	}
}

// SendWebhook POSTs a notification, retrying with quadratic backoff
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Cattree-Event", notification.Event.Type)
		req.Header.Set("X-Cattree-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("webhook delivery failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Debug("webhook delivered", slog.String("url", url))
			return nil
		}

		lastErr = &WebhookError{URL: url, StatusCode: resp.StatusCode}
		n.logger.Warn("webhook rejected",
			slog.Int("attempt", attempt+1),
			slog.Int("status", resp.StatusCode),
		)
	}

	n.logger.Error("webhook delivery gave up",
		slog.String("url", url),
		slog.Int("attempts", n.attempts),
		slog.String("error", lastErr.Error()),
	)
	return lastErr
}

// SendWebSocket sends a notification via WebSocket
func (n *Notifier) SendWebSocket(subID string, notification Notification) error {
	n.mu.RLock()
	conn, ok := n.wsClients[subID]
	n.mu.RUnlock()

	if !ok {
		// No active WebSocket connection, not an error
		return nil
	}

	if err := conn.WriteJSON(notification); err != nil {
		n.logger.Warn("websocket send failed",
			slog.String("subscription_id", subID),
			slog.String("error", err.Error()),
		)
		// Remove failed connection
		n.UnregisterWSClient(subID, conn)
		return err
	}
	return nil
}

// HasWSClient checks if a subscription has an active WebSocket client
func (n *Notifier) HasWSClient(subID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.wsClients[subID]
	return ok
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery failed: %s returned %d", e.URL, e.StatusCode)
}
