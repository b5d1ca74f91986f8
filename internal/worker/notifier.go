// Package worker provides async consumers of detection run events.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Notifier listens for fresh alert sets on the event bus and surfaces
// high-risk batches to the operational log. It is the attachment point
// for downstream alerting integrations.
type Notifier struct {
	bus domain.EventBus

	// minRisk is the risk score below which alert batches are ignored.
	minRisk int

	mu            sync.Mutex
	subscriptions []domain.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNotifier creates a notifier that reacts to alert batches with max
// risk at or above minRisk.
func NewNotifier(bus domain.EventBus, minRisk int) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		bus:     bus,
		minRisk: minRisk,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the detection topics.
func (n *Notifier) Start() error {
	alertsSub, err := n.bus.Subscribe(n.ctx, domain.TopicAlertsRaised, n.handleAlertsRaised)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alerts topic: %w", err)
	}

	runSub, err := n.bus.Subscribe(n.ctx, domain.TopicRunCompleted, n.handleRunCompleted)
	if err != nil {
		_ = alertsSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to run topic: %w", err)
	}

	n.mu.Lock()
	n.subscriptions = append(n.subscriptions, alertsSub, runSub)
	n.mu.Unlock()

	slog.Info("alert notifier started", "min_risk", n.minRisk)
	return nil
}

// Stop unsubscribes and halts message handling.
func (n *Notifier) Stop() {
	n.cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subscriptions {
		_ = sub.Unsubscribe()
	}
	n.subscriptions = nil

	slog.Info("alert notifier stopped")
}

func (n *Notifier) handleAlertsRaised(ctx context.Context, msg *domain.Message) error {
	var event domain.AlertsRaisedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode alerts event: %w", err)
	}

	if event.MaxRisk < n.minRisk {
		slog.Debug("alert batch below notification threshold",
			"source", event.Source,
			"alerts", event.AlertCount,
			"max_risk", event.MaxRisk,
		)
		return nil
	}

	slog.Warn("high-risk alert batch raised",
		"source", event.Source,
		"rule", event.RuleName,
		"alerts", event.AlertCount,
		"max_risk", event.MaxRisk,
	)
	return nil
}

func (n *Notifier) handleRunCompleted(ctx context.Context, msg *domain.Message) error {
	slog.Info("detection run completed", "report_bytes", len(msg.Payload))
	return nil
}
