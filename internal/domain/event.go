package domain

import "time"

// Lifecycle event channels published on the SignalBus.
const (
	ChannelMarketCreated   = "market:created"
	ChannelMarketResolved  = "market:resolved"
	ChannelMarketDisclosed = "market:disclosed"
)

// EventType names a lifecycle event. The values double as audit and
// notification event names.
type EventType string

const (
	EventMarketCreated     EventType = "market_created"
	EventMarketResolved    EventType = "market_resolved"
	EventCriteriaDisclosed EventType = "criteria_disclosed"
	EventMarketOrphaned    EventType = "market_orphaned"
	EventReconcileSweep    EventType = "reconcile_sweep"
)

// LifecycleEvent is the JSON payload published for market lifecycle changes.
// It never carries criteria plaintext or key material.
type LifecycleEvent struct {
	Type     EventType `json:"type"`
	MarketID string    `json:"market_id"`
	Hash     string    `json:"hash,omitempty"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	At       time.Time `json:"at"`
}
