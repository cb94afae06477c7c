package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/store"
)

// DenyReason explains why the enrichment gate refused a call.
type DenyReason string

const (
	ReasonDailyLimit  DenyReason = "daily_limit"
	ReasonCircuitOpen DenyReason = "circuit_open"
)

// GateDecision is the outcome of one admission check.
type GateDecision struct {
	Allowed bool
	Reason  DenyReason
}

// LedgerConfig holds the quota and circuit breaker limits.
type LedgerConfig struct {
	DailyLimit           int
	MaxConsecutiveErrors int
	Cooldown             time.Duration
}

// UsageLedger guards enrichment calls with a per-user daily quota and a
// circuit breaker. All state lives in the per-(user, day) usage document and is
// only touched inside store transactions.
type UsageLedger struct {
	store  store.Store
	config LedgerConfig
	now    func() time.Time
}

// NewUsageLedger creates a ledger. now defaults to time.Now.
func NewUsageLedger(s store.Store, config LedgerConfig, now func() time.Time) *UsageLedger {
	if now == nil {
		now = time.Now
	}
	return &UsageLedger{store: s, config: config, now: now}
}

// DateKey is the UTC calendar day a usage document is keyed by.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Admit checks the gate and, when the call is allowed, counts it in the same
// transaction. Refusals leave the ledger untouched.
func (l *UsageLedger) Admit(ctx context.Context, uid string) (GateDecision, error) {
	now := l.now()
	dateKey := DateKey(now)

	var decision GateDecision
	err := l.store.UpdateUsage(ctx, uid, dateKey, func(rec *models.UsageRecord, exists bool) (bool, error) {
		switch {
		case rec.CircuitOpenAt(now):
			decision = GateDecision{Reason: ReasonCircuitOpen}
			return false, nil
		case rec.Calls >= l.config.DailyLimit:
			decision = GateDecision{Reason: ReasonDailyLimit}
			return false, nil
		}
		rec.DateKey = dateKey
		rec.Calls++
		rec.LastCallAt = now
		decision = GateDecision{Allowed: true}
		return true, nil
	})
	if err != nil {
		return GateDecision{}, fmt.Errorf("failed to check enrichment quota: %w", err)
	}
	return decision, nil
}

// RecordError counts a failed enrichment. Reaching the consecutive error limit
// opens the circuit for the cooldown and resets the counter. Errors reported
// while the circuit is already open are dropped. It reports whether this call
// opened the circuit.
func (l *UsageLedger) RecordError(ctx context.Context, uid string) (bool, error) {
	now := l.now()
	dateKey := DateKey(now)

	opened := false
	err := l.store.UpdateUsage(ctx, uid, dateKey, func(rec *models.UsageRecord, exists bool) (bool, error) {
		opened = false
		if rec.CircuitOpenAt(now) {
			return false, nil
		}
		rec.DateKey = dateKey
		rec.Errors++
		rec.LastErrorAt = now
		if rec.Errors >= l.config.MaxConsecutiveErrors {
			until := now.Add(l.config.Cooldown)
			rec.CircuitOpenUntil = &until
			rec.Errors = 0
			opened = true
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record enrichment error: %w", err)
	}
	return opened, nil
}

// RecordSuccess clears the consecutive error counter.
func (l *UsageLedger) RecordSuccess(ctx context.Context, uid string) error {
	now := l.now()
	err := l.store.UpdateUsage(ctx, uid, DateKey(now), func(rec *models.UsageRecord, exists bool) (bool, error) {
		if !exists || rec.Errors == 0 {
			return false, nil
		}
		rec.Errors = 0
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to record enrichment success: %w", err)
	}
	return nil
}
