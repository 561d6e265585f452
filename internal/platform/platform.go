// Package platform defines the contract shared by the billing platform fetch
// adapters and the raw record shapes they hand to the normalizer.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// Credentials is the decoded, validated credential payload of one connection.
// Each adapter package defines its own concrete type.
type Credentials interface {
	Platform() models.Platform
}

// Adapter fetches one platform's data for a time window.
type Adapter interface {
	Platform() models.Platform
	// ChunkSize is the span fetched and persisted at a time. 0 fetches the
	// whole window at once.
	ChunkSize() time.Duration
	// NewCredentials returns an empty credentials value for decoding.
	NewCredentials() Credentials
	// Fetch returns the records for window. A non-nil error may come with a
	// partial result.
	Fetch(ctx context.Context, creds Credentials, window Window, counters *Counters) (*Result, error)
}

// RawSubscription is a provider subscription converted to canonical fields.
type RawSubscription struct {
	ExternalID   string                    `validate:"required"`
	Status       models.SubscriptionStatus `validate:"oneof=active trialing past_due canceled"`
	ProductID    string
	StartDate    time.Time `validate:"required"`
	EndDate      *time.Time
	IsTrial      bool
	TrialEndDate *time.Time
	WillCancel   bool
	IsInGrace    bool
	Amount       *float64 `validate:"omitempty,gte=0"`
	Interval     models.BillingInterval `validate:"omitempty,oneof=day week month year"`
	Currency     string                 `validate:"omitempty,len=3"`
}

// RawRevenueEvent is a provider money movement in decimal units.
type RawRevenueEvent struct {
	ExternalID             string                  `validate:"required"`
	SubscriptionExternalID string
	Type                   models.RevenueEventType `validate:"oneof=first_payment renewal refund"`
	Amount                 float64
	AmountExcludingTax     *float64
	AmountProceeds         *float64
	Currency               string    `validate:"omitempty,len=3"`
	Timestamp              time.Time `validate:"required"`
}

// RawSubscriptionEvent is a provider state transition count.
type RawSubscriptionEvent struct {
	ExternalID             string                       `validate:"required"`
	SubscriptionExternalID string
	Type                   models.SubscriptionEventType `validate:"oneof=cancellation grace"`
	Quantity               int                          `validate:"gte=1"`
	Timestamp              time.Time                    `validate:"required"`
}

// Result is what an adapter gathered for one window.
type Result struct {
	Subscriptions      []RawSubscription
	RevenueEvents      []RawRevenueEvent
	SubscriptionEvents []RawSubscriptionEvent
	Skipped            int
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a record or credentials value against its struct tags.
func Validate(v any) error {
	return recordValidator().Struct(v)
}

// AddSubscription appends s when it is valid; otherwise it counts a skip.
func (r *Result) AddSubscription(p models.Platform, s RawSubscription, counters *Counters) {
	if err := Validate(s); err != nil {
		r.skip(p, "subscription", s.ExternalID, err, counters)
		return
	}
	r.Subscriptions = append(r.Subscriptions, s)
}

// AddRevenueEvent appends e when it is valid; otherwise it counts a skip.
// Refund amounts are forced negative.
func (r *Result) AddRevenueEvent(p models.Platform, e RawRevenueEvent, counters *Counters) {
	if err := Validate(e); err != nil {
		r.skip(p, "revenue_event", e.ExternalID, err, counters)
		return
	}
	if e.Type == models.RevenueRefund {
		e.Amount = -abs(e.Amount)
		if e.AmountProceeds != nil {
			v := -abs(*e.AmountProceeds)
			e.AmountProceeds = &v
		}
		if e.AmountExcludingTax != nil {
			v := -abs(*e.AmountExcludingTax)
			e.AmountExcludingTax = &v
		}
	}
	r.RevenueEvents = append(r.RevenueEvents, e)
}

// AddSubscriptionEvent appends e when it is valid; otherwise it counts a skip.
func (r *Result) AddSubscriptionEvent(p models.Platform, e RawSubscriptionEvent, counters *Counters) {
	if err := Validate(e); err != nil {
		r.skip(p, "subscription_event", e.ExternalID, err, counters)
		return
	}
	r.SubscriptionEvents = append(r.SubscriptionEvents, e)
}

// Merge appends other's records to r.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Subscriptions = append(r.Subscriptions, other.Subscriptions...)
	r.RevenueEvents = append(r.RevenueEvents, other.RevenueEvents...)
	r.SubscriptionEvents = append(r.SubscriptionEvents, other.SubscriptionEvents...)
	r.Skipped += other.Skipped
}

// Empty reports whether r carries no records.
func (r *Result) Empty() bool {
	return len(r.Subscriptions) == 0 && len(r.RevenueEvents) == 0 && len(r.SubscriptionEvents) == 0
}

func (r *Result) skip(p models.Platform, kind, id string, err error, counters *Counters) {
	r.Skipped++
	counters.Inc("invalid_" + kind)
	counters.Note(fmt.Sprintf("%s %s %q rejected: %v", p, kind, id, err))
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
