package models

import "time"

// ========================================
// Subscriptions
// ========================================

// SubscriptionStatus is the canonical subscription state across platforms.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// BillingInterval is the renewal period of a subscription price.
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
	IntervalNone  BillingInterval = ""
)

// MonthlyFactor converts one period's price into a monthly amount.
// Unknown intervals contribute nothing to MRR.
func (i BillingInterval) MonthlyFactor() float64 {
	switch i {
	case IntervalDay:
		return 365.0 / 12.0
	case IntervalWeek:
		return 52.0 / 12.0
	case IntervalMonth:
		return 1
	case IntervalYear:
		return 1.0 / 12.0
	default:
		return 0
	}
}

// Subscription is the canonical subscription record, unique per (platform, external id).
type Subscription struct {
	ID           string             `json:"id"`
	AppID        string             `json:"app_id"`
	Platform     Platform           `json:"platform"`
	ExternalID   string             `json:"external_id"`
	Status       SubscriptionStatus `json:"status"`
	ProductID    string             `json:"product_id"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      *time.Time         `json:"end_date,omitempty"`
	IsTrial      bool               `json:"is_trial"`
	TrialEndDate *time.Time         `json:"trial_end_date,omitempty"`
	WillCancel   bool               `json:"will_cancel"`
	IsInGrace    bool               `json:"is_in_grace"`
	Amount       *float64           `json:"amount,omitempty"` // decimal units per interval
	Interval     BillingInterval    `json:"interval,omitempty"`
	Currency     string             `json:"currency,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// ActiveDuring reports whether the subscription's active interval overlaps [from, to).
func (s *Subscription) ActiveDuring(from, to time.Time) bool {
	if !s.StartDate.Before(to) {
		return false
	}
	if s.EndDate != nil && s.EndDate.Before(from) {
		return false
	}
	return true
}

// TrialAt reports whether the subscription was in its trial period at t.
func (s *Subscription) TrialAt(t time.Time) bool {
	if !s.IsTrial {
		return false
	}
	return s.TrialEndDate == nil || t.Before(*s.TrialEndDate)
}

// MonthlyAmount returns the price normalized to one month (0 without pricing).
func (s *Subscription) MonthlyAmount() float64 {
	if s.Amount == nil {
		return 0
	}
	return *s.Amount * s.Interval.MonthlyFactor()
}

// ========================================
// Revenue Events
// ========================================

// RevenueEventType classifies a money movement.
type RevenueEventType string

const (
	RevenueFirstPayment RevenueEventType = "first_payment"
	RevenueRenewal      RevenueEventType = "renewal"
	RevenueRefund       RevenueEventType = "refund"
)

// RevenueEvent is one transaction, unique per (platform, external id). Append-only.
type RevenueEvent struct {
	ID                     string           `json:"id"`
	AppID                  string           `json:"app_id"`
	Platform               Platform         `json:"platform"`
	ExternalID             string           `json:"external_id"`
	SubscriptionExternalID string           `json:"subscription_external_id,omitempty"`
	EventType              RevenueEventType `json:"event_type"`
	Amount                 float64          `json:"amount"` // gross, negative for refunds
	AmountExcludingTax     *float64         `json:"amount_excluding_tax,omitempty"`
	AmountProceeds         *float64         `json:"amount_proceeds,omitempty"` // after platform fees
	Currency               string           `json:"currency"`
	Timestamp              time.Time        `json:"timestamp"`
	CreatedAt              time.Time        `json:"created_at"`
}

// ========================================
// Subscription Events
// ========================================

// SubscriptionEventType classifies a non-monetary state transition.
type SubscriptionEventType string

const (
	SubscriptionEventCancellation SubscriptionEventType = "cancellation"
	SubscriptionEventGrace        SubscriptionEventType = "grace"
)

// SubscriptionEvent counts state transitions. Store reports only expose
// aggregated counts, so Quantity may exceed one and SubscriptionExternalID may be empty.
type SubscriptionEvent struct {
	ID                     string                `json:"id"`
	AppID                  string                `json:"app_id"`
	Platform               Platform              `json:"platform"`
	ExternalID             string                `json:"external_id"`
	SubscriptionExternalID string                `json:"subscription_external_id,omitempty"`
	EventType              SubscriptionEventType `json:"event_type"`
	Quantity               int                   `json:"quantity"`
	Timestamp              time.Time             `json:"timestamp"`
	CreatedAt              time.Time             `json:"created_at"`
}
