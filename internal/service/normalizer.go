package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// NormalizeResult counts what one normalization pass wrote.
type NormalizeResult struct {
	SubscriptionsUpserted int `json:"subscriptionsUpserted"`
	RevenueInserted       int `json:"revenueInserted"`
	RevenueDuplicate      int `json:"revenueDuplicate"`
	EventsInserted        int `json:"eventsInserted"`
	Dropped               int `json:"dropped"`
}

// Normalizer maps adapter output onto canonical records and persists them.
type Normalizer struct {
	billing repository.BillingRepository
}

// NewNormalizer creates a normalizer writing through billing.
func NewNormalizer(billing repository.BillingRepository) *Normalizer {
	return &Normalizer{billing: billing}
}

// statusAliases maps provider spellings onto the canonical statuses.
var statusAliases = map[string]models.SubscriptionStatus{
	"active":             models.SubscriptionStatusActive,
	"trialing":           models.SubscriptionStatusTrialing,
	"trial":              models.SubscriptionStatusTrialing,
	"in_trial":           models.SubscriptionStatusTrialing,
	"past_due":           models.SubscriptionStatusPastDue,
	"unpaid":             models.SubscriptionStatusPastDue,
	"in_grace":           models.SubscriptionStatusPastDue,
	"billing_retry":      models.SubscriptionStatusPastDue,
	"canceled":           models.SubscriptionStatusCanceled,
	"cancelled":          models.SubscriptionStatusCanceled,
	"expired":            models.SubscriptionStatusCanceled,
	"incomplete_expired": models.SubscriptionStatusCanceled,
}

// NormalizeStatus maps a status string onto the canonical enum.
func NormalizeStatus(s string) (models.SubscriptionStatus, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	st, ok := statusAliases[key]
	return st, ok
}

// Normalize converts one chunk's raw records and persists them for appID.
// Subscriptions are written before the events that reference them and
// events are only inserted when their external id is new.
func (n *Normalizer) Normalize(ctx context.Context, appID string, p models.Platform, raw *platform.Result) (*NormalizeResult, error) {
	batch, dropped := BuildBatch(appID, p, raw)
	if len(batch.Subscriptions) == 0 && len(batch.RevenueEvents) == 0 && len(batch.SubscriptionEvents) == 0 {
		return &NormalizeResult{Dropped: dropped}, nil
	}

	saved, err := n.billing.SaveBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to persist %s batch: %w", p, err)
	}
	return &NormalizeResult{
		SubscriptionsUpserted: saved.SubscriptionsUpserted,
		RevenueInserted:       saved.RevenueInserted,
		RevenueDuplicate:      saved.RevenueDuplicates,
		EventsInserted:        saved.SubscriptionEventsAdded,
		Dropped:               dropped,
	}, nil
}

// BuildBatch converts raw records into canonical models without persisting
// them. Records whose status cannot be mapped are dropped and counted.
// Duplicate external ids within one batch keep the last subscription and the
// first event.
func BuildBatch(appID string, p models.Platform, raw *platform.Result) (*repository.BillingBatch, int) {
	batch := &repository.BillingBatch{AppID: appID, Platform: p}
	if raw == nil {
		return batch, 0
	}
	dropped := 0

	subIndex := make(map[string]int, len(raw.Subscriptions))
	for _, rs := range raw.Subscriptions {
		status, ok := NormalizeStatus(string(rs.Status))
		if !ok {
			dropped++
			continue
		}
		sub := &models.Subscription{
			AppID:        appID,
			Platform:     p,
			ExternalID:   rs.ExternalID,
			Status:       status,
			ProductID:    rs.ProductID,
			StartDate:    rs.StartDate.UTC(),
			EndDate:      utcPtr(rs.EndDate),
			IsTrial:      rs.IsTrial || status == models.SubscriptionStatusTrialing,
			TrialEndDate: utcPtr(rs.TrialEndDate),
			WillCancel:   rs.WillCancel,
			IsInGrace:    rs.IsInGrace || status == models.SubscriptionStatusPastDue,
			Amount:       rs.Amount,
			Interval:     rs.Interval,
			Currency:     strings.ToLower(rs.Currency),
		}
		if i, seen := subIndex[rs.ExternalID]; seen {
			batch.Subscriptions[i] = sub
			continue
		}
		subIndex[rs.ExternalID] = len(batch.Subscriptions)
		batch.Subscriptions = append(batch.Subscriptions, sub)
	}

	seenRevenue := make(map[string]bool, len(raw.RevenueEvents))
	for _, re := range raw.RevenueEvents {
		if seenRevenue[re.ExternalID] {
			continue
		}
		seenRevenue[re.ExternalID] = true
		batch.RevenueEvents = append(batch.RevenueEvents, &models.RevenueEvent{
			AppID:                  appID,
			Platform:               p,
			ExternalID:             re.ExternalID,
			SubscriptionExternalID: re.SubscriptionExternalID,
			EventType:              re.Type,
			Amount:                 re.Amount,
			AmountExcludingTax:     re.AmountExcludingTax,
			AmountProceeds:         re.AmountProceeds,
			Currency:               strings.ToLower(re.Currency),
			Timestamp:              re.Timestamp.UTC(),
		})
	}

	seenEvents := make(map[string]bool, len(raw.SubscriptionEvents))
	for _, se := range raw.SubscriptionEvents {
		if seenEvents[se.ExternalID] {
			continue
		}
		seenEvents[se.ExternalID] = true
		batch.SubscriptionEvents = append(batch.SubscriptionEvents, &models.SubscriptionEvent{
			AppID:                  appID,
			Platform:               p,
			ExternalID:             se.ExternalID,
			SubscriptionExternalID: se.SubscriptionExternalID,
			EventType:              se.Type,
			Quantity:               se.Quantity,
			Timestamp:              se.Timestamp.UTC(),
		})
	}

	return batch, dropped
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
