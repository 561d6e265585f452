package stripe

import (
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v78"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

const billingReasonSubscriptionCreate = "subscription_create"

// mapStatus folds Stripe subscription statuses onto the canonical set. The
// second return is false for statuses that never became a subscription.
func mapStatus(s stripego.SubscriptionStatus) (models.SubscriptionStatus, bool) {
	switch s {
	case stripego.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing, true
	case stripego.SubscriptionStatusActive:
		return models.SubscriptionStatusActive, true
	case stripego.SubscriptionStatusPastDue, stripego.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusPastDue, true
	case stripego.SubscriptionStatusCanceled, stripego.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCanceled, true
	default:
		// incomplete, paused
		return "", false
	}
}

func mapInterval(i stripego.PriceRecurringInterval) models.BillingInterval {
	switch i {
	case stripego.PriceRecurringIntervalDay:
		return models.IntervalDay
	case stripego.PriceRecurringIntervalWeek:
		return models.IntervalWeek
	case stripego.PriceRecurringIntervalMonth:
		return models.IntervalMonth
	case stripego.PriceRecurringIntervalYear:
		return models.IntervalYear
	}
	return models.IntervalNone
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func toSubscription(s *stripego.Subscription) (platform.RawSubscription, bool) {
	status, ok := mapStatus(s.Status)
	if !ok {
		return platform.RawSubscription{}, false
	}

	raw := platform.RawSubscription{
		ExternalID:   s.ID,
		Status:       status,
		StartDate:    time.Unix(s.StartDate, 0).UTC(),
		IsTrial:      status == models.SubscriptionStatusTrialing,
		TrialEndDate: unixPtr(s.TrialEnd),
		WillCancel:   s.CancelAtPeriodEnd,
		IsInGrace:    status == models.SubscriptionStatusPastDue,
	}

	switch {
	case s.EndedAt > 0:
		raw.EndDate = unixPtr(s.EndedAt)
	case status == models.SubscriptionStatusCanceled && s.CanceledAt > 0:
		raw.EndDate = unixPtr(s.CanceledAt)
	}

	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		item := s.Items.Data[0]
		price := item.Price
		raw.Currency = string(price.Currency)
		raw.ProductID = price.ID
		if price.Product != nil && price.Product.ID != "" {
			raw.ProductID = price.Product.ID
		}
		if price.Recurring != nil {
			raw.Interval = mapInterval(price.Recurring.Interval)
			quantity := item.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			amount := platform.FromMinorUnits(price.UnitAmount*quantity, raw.Currency)
			// Normalize "every N months" to one interval
			if price.Recurring.IntervalCount > 1 {
				amount /= float64(price.Recurring.IntervalCount)
			}
			raw.Amount = &amount
		}
	}
	return raw, true
}

func addSubscription(result *platform.Result, s *stripego.Subscription, window platform.Window, counters *platform.Counters) {
	raw, ok := toSubscription(s)
	if !ok {
		counters.Inc("subscriptions_skipped_status")
		result.Skipped++
		return
	}
	result.AddSubscription(models.PlatformStripe, raw, counters)

	if s.CanceledAt > 0 {
		at := time.Unix(s.CanceledAt, 0).UTC()
		if window.Contains(at) {
			result.AddSubscriptionEvent(models.PlatformStripe, platform.RawSubscriptionEvent{
				ExternalID:             "cancel:" + s.ID,
				SubscriptionExternalID: s.ID,
				Type:                   models.SubscriptionEventCancellation,
				Quantity:               1,
				Timestamp:              at,
			}, counters)
		}
	}

	// A failed renewal puts the subscription in grace at its period end
	if raw.IsInGrace && s.CurrentPeriodEnd > 0 {
		at := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		if window.Contains(at) {
			result.AddSubscriptionEvent(models.PlatformStripe, platform.RawSubscriptionEvent{
				ExternalID:             fmt.Sprintf("grace:%s:%d", s.ID, s.CurrentPeriodEnd),
				SubscriptionExternalID: s.ID,
				Type:                   models.SubscriptionEventGrace,
				Quantity:               1,
				Timestamp:              at,
			}, counters)
		}
	}
}

// classifyInvoice decides the revenue event type of a paid invoice.
func classifyInvoice(inv *stripego.Invoice) models.RevenueEventType {
	switch {
	case string(inv.BillingReason) == billingReasonSubscriptionCreate:
		return models.RevenueFirstPayment
	case inv.AmountPaid < 0:
		return models.RevenueRefund
	default:
		return models.RevenueRenewal
	}
}

func addInvoice(result *platform.Result, inv *stripego.Invoice, netMinor *int64, counters *platform.Counters) {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		counters.Inc("invoices_without_subscription")
		return
	}
	if inv.AmountPaid == 0 {
		counters.Inc("invoices_zero_amount")
		return
	}

	currency := string(inv.Currency)
	ts := time.Unix(inv.Created, 0).UTC()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		ts = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}

	ev := platform.RawRevenueEvent{
		ExternalID:             inv.ID,
		SubscriptionExternalID: inv.Subscription.ID,
		Type:                   classifyInvoice(inv),
		Amount:                 platform.FromMinorUnits(inv.AmountPaid, currency),
		Currency:               currency,
		Timestamp:              ts,
	}
	if inv.Tax > 0 {
		ev.AmountExcludingTax = platform.Float(platform.FromMinorUnits(inv.AmountPaid-inv.Tax, currency))
	}
	if netMinor != nil {
		ev.AmountProceeds = platform.Float(platform.FromMinorUnits(*netMinor, currency))
	} else {
		counters.Inc("invoices_without_proceeds")
	}
	result.AddRevenueEvent(models.PlatformStripe, ev, counters)
}

func addRefund(result *platform.Result, r *stripego.Refund, counters *platform.Counters) {
	if r.Status != stripego.RefundStatusSucceeded {
		counters.Inc("refunds_not_succeeded")
		return
	}

	subID := ""
	if r.Charge != nil && r.Charge.Invoice != nil && r.Charge.Invoice.Subscription != nil {
		subID = r.Charge.Invoice.Subscription.ID
	}
	if subID == "" {
		counters.Inc("refunds_without_subscription")
		return
	}

	currency := string(r.Currency)
	ev := platform.RawRevenueEvent{
		ExternalID:             r.ID,
		SubscriptionExternalID: subID,
		Type:                   models.RevenueRefund,
		Amount:                 platform.FromMinorUnits(r.Amount, currency),
		Currency:               currency,
		Timestamp:              time.Unix(r.Created, 0).UTC(),
	}
	if r.BalanceTransaction != nil && r.BalanceTransaction.ID != "" && r.BalanceTransaction.Net != 0 {
		ev.AmountProceeds = platform.Float(platform.FromMinorUnits(r.BalanceTransaction.Net, currency))
	}
	result.AddRevenueEvent(models.PlatformStripe, ev, counters)
}
