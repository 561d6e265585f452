package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.SubscriptionStatus
		ok   bool
	}{
		{"active", models.SubscriptionStatusActive, true},
		{" Trialing ", models.SubscriptionStatusTrialing, true},
		{"in trial", models.SubscriptionStatusTrialing, true},
		{"unpaid", models.SubscriptionStatusPastDue, true},
		{"billing_retry", models.SubscriptionStatusPastDue, true},
		{"Cancelled", models.SubscriptionStatusCanceled, true},
		{"expired", models.SubscriptionStatusCanceled, true},
		{"paused", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeStatus(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NormalizeStatus(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBuildBatch(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600))
	raw := &platform.Result{
		Subscriptions: []platform.RawSubscription{
			{ExternalID: "a", Status: models.SubscriptionStatusActive, StartDate: ts, Amount: floatPtr(5), Currency: "EUR"},
			{ExternalID: "b", Status: models.SubscriptionStatusTrialing, StartDate: ts},
			{ExternalID: "c", Status: models.SubscriptionStatusPastDue, StartDate: ts},
			{ExternalID: "a", Status: models.SubscriptionStatusCanceled, StartDate: ts, EndDate: &ts},
			{ExternalID: "d", Status: "paused", StartDate: ts},
		},
		RevenueEvents: []platform.RawRevenueEvent{
			{ExternalID: "r1", Type: models.RevenueFirstPayment, Amount: 5, Currency: "EUR", Timestamp: ts},
			{ExternalID: "r1", Type: models.RevenueRenewal, Amount: 7, Timestamp: ts},
		},
		SubscriptionEvents: []platform.RawSubscriptionEvent{
			{ExternalID: "e1", Type: models.SubscriptionEventGrace, Quantity: 2, Timestamp: ts},
			{ExternalID: "e1", Type: models.SubscriptionEventGrace, Quantity: 9, Timestamp: ts},
		},
	}

	batch, dropped := BuildBatch("app", models.PlatformStripe, raw)
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(batch.Subscriptions) != 3 {
		t.Fatalf("subscriptions = %d, want 3", len(batch.Subscriptions))
	}

	t.Run("last duplicate subscription wins", func(t *testing.T) {
		a := batch.Subscriptions[0]
		if a.ExternalID != "a" || a.Status != models.SubscriptionStatusCanceled || a.EndDate == nil {
			t.Errorf("a = %+v", a)
		}
	})
	t.Run("status implies flags", func(t *testing.T) {
		if !batch.Subscriptions[1].IsTrial {
			t.Error("trialing subscription not marked as trial")
		}
		if !batch.Subscriptions[2].IsInGrace {
			t.Error("past due subscription not marked as in grace")
		}
	})
	t.Run("timestamps in UTC", func(t *testing.T) {
		if loc := batch.Subscriptions[0].StartDate.Location(); loc != time.UTC {
			t.Errorf("start date location = %v", loc)
		}
		if loc := batch.Subscriptions[0].EndDate.Location(); loc != time.UTC {
			t.Errorf("end date location = %v", loc)
		}
		if loc := batch.RevenueEvents[0].Timestamp.Location(); loc != time.UTC {
			t.Errorf("event location = %v", loc)
		}
	})
	t.Run("first duplicate event wins", func(t *testing.T) {
		if len(batch.RevenueEvents) != 1 || batch.RevenueEvents[0].Amount != 5 {
			t.Errorf("revenue events = %+v", batch.RevenueEvents)
		}
		if batch.RevenueEvents[0].Currency != "eur" {
			t.Errorf("currency = %q, want eur", batch.RevenueEvents[0].Currency)
		}
		if len(batch.SubscriptionEvents) != 1 || batch.SubscriptionEvents[0].Quantity != 2 {
			t.Errorf("subscription events = %+v", batch.SubscriptionEvents)
		}
	})
}

func TestNormalize_InsertOnlyNewEvents(t *testing.T) {
	repos := setupTestRepos(t)
	app := createTestApp(t, repos, "norm")
	n := NewNormalizer(repos.Billing)
	ctx := context.Background()
	ts := date(time.March, 3)

	first := &platform.Result{
		Subscriptions: []platform.RawSubscription{{ExternalID: "s1", Status: models.SubscriptionStatusActive, StartDate: ts}},
		RevenueEvents: []platform.RawRevenueEvent{{ExternalID: "p1", Type: models.RevenueFirstPayment, Amount: 3, Timestamp: ts}},
	}
	res, err := n.Normalize(ctx, app.ID, models.PlatformAppStore, first)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.SubscriptionsUpserted != 1 || res.RevenueInserted != 1 {
		t.Errorf("first pass = %+v", res)
	}

	second := &platform.Result{
		Subscriptions: []platform.RawSubscription{{ExternalID: "s1", Status: models.SubscriptionStatusCanceled, StartDate: ts, EndDate: &ts}},
		RevenueEvents: []platform.RawRevenueEvent{
			{ExternalID: "p1", Type: models.RevenueFirstPayment, Amount: 300, Timestamp: ts},
			{ExternalID: "p2", Type: models.RevenueRenewal, Amount: 3, Timestamp: ts.AddDate(0, 1, 0)},
		},
	}
	res, err = n.Normalize(ctx, app.ID, models.PlatformAppStore, second)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.RevenueInserted != 1 || res.RevenueDuplicate != 1 {
		t.Errorf("second pass = %+v", res)
	}

	events, err := repos.Billing.ListRevenueEvents(ctx, app.ID, models.PlatformAppStore, ts, ts.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListRevenueEvents: %v", err)
	}
	if len(events) != 1 || events[0].Amount != 3 {
		t.Errorf("stored event was overwritten: %+v", events)
	}

	subs, err := repos.Billing.ListSubscriptionsActiveDuring(ctx, app.ID, models.PlatformAppStore, ts, ts.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListSubscriptionsActiveDuring: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != models.SubscriptionStatusCanceled {
		t.Errorf("subscription not updated: %+v", subs)
	}

	empty, err := n.Normalize(ctx, app.ID, models.PlatformAppStore, &platform.Result{})
	if err != nil || *empty != (NormalizeResult{}) {
		t.Errorf("empty result = %+v, %v", empty, err)
	}
}
