package appstore

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

// Report column names.
const (
	colEventDate           = "Event Date"
	colAppAppleID          = "App Apple ID"
	colSubscriptionAppleID = "Subscription Apple ID"
	colDuration            = "Standard Subscription Duration"
	colOfferDuration       = "Subscription Offer Duration"
	colCustomerPrice       = "Customer Price"
	colCustomerCurrency    = "Customer Currency"
	colProceeds            = "Developer Proceeds"
	colSubscriberID        = "Subscriber ID"
	colRefund              = "Refund"
	colPurchaseDate        = "Purchase Date"
	colOriginalStartDate   = "Original Start Date"
	colUnits               = "Units"
	colEvent               = "Event"
	colQuantity            = "Quantity"
)

// row is one report line addressed by header name.
type row struct {
	line   int
	fields map[string]string
}

func (r row) get(col string) string {
	return strings.TrimSpace(r.fields[col])
}

// readReport decompresses a report body and splits it into rows. Lines whose
// field count does not match the header are reported through onBad and skipped.
func readReport(body []byte, onBad func(line int, err error)) ([]row, error) {
	data := body
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to open report archive: %w", err)
		}
		defer func() { _ = zr.Close() }()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("failed to decompress report: %w", err)
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			line := 0
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}
			onBad(line, err)
			continue
		}
		line, _ := r.FieldPos(0)
		if len(rec) != len(header) {
			onBad(line, fmt.Errorf("expected %d fields, got %d", len(header), len(rec)))
			continue
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = rec[i]
		}
		rows = append(rows, row{line: line, fields: fields})
	}
	return rows, nil
}

// parseDate accepts both report date layouts.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{models.DateLayout, "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// parseDuration reads durations like "1 Month", "7 Days" or "1 Year" into
// an interval and its length in days.
func parseDuration(s string) (models.BillingInterval, int) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return models.IntervalNone, 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return models.IntervalNone, 0
	}
	unit := strings.TrimSuffix(fields[1], "s")
	switch unit {
	case "day":
		if n == 7 {
			return models.IntervalWeek, 7
		}
		return models.IntervalDay, n
	case "week":
		return models.IntervalWeek, 7 * n
	case "month":
		return models.IntervalMonth, 30 * n
	case "year":
		return models.IntervalYear, 365 * n
	}
	return models.IntervalNone, 0
}

// ========================================
// SUBSCRIBER report
// ========================================

// subscriberRow maps one SUBSCRIBER line onto a revenue event and, for
// purchases, the subscription it renews.
func subscriberRow(r row, source string) (*platform.RawRevenueEvent, *platform.RawSubscription, error) {
	parseErr := func(err error) error {
		return &platform.ParseError{Platform: models.PlatformAppStore, Source: source, Line: r.line, Err: err}
	}

	subscriberID := r.get(colSubscriberID)
	productID := r.get(colSubscriptionAppleID)
	if subscriberID == "" || productID == "" {
		return nil, nil, parseErr(errors.New("missing subscriber or subscription id"))
	}
	eventDate, err := parseDate(r.get(colEventDate))
	if err != nil {
		return nil, nil, parseErr(err)
	}
	price, err := parseAmount(r.get(colCustomerPrice))
	if err != nil {
		return nil, nil, parseErr(fmt.Errorf("customer price: %w", err))
	}
	proceeds, err := parseAmount(r.get(colProceeds))
	if err != nil {
		return nil, nil, parseErr(fmt.Errorf("developer proceeds: %w", err))
	}

	units := 1.0
	if u := r.get(colUnits); u != "" {
		if n, err := strconv.ParseFloat(u, 64); err == nil && n != 0 {
			units = n
			if units < 0 {
				units = -units
			}
		}
	}

	start := eventDate
	for _, col := range []string{colOriginalStartDate, colPurchaseDate} {
		if v := r.get(col); v != "" {
			if t, err := parseDate(v); err == nil {
				start = t
				break
			}
		}
	}

	refund := strings.EqualFold(r.get(colRefund), "yes")
	subID := subscriberID + ":" + productID
	currency := strings.ToLower(r.get(colCustomerCurrency))
	interval, days := parseDuration(r.get(colDuration))

	var ev *platform.RawRevenueEvent
	if price != 0 {
		evType := models.RevenueRenewal
		switch {
		case refund:
			evType = models.RevenueRefund
		case eventDate.Equal(start):
			evType = models.RevenueFirstPayment
		}
		ev = &platform.RawRevenueEvent{
			ExternalID:             fmt.Sprintf("%s:%s:%s", subID, eventDate.Format(models.DateLayout), evType),
			SubscriptionExternalID: subID,
			Type:                   evType,
			Amount:                 platform.Round2(price * units),
			AmountProceeds:         platform.Float(platform.Round2(proceeds * units)),
			Currency:               currency,
			Timestamp:              eventDate,
		}
	}
	if refund {
		return ev, nil, nil
	}

	sub := &platform.RawSubscription{
		ExternalID: subID,
		Status:     models.SubscriptionStatusActive,
		ProductID:  productID,
		StartDate:  start,
		Interval:   interval,
		Currency:   currency,
	}
	if days > 0 {
		end := eventDate.AddDate(0, 0, days)
		sub.EndDate = &end
	}
	if price == 0 {
		// Introductory free offers are reported at zero price
		sub.Status = models.SubscriptionStatusTrialing
		sub.IsTrial = true
		if _, offerDays := parseDuration(r.get(colOfferDuration)); offerDays > 0 {
			end := eventDate.AddDate(0, 0, offerDays)
			sub.TrialEndDate = &end
			sub.EndDate = &end
		}
	} else {
		sub.Amount = platform.Float(platform.Round2(price))
	}
	return ev, sub, nil
}

// ========================================
// SUBSCRIPTION_EVENT report
// ========================================

func eventType(name string) (models.SubscriptionEventType, bool) {
	switch {
	case strings.EqualFold(name, "Cancel"):
		return models.SubscriptionEventCancellation, true
	case strings.HasPrefix(name, "Billing Retry"), strings.HasPrefix(name, "Grace Period"):
		return models.SubscriptionEventGrace, true
	}
	return "", false
}

// subscriptionEventRow maps one SUBSCRIPTION_EVENT summary line. The second
// return is false for events that are not tracked.
func subscriptionEventRow(r row, source string) (*platform.RawSubscriptionEvent, bool, error) {
	typ, ok := eventType(r.get(colEvent))
	if !ok {
		return nil, false, nil
	}
	date, err := parseDate(r.get(colEventDate))
	if err != nil {
		return nil, false, &platform.ParseError{Platform: models.PlatformAppStore, Source: source, Line: r.line, Err: err}
	}
	qty, err := strconv.Atoi(r.get(colQuantity))
	if err != nil {
		return nil, false, &platform.ParseError{Platform: models.PlatformAppStore, Source: source, Line: r.line, Err: fmt.Errorf("quantity: %w", err)}
	}
	if qty < 0 {
		qty = -qty
	}
	if qty == 0 {
		return nil, false, nil
	}

	// Summary rows have no identity of their own; the line is stable for a
	// given day's report.
	return &platform.RawSubscriptionEvent{
		ExternalID:             fmt.Sprintf("%s:%s:%d", source, typ, r.line),
		SubscriptionExternalID: r.get(colSubscriptionAppleID),
		Type:                   typ,
		Quantity:               qty,
		Timestamp:              date,
	}, true, nil
}
