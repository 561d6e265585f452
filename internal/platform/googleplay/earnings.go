package googleplay

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

// Earnings report columns.
const (
	colDescription     = "Description"
	colTransactionDate = "Transaction Date"
	colTransactionType = "Transaction Type"
	colProductID       = "Product id"
	colSkuID           = "Sku Id"
	colBasePlanID      = "Base Plan ID"
	colMerchantCcy     = "Merchant Currency"
	colMerchantAmount  = "Amount (Merchant Currency)"
)

// Transaction types.
const (
	txCharge          = "charge"
	txGoogleFee       = "google fee"
	txTax             = "tax"
	txChargeRefund    = "charge refund"
	txGoogleFeeRefund = "google fee refund"
	txTaxRefund       = "tax refund"
)

var renewalSuffix = regexp.MustCompile(`\.\.\d+$`)

// baseOrderID strips the "..N" renewal counter from an order id.
func baseOrderID(orderID string) string {
	return renewalSuffix.ReplaceAllString(orderID, "")
}

func isRenewal(orderID string) bool {
	return renewalSuffix.MatchString(orderID)
}

// periodFor guesses the billing period from the base plan or product id.
func periodFor(planOrSku string) models.BillingInterval {
	s := strings.ToLower(planOrSku)
	switch {
	case strings.Contains(s, "year"), strings.Contains(s, "annual"):
		return models.IntervalYear
	case strings.Contains(s, "week"):
		return models.IntervalWeek
	default:
		return models.IntervalMonth
	}
}

func addPeriod(t time.Time, iv models.BillingInterval) time.Time {
	switch iv {
	case models.IntervalYear:
		return t.AddDate(1, 0, 0)
	case models.IntervalWeek:
		return t.AddDate(0, 0, 7)
	case models.IntervalDay:
		return t.AddDate(0, 0, 1)
	default:
		return t.AddDate(0, 1, 0)
	}
}

var transactionDateLayouts = []string{"Jan 2, 2006", "2006-01-02", "01/02/2006"}

func parseTransactionDate(s string) (time.Time, error) {
	for _, layout := range transactionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid transaction date %q", s)
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// order accumulates every row that shares an order id.
type order struct {
	id       string
	date     time.Time
	sku      string
	plan     string
	currency string

	charge, fee, tax  float64
	hasCharge, hasTax bool
	refund, feeRefund float64
	taxRefund         float64
	hasRefund         bool
	refundDate        time.Time
}

// ledger groups earnings rows by order.
type ledger struct {
	orders map[string]*order
}

func newLedger() *ledger {
	return &ledger{orders: make(map[string]*order)}
}

// add folds one row into its order. packageName filters rows of other apps
// when set.
func (l *ledger) add(r record, source, packageName string) (bool, error) {
	parseErr := func(err error) error {
		return &platform.ParseError{Platform: models.PlatformGooglePlay, Source: source, Line: r.line, Err: err}
	}

	id := r.get(colDescription)
	if id == "" {
		return false, parseErr(fmt.Errorf("missing order id"))
	}
	if packageName != "" && r.get(colProductID) != "" && r.get(colProductID) != packageName {
		return false, nil
	}
	date, err := parseTransactionDate(r.get(colTransactionDate))
	if err != nil {
		return false, parseErr(err)
	}
	amount, err := parseAmount(r.get(colMerchantAmount))
	if err != nil {
		return false, parseErr(fmt.Errorf("amount: %w", err))
	}

	o := l.orders[id]
	if o == nil {
		o = &order{id: id, date: date}
		l.orders[id] = o
	}
	if o.sku == "" {
		o.sku = r.get(colSkuID)
	}
	if o.plan == "" {
		o.plan = r.get(colBasePlanID)
	}
	if o.currency == "" {
		o.currency = strings.ToLower(r.get(colMerchantCcy))
	}

	switch strings.ToLower(r.get(colTransactionType)) {
	case txCharge:
		o.charge += amount
		o.hasCharge = true
		if date.Before(o.date) {
			o.date = date
		}
	case txGoogleFee:
		o.fee += amount
	case txTax:
		o.tax += amount
		o.hasTax = true
	case txChargeRefund:
		o.refund += amount
		o.hasRefund = true
		if o.refundDate.IsZero() || date.Before(o.refundDate) {
			o.refundDate = date
		}
	case txGoogleFeeRefund:
		o.feeRefund += amount
	case txTaxRefund:
		o.taxRefund += amount
	default:
		return false, parseErr(fmt.Errorf("unknown transaction type %q", r.get(colTransactionType)))
	}
	return true, nil
}

func (o *order) interval() models.BillingInterval {
	if o.plan != "" {
		return periodFor(o.plan)
	}
	return periodFor(o.sku)
}

// emit converts the ledger into raw records. Revenue is kept only inside
// window; subscriptions are synthesized from every order seen, with now
// deciding whether a lapsed subscription is canceled.
func (l *ledger) emit(result *platform.Result, window platform.Window, now time.Time, counters *platform.Counters) {
	ids := make([]string, 0, len(l.orders))
	for id := range l.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type chain struct {
		first, last *order
	}
	chains := make(map[string]*chain)
	var bases []string

	for _, id := range ids {
		o := l.orders[id]
		base := baseOrderID(id)

		if o.hasCharge {
			c := chains[base]
			if c == nil {
				c = &chain{first: o, last: o}
				chains[base] = c
				bases = append(bases, base)
			}
			if o.date.Before(c.first.date) {
				c.first = o
			}
			if o.date.After(c.last.date) {
				c.last = o
			}

			if window.Contains(o.date) {
				evType := models.RevenueFirstPayment
				if isRenewal(id) {
					evType = models.RevenueRenewal
				}
				ev := platform.RawRevenueEvent{
					ExternalID:             id,
					SubscriptionExternalID: base,
					Type:                   evType,
					Amount:                 platform.Round2(o.charge + o.tax),
					AmountProceeds:         platform.Float(platform.Round2(o.charge + o.fee)),
					Currency:               o.currency,
					Timestamp:              o.date,
				}
				if o.hasTax {
					ev.AmountExcludingTax = platform.Float(platform.Round2(o.charge))
				}
				result.AddRevenueEvent(models.PlatformGooglePlay, ev, counters)
			} else {
				counters.Inc("orders_outside_window")
			}
		} else if !o.hasRefund {
			counters.Inc("orders_without_charge")
		}

		if o.hasRefund && window.Contains(o.refundDate) {
			result.AddRevenueEvent(models.PlatformGooglePlay, platform.RawRevenueEvent{
				ExternalID:             id + ":refund",
				SubscriptionExternalID: base,
				Type:                   models.RevenueRefund,
				Amount:                 platform.Round2(o.refund + o.taxRefund),
				AmountProceeds:         platform.Float(platform.Round2(o.refund + o.feeRefund)),
				Currency:               o.currency,
				Timestamp:              o.refundDate,
			}, counters)
		}
	}

	for _, base := range bases {
		c := chains[base]
		iv := c.last.interval()
		end := addPeriod(c.last.date, iv)
		sub := platform.RawSubscription{
			ExternalID: base,
			Status:     models.SubscriptionStatusActive,
			ProductID:  c.last.sku,
			StartDate:  c.first.date,
			EndDate:    &end,
			Amount:     platform.Float(platform.Round2(c.last.charge)),
			Interval:   iv,
			Currency:   c.last.currency,
		}
		if end.Before(now) {
			sub.Status = models.SubscriptionStatusCanceled
			if window.Contains(end) {
				result.AddSubscriptionEvent(models.PlatformGooglePlay, platform.RawSubscriptionEvent{
					ExternalID:             "cancel:" + base,
					SubscriptionExternalID: base,
					Type:                   models.SubscriptionEventCancellation,
					Quantity:               1,
					Timestamp:              end,
				}, counters)
			}
		}
		result.AddSubscription(models.PlatformGooglePlay, sub, counters)
	}
}
