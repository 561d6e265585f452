// Package stripe fetches subscriptions, paid invoices and refunds from the
// Stripe API.
package stripe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/retry"
)

const (
	pageSize                 = 100
	DefaultEnrichConcurrency = 10
)

// Credentials is the decoded secret of a Stripe connection.
type Credentials struct {
	SecretKey     string `json:"secret_key" validate:"required,startswith=sk_|startswith=rk_"`
	WebhookSecret string `json:"webhook_secret,omitempty" validate:"omitempty,startswith=whsec_"`
}

// Platform implements platform.Credentials.
func (*Credentials) Platform() models.Platform { return models.PlatformStripe }

// Options configures the adapter.
type Options struct {
	HTTPClient        *http.Client
	BaseURL           string // overrides https://api.stripe.com, for tests
	Retry             retry.Policy
	EnrichConcurrency int
	Logger            *slog.Logger
}

// Adapter implements platform.Adapter for Stripe.
type Adapter struct {
	httpClient        *http.Client
	baseURL           string
	policy            retry.Policy
	enrichConcurrency int
	logger            *slog.Logger
}

// New creates a Stripe adapter.
func New(opts Options) *Adapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = platform.NewHTTPClient(0)
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		httpClient:        opts.HTTPClient,
		baseURL:           opts.BaseURL,
		policy:            opts.Retry,
		enrichConcurrency: opts.EnrichConcurrency,
		logger:            opts.Logger.With("component", "stripe-adapter"),
	}
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() models.Platform { return models.PlatformStripe }

// ChunkSize implements platform.Adapter. Stripe filters server side, so the
// whole window is fetched in one pass.
func (a *Adapter) ChunkSize() time.Duration { return 0 }

// NewCredentials implements platform.Adapter.
func (a *Adapter) NewCredentials() platform.Credentials { return &Credentials{} }

func (a *Adapter) newClient(secretKey string) *client.API {
	cfg := &stripego.BackendConfig{
		HTTPClient:        a.httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if a.baseURL != "" {
		cfg.URL = stripego.String(a.baseURL)
	}
	return client.New(secretKey, stripego.NewBackendsWithConfig(cfg))
}

// Fetch implements platform.Adapter.
func (a *Adapter) Fetch(ctx context.Context, creds platform.Credentials, window platform.Window, counters *platform.Counters) (*platform.Result, error) {
	c, ok := creds.(*Credentials)
	if !ok || c.SecretKey == "" {
		return nil, &platform.CredentialError{Platform: models.PlatformStripe, Reason: "missing secret key"}
	}
	api := a.newClient(c.SecretKey)
	result := &platform.Result{}

	subs, err := a.listSubscriptions(ctx, api, counters)
	if err != nil {
		return result, err
	}
	for _, s := range subs {
		addSubscription(result, s, window, counters)
	}

	invoices, err := a.listInvoices(ctx, api, window, counters)
	if err != nil {
		return result, err
	}
	proceeds := a.enrichProceeds(ctx, api, invoices, counters)
	for _, inv := range invoices {
		var net *int64
		if v, ok := proceeds[inv.ID]; ok {
			net = &v
		}
		addInvoice(result, inv, net, counters)
	}

	refunds, err := a.listRefunds(ctx, api, window, counters)
	if err != nil {
		return result, err
	}
	for _, r := range refunds {
		addRefund(result, r, counters)
	}

	a.logger.Debug("stripe fetch complete",
		"subscriptions", len(result.Subscriptions),
		"revenue_events", len(result.RevenueEvents),
		"subscription_events", len(result.SubscriptionEvents),
		"skipped", result.Skipped,
	)
	return result, nil
}

// ========================================
// Paging
// ========================================

type page[T any] struct {
	items   []T
	hasMore bool
}

// listPages walks a cursor list one page at a time. Every page request is
// retried on its own and cancellation is checked between pages.
func listPages[T any](ctx context.Context, a *Adapter, op string, counters *platform.Counters,
	list func(ctx context.Context, after string) ([]T, bool, error), id func(T) string) ([]T, error) {

	policy := a.policy
	policy.OnRetry = func(int, error) { counters.Inc(op + "_retries") }

	var all []T
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		p, err := retry.DoValue(ctx, policy, platform.IsRetryable, func(ctx context.Context) (page[T], error) {
			items, more, err := list(ctx, after)
			if err != nil {
				return page[T]{}, classify(op, err)
			}
			return page[T]{items: items, hasMore: more}, nil
		})
		if err != nil {
			return all, err
		}

		counters.Inc(op + "_pages")
		all = append(all, p.items...)
		if !p.hasMore || len(p.items) == 0 {
			return all, nil
		}
		after = id(p.items[len(p.items)-1])
	}
}

func (a *Adapter) listSubscriptions(ctx context.Context, api *client.API, counters *platform.Counters) ([]*stripego.Subscription, error) {
	return listPages(ctx, a, "subscriptions", counters,
		func(ctx context.Context, after string) ([]*stripego.Subscription, bool, error) {
			params := &stripego.SubscriptionListParams{Status: stripego.String("all")}
			setPage(&params.ListParams, ctx, after)

			it := api.Subscriptions.List(params)
			var out []*stripego.Subscription
			for it.Next() {
				out = append(out, it.Subscription())
			}
			if err := it.Err(); err != nil {
				return nil, false, err
			}
			return out, it.Meta().HasMore, nil
		},
		func(s *stripego.Subscription) string { return s.ID },
	)
}

func (a *Adapter) listInvoices(ctx context.Context, api *client.API, window platform.Window, counters *platform.Counters) ([]*stripego.Invoice, error) {
	return listPages(ctx, a, "invoices", counters,
		func(ctx context.Context, after string) ([]*stripego.Invoice, bool, error) {
			params := &stripego.InvoiceListParams{
				Status:       stripego.String("paid"),
				CreatedRange: createdRange(window),
			}
			setPage(&params.ListParams, ctx, after)
			params.AddExpand("data.charge")

			it := api.Invoices.List(params)
			var out []*stripego.Invoice
			for it.Next() {
				out = append(out, it.Invoice())
			}
			if err := it.Err(); err != nil {
				return nil, false, err
			}
			return out, it.Meta().HasMore, nil
		},
		func(inv *stripego.Invoice) string { return inv.ID },
	)
}

func (a *Adapter) listRefunds(ctx context.Context, api *client.API, window platform.Window, counters *platform.Counters) ([]*stripego.Refund, error) {
	return listPages(ctx, a, "refunds", counters,
		func(ctx context.Context, after string) ([]*stripego.Refund, bool, error) {
			params := &stripego.RefundListParams{CreatedRange: createdRange(window)}
			setPage(&params.ListParams, ctx, after)
			params.AddExpand("data.balance_transaction")
			params.AddExpand("data.charge.invoice")

			it := api.Refunds.List(params)
			var out []*stripego.Refund
			for it.Next() {
				out = append(out, it.Refund())
			}
			if err := it.Err(); err != nil {
				return nil, false, err
			}
			return out, it.Meta().HasMore, nil
		},
		func(r *stripego.Refund) string { return r.ID },
	)
}

func setPage(p *stripego.ListParams, ctx context.Context, after string) {
	p.Context = ctx
	p.Single = true
	p.Limit = stripego.Int64(pageSize)
	if after != "" {
		p.StartingAfter = stripego.String(after)
	}
}

func createdRange(w platform.Window) *stripego.RangeQueryParams {
	return &stripego.RangeQueryParams{
		GreaterThanOrEqual: w.Start.Unix(),
		LesserThan:         w.End.Unix(),
	}
}

// ========================================
// Enrichment
// ========================================

// enrichProceeds loads the balance transaction behind each invoice charge in
// a bounded pool. Failures leave the invoice without proceeds.
func (a *Adapter) enrichProceeds(ctx context.Context, api *client.API, invoices []*stripego.Invoice, counters *platform.Counters) map[string]int64 {
	var (
		mu       sync.Mutex
		proceeds = make(map[string]int64, len(invoices))
		g        errgroup.Group
	)
	g.SetLimit(a.enrichConcurrency)

	policy := a.policy
	policy.OnRetry = func(int, error) { counters.Inc("enrich_retries") }

	for _, inv := range invoices {
		if inv.Charge == nil || inv.Charge.BalanceTransaction == nil || inv.Charge.BalanceTransaction.ID == "" {
			counters.Inc("enrich_missing_charge")
			continue
		}
		invoiceID := inv.ID
		txnID := inv.Charge.BalanceTransaction.ID

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			txn, err := retry.DoValue(ctx, policy, platform.IsRetryable, func(ctx context.Context) (*stripego.BalanceTransaction, error) {
				params := &stripego.BalanceTransactionParams{}
				params.Context = ctx
				txn, err := api.BalanceTransactions.Get(txnID, params)
				if err != nil {
					return nil, classify("balance_transaction", err)
				}
				return txn, nil
			})
			if err != nil {
				counters.Inc("enrich_failed")
				a.logger.Debug("balance transaction lookup failed", "invoice_id", invoiceID, "error", err)
				return nil
			}
			counters.Inc("enrich_ok")
			mu.Lock()
			proceeds[invoiceID] = txn.Net
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return proceeds
}

// classify maps stripe-go errors onto the shared platform error types.
func classify(op string, err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		if string(stripeErr.Code) == "api_key_expired" || string(stripeErr.Code) == "invalid_api_key" {
			return &platform.CredentialError{Platform: models.PlatformStripe, Reason: string(stripeErr.Code), Err: err}
		}
		if stripeErr.HTTPStatusCode > 0 {
			return platform.ClassifyStatus(models.PlatformStripe, op, stripeErr.HTTPStatusCode, err)
		}
	}
	return platform.TransportError(models.PlatformStripe, op, err)
}
