// Package appstore downloads App Store Connect Sales and Trends subscription
// reports and turns them into raw billing records.
package appstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/retry"
)

const (
	DefaultBaseURL = "https://api.appstoreconnect.apple.com"
	ChunkDays      = 30

	reportSubscriber        = "SUBSCRIBER"
	reportSubscriptionEvent = "SUBSCRIPTION_EVENT"
	reportVersion           = "1_3"

	// Reports are small; anything larger than this is not a report.
	maxReportBytes = 64 << 20
)

// Credentials is the decoded secret of an App Store Connect connection.
type Credentials struct {
	IssuerID     string `json:"issuer_id" validate:"required,uuid"`
	KeyID        string `json:"key_id" validate:"required,alphanum"`
	PrivateKey   string `json:"private_key" validate:"required,startswith=-----BEGIN"`
	VendorNumber string `json:"vendor_number" validate:"required,numeric"`
	// AppAppleID restricts rows to one app when the vendor account sells several.
	AppAppleID string `json:"app_apple_id,omitempty" validate:"omitempty,numeric"`
}

// Platform implements platform.Credentials.
func (*Credentials) Platform() models.Platform { return models.PlatformAppStore }

// Options configures the adapter.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	Retry      retry.Policy
	ChunkSize  time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Adapter implements platform.Adapter for App Store Connect.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
	chunkSize  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an App Store adapter.
func New(opts Options) *Adapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = platform.NewHTTPClient(0)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkDays * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		policy:     opts.Retry,
		chunkSize:  opts.ChunkSize,
		logger:     opts.Logger.With("component", "appstore-adapter"),
		now:        opts.Now,
	}
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() models.Platform { return models.PlatformAppStore }

// ChunkSize implements platform.Adapter.
func (a *Adapter) ChunkSize() time.Duration { return a.chunkSize }

// NewCredentials implements platform.Adapter.
func (a *Adapter) NewCredentials() platform.Credentials { return &Credentials{} }

// Fetch implements platform.Adapter. Reports are daily, so every day the
// window touches is downloaded.
func (a *Adapter) Fetch(ctx context.Context, creds platform.Credentials, window platform.Window, counters *platform.Counters) (*platform.Result, error) {
	c, ok := creds.(*Credentials)
	if !ok || c.PrivateKey == "" {
		return nil, &platform.CredentialError{Platform: models.PlatformAppStore, Reason: "missing api key"}
	}
	tokens, err := newTokenSource(c, a.now)
	if err != nil {
		return nil, err
	}

	result := &platform.Result{}
	today := models.DayStart(a.now())
	for _, day := range window.Days() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if day.After(today) {
			break
		}

		if err := a.fetchSubscriberDay(ctx, tokens, c, day, result, counters); err != nil {
			return result, fmt.Errorf("failed to fetch subscriber report for %s: %w", day.Format(models.DateLayout), err)
		}
		if err := a.fetchEventDay(ctx, tokens, c, day, result, counters); err != nil {
			return result, fmt.Errorf("failed to fetch subscription event report for %s: %w", day.Format(models.DateLayout), err)
		}
	}

	a.logger.Debug("app store fetch complete",
		"days", len(window.Days()),
		"subscriptions", len(result.Subscriptions),
		"revenue_events", len(result.RevenueEvents),
		"subscription_events", len(result.SubscriptionEvents),
	)
	return result, nil
}

func (a *Adapter) fetchSubscriberDay(ctx context.Context, tokens *tokenSource, c *Credentials, day time.Time, result *platform.Result, counters *platform.Counters) error {
	source := reportSubscriber + " " + day.Format(models.DateLayout)
	rows, err := a.report(ctx, tokens, c, reportSubscriber, "DETAILED", day, counters)
	if err != nil || rows == nil {
		return err
	}

	for _, r := range rows {
		if !a.forApp(c, r, counters) {
			continue
		}
		ev, sub, err := subscriberRow(r, source)
		if err != nil {
			a.skipRow(err, result, counters)
			continue
		}
		if sub != nil {
			result.AddSubscription(models.PlatformAppStore, *sub, counters)
		}
		if ev != nil {
			result.AddRevenueEvent(models.PlatformAppStore, *ev, counters)
		} else {
			counters.Inc("subscriber_zero_price_rows")
		}
	}
	return nil
}

func (a *Adapter) fetchEventDay(ctx context.Context, tokens *tokenSource, c *Credentials, day time.Time, result *platform.Result, counters *platform.Counters) error {
	source := reportSubscriptionEvent + " " + day.Format(models.DateLayout)
	rows, err := a.report(ctx, tokens, c, reportSubscriptionEvent, "SUMMARY", day, counters)
	if err != nil || rows == nil {
		return err
	}

	for _, r := range rows {
		if !a.forApp(c, r, counters) {
			continue
		}
		ev, ok, err := subscriptionEventRow(r, source)
		if err != nil {
			a.skipRow(err, result, counters)
			continue
		}
		if !ok {
			counters.Inc("event_rows_untracked")
			continue
		}
		result.AddSubscriptionEvent(models.PlatformAppStore, *ev, counters)
	}
	return nil
}

func (a *Adapter) forApp(c *Credentials, r row, counters *platform.Counters) bool {
	if c.AppAppleID == "" || r.get(colAppAppleID) == "" || r.get(colAppAppleID) == c.AppAppleID {
		return true
	}
	counters.Inc("rows_other_app")
	return false
}

func (a *Adapter) skipRow(err error, result *platform.Result, counters *platform.Counters) {
	result.Skipped++
	counters.Inc("parse_errors")
	counters.Note(err.Error())
	a.logger.Debug("skipping report row", "error", err)
}

// report downloads and parses one daily report. A nil slice with a nil error
// means Apple has not published the report (yet).
func (a *Adapter) report(ctx context.Context, tokens *tokenSource, c *Credentials, reportType, subType string, day time.Time, counters *platform.Counters) ([]row, error) {
	q := url.Values{}
	q.Set("filter[frequency]", "DAILY")
	q.Set("filter[reportDate]", day.Format(models.DateLayout))
	q.Set("filter[reportSubType]", subType)
	q.Set("filter[reportType]", reportType)
	q.Set("filter[vendorNumber]", c.VendorNumber)
	q.Set("filter[version]", reportVersion)
	endpoint := a.baseURL + "/v1/salesReports?" + q.Encode()

	policy := a.policy
	policy.OnRetry = func(int, error) { counters.Inc("report_retries") }

	op := strings.ToLower(reportType) + "_report"
	body, err := retry.DoValue(ctx, policy, platform.IsRetryable, func(ctx context.Context) ([]byte, error) {
		return a.download(ctx, tokens, op, endpoint)
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		counters.Inc("reports_missing")
		return nil, nil
	}
	counters.Inc("reports_downloaded")

	source := reportType + " " + day.Format(models.DateLayout)
	rows, err := readReport(body, func(line int, err error) {
		counters.Inc("parse_errors")
		counters.Note((&platform.ParseError{Platform: models.PlatformAppStore, Source: source, Line: line, Err: err}).Error())
	})
	if err != nil {
		perr := &platform.ParseError{Platform: models.PlatformAppStore, Source: source, Err: err}
		counters.Inc("reports_unreadable")
		counters.Note(perr.Error())
		a.logger.Warn("skipping unreadable report", "error", perr)
		return []row{}, nil
	}
	if rows == nil {
		rows = []row{}
	}
	return rows, nil
}

func (a *Adapter) download(ctx context.Context, tokens *tokenSource, op, endpoint string) ([]byte, error) {
	token, err := tokens.Token()
	if err != nil {
		return nil, &platform.CredentialError{Platform: models.PlatformAppStore, Reason: "token signing failed", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/a-gzip")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, platform.TransportError(models.PlatformAppStore, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		var detail error
		if snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)); len(bytes.TrimSpace(snippet)) > 0 {
			detail = errors.New(string(bytes.TrimSpace(snippet)))
		}
		return nil, platform.ClassifyStatus(models.PlatformAppStore, op, resp.StatusCode, detail)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return nil, platform.TransportError(models.PlatformAppStore, op, err)
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}
