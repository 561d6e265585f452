// Package googleplay reads the Play Console earnings exports from the
// developer's Cloud Storage bucket through the S3 interoperability API.
package googleplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/retry"
)

const (
	DefaultEndpoint = "https://storage.googleapis.com"
	ChunkDays       = 30

	earningsPrefix = "earnings/earnings_"
	maxObjectBytes = 256 << 20
)

// Credentials is the decoded secret of a Google Play connection: the export
// bucket and an HMAC interoperability key with read access to it.
type Credentials struct {
	Bucket          string `json:"bucket" validate:"required,startswith=pubsite_prod_"`
	AccessKeyID     string `json:"access_key_id" validate:"required"`
	SecretAccessKey string `json:"secret_access_key" validate:"required"`
	// PackageName restricts rows to one app when the account publishes several.
	PackageName string `json:"package_name,omitempty"`
}

// Platform implements platform.Credentials.
func (*Credentials) Platform() models.Platform { return models.PlatformGooglePlay }

// ObjectStore is the part of the S3 client the adapter uses.
type ObjectStore interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures the adapter.
type Options struct {
	HTTPClient *http.Client
	Endpoint   string
	Retry      retry.Policy
	ChunkSize  time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
	// NewStore overrides the S3 client construction, for tests.
	NewStore func(ctx context.Context, creds *Credentials) (ObjectStore, error)
}

// Adapter implements platform.Adapter for Google Play.
type Adapter struct {
	httpClient *http.Client
	endpoint   string
	policy     retry.Policy
	chunkSize  time.Duration
	logger     *slog.Logger
	now        func() time.Time
	newStore   func(ctx context.Context, creds *Credentials) (ObjectStore, error)
}

// New creates a Google Play adapter.
func New(opts Options) *Adapter {
	if opts.HTTPClient == nil {
		opts.HTTPClient = platform.NewHTTPClient(0)
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
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
	a := &Adapter{
		httpClient: opts.HTTPClient,
		endpoint:   opts.Endpoint,
		policy:     opts.Retry,
		chunkSize:  opts.ChunkSize,
		logger:     opts.Logger.With("component", "googleplay-adapter"),
		now:        opts.Now,
		newStore:   opts.NewStore,
	}
	if a.newStore == nil {
		a.newStore = a.s3Store
	}
	return a
}

// Platform implements platform.Adapter.
func (a *Adapter) Platform() models.Platform { return models.PlatformGooglePlay }

// ChunkSize implements platform.Adapter.
func (a *Adapter) ChunkSize() time.Duration { return a.chunkSize }

// NewCredentials implements platform.Adapter.
func (a *Adapter) NewCredentials() platform.Credentials { return &Credentials{} }

// s3Store builds an S3 client against the Cloud Storage XML API.
func (a *Adapter) s3Store(ctx context.Context, creds *Credentials) (ObjectStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithHTTPClient(a.httpClient),
		config.WithRetryMaxAttempts(1),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.endpoint)
		o.UsePathStyle = true
	}), nil
}

// monthPrefixes returns the export prefixes for every month touching the
// window, widened by one month on each side so subscription chains that
// straddle the window edges are complete.
func monthPrefixes(w platform.Window) []string {
	start := time.Date(w.Start.Year(), w.Start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	last := w.End.Add(-time.Nanosecond)
	end := time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	var prefixes []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		prefixes = append(prefixes, earningsPrefix+m.Format("200601"))
	}
	return prefixes
}

// Fetch implements platform.Adapter.
func (a *Adapter) Fetch(ctx context.Context, creds platform.Credentials, window platform.Window, counters *platform.Counters) (*platform.Result, error) {
	c, ok := creds.(*Credentials)
	if !ok || c.Bucket == "" || c.AccessKeyID == "" {
		return nil, &platform.CredentialError{Platform: models.PlatformGooglePlay, Reason: "missing bucket or access key"}
	}
	store, err := a.newStore(ctx, c)
	if err != nil {
		return nil, &platform.CredentialError{Platform: models.PlatformGooglePlay, Reason: "storage client", Err: err}
	}

	result := &platform.Result{}
	book := newLedger()

	for _, prefix := range monthPrefixes(window) {
		keys, err := a.listObjects(ctx, store, c.Bucket, prefix, counters)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			data, err := a.getObject(ctx, store, c.Bucket, key, counters)
			if err != nil {
				return result, fmt.Errorf("failed to download %s: %w", key, err)
			}
			a.ingest(key, data, c.PackageName, book, result, counters)
		}
	}

	book.emit(result, window, a.now(), counters)

	a.logger.Debug("google play fetch complete",
		"orders", len(book.orders),
		"subscriptions", len(result.Subscriptions),
		"revenue_events", len(result.RevenueEvents),
		"skipped", result.Skipped,
	)
	return result, nil
}

// ingest decodes one export object into the ledger. Unreadable files and
// rows are counted and skipped.
func (a *Adapter) ingest(key string, data []byte, packageName string, book *ledger, result *platform.Result, counters *platform.Counters) {
	files, err := unpack(key, data)
	if err != nil {
		a.skipFile(key, err, counters)
		return
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		text, err := decodeText(files[name])
		if err != nil {
			a.skipFile(name, err, counters)
			continue
		}
		rows, err := readCSV(text, func(line int, err error) {
			a.skipRow(&platform.ParseError{Platform: models.PlatformGooglePlay, Source: name, Line: line, Err: err}, result, counters)
		})
		if err != nil {
			a.skipFile(name, err, counters)
			continue
		}
		counters.Inc("files_parsed")

		for _, r := range rows {
			kept, err := book.add(r, name, packageName)
			if err != nil {
				a.skipRow(err, result, counters)
				continue
			}
			if !kept {
				counters.Inc("rows_other_app")
			}
		}
	}
}

func (a *Adapter) skipFile(name string, err error, counters *platform.Counters) {
	perr := &platform.ParseError{Platform: models.PlatformGooglePlay, Source: name, Err: err}
	counters.Inc("files_unreadable")
	counters.Note(perr.Error())
	a.logger.Warn("skipping unreadable export", "error", perr)
}

func (a *Adapter) skipRow(err error, result *platform.Result, counters *platform.Counters) {
	result.Skipped++
	counters.Inc("parse_errors")
	counters.Note(err.Error())
	a.logger.Debug("skipping export row", "error", err)
}

// ========================================
// Storage access
// ========================================

func (a *Adapter) listObjects(ctx context.Context, store ObjectStore, bucket, prefix string, counters *platform.Counters) ([]string, error) {
	policy := a.policy
	policy.OnRetry = func(int, error) { counters.Inc("list_retries") }

	paginator := s3.NewListObjectsV2Paginator(store, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := retry.DoValue(ctx, policy, platform.IsRetryable, func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, classify("list_objects", err)
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		counters.Inc("list_pages")
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *Adapter) getObject(ctx context.Context, store ObjectStore, bucket, key string, counters *platform.Counters) ([]byte, error) {
	policy := a.policy
	policy.OnRetry = func(int, error) { counters.Inc("download_retries") }

	data, err := retry.DoValue(ctx, policy, platform.IsRetryable, func(ctx context.Context) ([]byte, error) {
		out, err := store.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, classify("get_object", err)
		}
		defer func() { _ = out.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
		if err != nil {
			return nil, platform.TransportError(models.PlatformGooglePlay, "get_object", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	counters.Inc("objects_downloaded")
	return data, nil
}

// classify maps storage errors onto the shared platform error types.
func classify(op string, err error) error {
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) && withStatus.HTTPStatusCode() > 0 {
		return platform.ClassifyStatus(models.PlatformGooglePlay, op, withStatus.HTTPStatusCode(), err)
	}
	return platform.TransportError(models.PlatformGooglePlay, op, err)
}
