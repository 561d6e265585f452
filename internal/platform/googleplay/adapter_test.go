package googleplay

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/retry"
)

// ========================================
// Test store
// ========================================

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failGets int // number of GetObject calls that fail with 503
	listErr  error
	gets     int
}

func (f *fakeStore) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeStore) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.gets <= f.failGets {
		return nil, statusErr{code: 503}
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, statusErr{code: 404}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testAdapter(store ObjectStore, now time.Time) *Adapter {
	return New(Options{
		Retry: retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Now:   func() time.Time { return now },
		NewStore: func(context.Context, *Credentials) (ObjectStore, error) {
			return store, nil
		},
	})
}

func testCredentials() *Credentials {
	return &Credentials{
		Bucket:          "pubsite_prod_rev_01234567890987654321",
		AccessKeyID:     "GOOG1EXAMPLE",
		SecretAccessKey: "secret",
		PackageName:     "com.example.app",
	}
}

// ========================================
// Fixtures
// ========================================

const earningsHeader = "Description,Transaction Date,Transaction Type,Product Title,Product id,Sku Id,Merchant Currency,Amount (Merchant Currency),Base Plan ID"

func earningsRow(order, date, txType, amount string) string {
	return fmt.Sprintf(`%s,"%s",%s,"Pro, monthly",com.example.app,pro,USD,%s,monthly`, order, date, txType, amount)
}

func utf16LE(t *testing.T, s string, bom bool) []byte {
	t.Helper()
	policy := unicode.IgnoreBOM
	if bom {
		policy = unicode.UseBOM
	}
	out, err := unicode.UTF16(unicode.LittleEndian, policy).NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func zipped(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	_, _ = w.Write(data)
	if err := zw.Close(); err != nil {
		t.Fatalf("zip: %v", err)
	}
	return buf.Bytes()
}

const (
	orderA = "GPA.1111-2222-3333-44444"
	orderB = "GPA.5555-6666-7777-88888"
	orderC = "GPA.9999-0000-1111-22222"
)

func earningsStore(t *testing.T) *fakeStore {
	feb := strings.Join([]string{
		earningsHeader,
		earningsRow(orderA, "Feb 3, 2026", "Charge", "9.99"),
		earningsRow(orderA, "Feb 3, 2026", "Google fee", "-1.50"),
		earningsRow(orderC, "Feb 5, 2026", "Charge", "9.99"),
	}, "\n")
	mar := strings.Join([]string{
		earningsHeader,
		earningsRow(orderA+"..0", "Mar 3, 2026", "Charge", "9.99"),
		earningsRow(orderA+"..0", "Mar 3, 2026", "Google fee", "-1.50"),
		earningsRow(orderB, "Mar 10, 2026", "Charge", "9.99"),
		earningsRow(orderB, "Mar 10, 2026", "Google fee", "-1.50"),
		earningsRow(orderB, "Mar 10, 2026", "Tax", "0.80"),
		earningsRow(orderB, "Mar 15, 2026", "Charge refund", "-9.99"),
		earningsRow(orderB, "Mar 15, 2026", "Google fee refund", "1.50"),
		`GPA.3333-0000-0000-00000,"Mar 11, 2026",Charge,Other,com.other.app,other,USD,4.99,monthly`,
		earningsRow("GPA.4444-0000-0000-00000", "someday", "Charge", "9.99"),
	}, "\n")
	apr := strings.Join([]string{
		earningsHeader,
		earningsRow(orderA+"..1", "Apr 3, 2026", "Charge", "9.99"),
	}, "\n")

	return &fakeStore{objects: map[string][]byte{
		"earnings/earnings_202602_0123.csv": []byte(feb),
		"earnings/earnings_202603_0123.zip": zipped(t, "earnings_202603_0123.csv", utf16LE(t, mar, true)),
		"earnings/earnings_202604_0123.csv": utf16LE(t, apr, false),
		"sales/salesreport_202603.zip":      []byte("ignored"),
	}}
}

// ========================================
// Decoding Tests
// ========================================

func TestDecodeText(t *testing.T) {
	const text = "Description,Amount\nGPA.1,9.99\n"
	tests := []struct {
		name string
		data []byte
	}{
		{"utf-8", []byte(text)},
		{"utf-8 bom", append([]byte{0xEF, 0xBB, 0xBF}, text...)},
		{"utf-16le bom", utf16LE(t, text, true)},
		{"utf-16le no bom", utf16LE(t, text, false)},
		{"utf-16be bom", mustEncode(t, unicode.UTF16(unicode.BigEndian, unicode.UseBOM), text)},
		{"utf-16be no bom", mustEncode(t, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), text)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeText(tt.data)
			if err != nil {
				t.Fatalf("decodeText() error = %v", err)
			}
			if string(got) != text {
				t.Errorf("decodeText() = %q, want %q", got, text)
			}
		})
	}
}

func mustEncode(t *testing.T, enc encoding.Encoding, s string) []byte {
	t.Helper()
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func TestReadCSV_QuotedDelimiters(t *testing.T) {
	var bad int
	rows, err := readCSV([]byte("A,B,C\n\"x, y\",2,3\nshort\nx\"y,1,2\n"), func(int, error) { bad++ })
	if err != nil {
		t.Fatalf("readCSV() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].get("A") != "x, y" || rows[0].get("C") != "3" {
		t.Errorf("row 0 = %v", rows[0].fields)
	}
	if rows[1].get("A") != "short" || rows[1].get("B") != "" {
		t.Errorf("short row = %v", rows[1].fields)
	}
	if bad != 0 {
		t.Errorf("bad = %d, want 0", bad)
	}
}

// ========================================
// Ledger Tests
// ========================================

func TestOrderIDs(t *testing.T) {
	if baseOrderID(orderA+"..12") != orderA || !isRenewal(orderA+"..0") || isRenewal(orderA) {
		t.Error("renewal suffix handling is wrong")
	}
}

func TestPeriodFor(t *testing.T) {
	tests := map[string]models.BillingInterval{
		"pro-yearly":  models.IntervalYear,
		"annual_plan": models.IntervalYear,
		"weekly":      models.IntervalWeek,
		"monthly":     models.IntervalMonth,
		"":            models.IntervalMonth,
	}
	for in, want := range tests {
		if got := periodFor(in); got != want {
			t.Errorf("periodFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMonthPrefixes(t *testing.T) {
	w := platform.NewWindow(time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC), time.Date(2026, time.April, 19, 0, 0, 0, 0, time.UTC))
	got := monthPrefixes(w)
	want := []string{"earnings/earnings_202602", "earnings/earnings_202603", "earnings/earnings_202604", "earnings/earnings_202605"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("monthPrefixes() = %v, want %v", got, want)
	}
}

// ========================================
// Fetch Tests
// ========================================

func TestFetch(t *testing.T) {
	store := earningsStore(t)
	store.failGets = 1
	now := time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC)
	window := platform.NewWindow(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))

	counters := platform.NewCounters()
	result, err := testAdapter(store, now).Fetch(context.Background(), testCredentials(), window, counters)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	events := map[string]platform.RawRevenueEvent{}
	for _, e := range result.RevenueEvents {
		events[e.ExternalID] = e
	}
	if len(events) != 3 {
		t.Fatalf("revenue events = %v, want 3", events)
	}

	renewal := events[orderA+"..0"]
	if renewal.Type != models.RevenueRenewal || renewal.SubscriptionExternalID != orderA || *renewal.AmountProceeds != 8.49 {
		t.Errorf("renewal = %+v", renewal)
	}
	first := events[orderB]
	if first.Type != models.RevenueFirstPayment || first.Amount != 10.79 || *first.AmountExcludingTax != 9.99 || *first.AmountProceeds != 8.49 {
		t.Errorf("first payment = %+v", first)
	}
	refund := events[orderB+":refund"]
	if refund.Type != models.RevenueRefund || refund.Amount != -9.99 || *refund.AmountProceeds != -8.49 {
		t.Errorf("refund = %+v", refund)
	}

	subs := map[string]platform.RawSubscription{}
	for _, s := range result.Subscriptions {
		subs[s.ExternalID] = s
	}
	if len(subs) != 3 {
		t.Fatalf("subscriptions = %d, want 3", len(subs))
	}
	if a := subs[orderA]; a.Status != models.SubscriptionStatusActive || !a.StartDate.Equal(time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("subscription A = %+v", a)
	}
	if b := subs[orderB]; b.Status != models.SubscriptionStatusCanceled {
		t.Errorf("subscription B status = %s, want canceled", b.Status)
	}

	if len(result.SubscriptionEvents) != 1 || result.SubscriptionEvents[0].ExternalID != "cancel:"+orderC {
		t.Errorf("subscription events = %+v", result.SubscriptionEvents)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if counters.Get("rows_other_app") != 1 || counters.Get("download_retries") != 1 || counters.Get("files_parsed") != 3 {
		t.Errorf("counters = %v", counters.Snapshot())
	}
}

func TestFetch_Idempotent(t *testing.T) {
	now := time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC)
	window := platform.NewWindow(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))
	a := testAdapter(earningsStore(t), now)

	first, err := a.Fetch(context.Background(), testCredentials(), window, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Fetch(context.Background(), testCredentials(), window, nil)
	if err != nil {
		t.Fatal(err)
	}
	ids := func(r *platform.Result) string {
		var out []string
		for _, e := range r.RevenueEvents {
			out = append(out, e.ExternalID)
		}
		sort.Strings(out)
		return strings.Join(out, ",")
	}
	if ids(first) != ids(second) {
		t.Errorf("external ids differ between runs: %s vs %s", ids(first), ids(second))
	}
}

func TestFetch_Forbidden(t *testing.T) {
	store := &fakeStore{listErr: statusErr{code: 403}}
	window := platform.NewWindow(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))

	_, err := testAdapter(store, time.Now()).Fetch(context.Background(), testCredentials(), window, nil)
	if !platform.IsCredentialError(err) {
		t.Errorf("expected credential error, got %v", err)
	}
}

func TestCredentials_Validate(t *testing.T) {
	if err := platform.Validate(testCredentials()); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	bad := testCredentials()
	bad.Bucket = "my-bucket"
	if err := platform.Validate(bad); err == nil {
		t.Error("expected error for non-export bucket")
	}
}
