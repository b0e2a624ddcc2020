package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"chart-rsi/internal/gateway"
	"chart-rsi/internal/indicator"
	"chart-rsi/internal/metrics"
	"chart-rsi/internal/model"
	"chart-rsi/internal/notification"
	"chart-rsi/internal/pipeline"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type memJournal struct {
	mu    sync.Mutex
	items map[string]*model.Analysis
}

func newMemJournal() *memJournal { return &memJournal{items: map[string]*model.Analysis{}} }

func (j *memJournal) Save(_ context.Context, a *model.Analysis) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items[a.ID] = a
	return nil
}

func (j *memJournal) Get(_ context.Context, id string) (*model.Analysis, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.items[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return a, nil
}

func (j *memJournal) List(_ context.Context, limit int) ([]model.Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.Summary, 0, len(j.items))
	for _, a := range j.items {
		out = append(out, a.Summarize())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *memJournal) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (j *memJournal) Close() error                                    { return nil }

type fakePublisher struct {
	err    error
	calls  int
	latest []byte
}

func (p *fakePublisher) Publish(_ context.Context, a *model.Analysis) error {
	p.calls++
	if p.err == nil {
		p.latest = a.JSON()
	}
	return p.err
}

func (p *fakePublisher) Latest(context.Context) ([]byte, error) { return p.latest, nil }

type recordingNotifier struct{ alerts []notification.Alert }

func (n *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

type fixture struct {
	srv      *Server
	journal  *memJournal
	hub      *gateway.Hub
	metrics  *metrics.Metrics
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts Options, pub LatestPublisher) *fixture {
	t.Helper()
	p, err := pipeline.New(pipeline.DefaultOptions())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	f := &fixture{
		journal:  newMemJournal(),
		hub:      gateway.NewHub(10),
		metrics:  metrics.NewMetrics(),
		notifier: &recordingNotifier{},
	}
	f.srv, err = NewServer(opts, Deps{
		Pipeline:  p,
		Zones:     indicator.DefaultZones(),
		Journal:   f.journal,
		Publisher: pub,
		Hub:       f.hub,
		Notifier:  f.notifier,
		Metrics:   f.metrics,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return f
}

// risingChart is a 200x100 white PNG with a thick line rising left to right.
func risingChart(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for x := 10; x < 190; x++ {
		cy := 85 - (x-10)*70/180
		draw.Draw(img, image.Rect(x, cy-2, x+1, cy+3), image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func blankChart(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func uploadRequest(t *testing.T, fileName string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func calibration() map[string]string {
	return map[string]string{"price_min": "100", "price_max": "200", "chart_height": "100"}
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e.Error
}

// ────────────────────────────────────────────────────────────
// Upload
// ────────────────────────────────────────────────────────────

func TestAnalyze_Success(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(traceHeader) == "" {
		t.Error("missing trace header")
	}

	var a model.Analysis
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.ID == "" || a.FileName != "chart.png" || a.Period != indicator.DefaultPeriod || a.Method != "sma" {
		t.Errorf("analysis = %+v", a)
	}
	if len(a.RSI) == 0 || a.Latest != a.RSI[len(a.RSI)-1] {
		t.Errorf("rsi len=%d latest=%v", len(a.RSI), a.Latest)
	}
	if a.Zone != indicator.DefaultZones().Classify(a.Latest) {
		t.Errorf("zone = %s for latest %v", a.Zone, a.Latest)
	}

	if _, err := f.journal.Get(context.Background(), a.ID); err != nil {
		t.Errorf("analysis not journaled: %v", err)
	}
	if f.hub.Seq() != 1 {
		t.Errorf("hub seq = %d, want 1 (local broadcast)", f.hub.Seq())
	}
	if got := testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK)); got != 1 {
		t.Errorf("ok counter = %v", got)
	}
	if a.Zone != model.ZoneNeutral && len(f.notifier.alerts) != 1 {
		t.Errorf("alerts = %d for zone %s", len(f.notifier.alerts), a.Zone)
	}
}

func TestAnalyze_CustomPeriod(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	fields := calibration()
	fields["period"] = "5"
	rec := serve(f, uploadRequest(t, "chart.PNG", risingChart(t), fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var a model.Analysis
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Period != 5 {
		t.Errorf("period = %d, want 5", a.Period)
	}

	fields["period"] = "zero"
	if rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), fields)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad period status = %d", rec.Code)
	}
}

func TestAnalyze_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		file   string
		data   func(*testing.T) []byte
		fields map[string]string
		status int
	}{
		{"missing file", "", risingChart, calibration(), http.StatusBadRequest},
		{"wrong extension", "chart.gif", risingChart, calibration(), http.StatusBadRequest},
		{"not an image", "chart.png", func(*testing.T) []byte { return []byte("hello") }, calibration(), http.StatusBadRequest},
		{"inverted range", "chart.png", risingChart, map[string]string{"price_min": "200", "price_max": "100", "chart_height": "100"}, http.StatusBadRequest},
		{"non-numeric price", "chart.png", risingChart, map[string]string{"price_min": "abc", "price_max": "100", "chart_height": "100"}, http.StatusBadRequest},
		{"blank chart", "chart.png", blankChart, calibration(), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{}, nil)
			rec := serve(f, uploadRequest(t, tc.file, tc.data(t), tc.fields))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tc.status, rec.Body.String())
			}
			if f.hub.Seq() != 0 {
				t.Error("rejected upload must not broadcast")
			}
		})
	}
}

func TestAnalyze_CalibrationCheckedBeforeDecode(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	fields := map[string]string{"price_min": "5", "price_max": "5", "chart_height": "100"}
	rec := serve(f, uploadRequest(t, "chart.png", []byte("not a png"), fields))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.HasPrefix(msg, model.ErrCalibration.Error()) {
		t.Errorf("message = %q, want calibration error", msg)
	}
	if got := testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeCalibration)); got != 1 {
		t.Errorf("calibration counter = %v", got)
	}
}

func TestAnalyze_EmptyBoundaryMessage(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	rec := serve(f, uploadRequest(t, "chart.jpg", blankChart(t), calibration()))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "no price line detected" {
		t.Errorf("message = %q", msg)
	}
}

func TestAnalyze_UploadTooLarge(t *testing.T) {
	f := newFixture(t, Options{MaxUploadBytes: 512}, nil)
	rec := serve(f, uploadRequest(t, "chart.png", bytes.Repeat([]byte{0}, 4096), calibration()))
	if rec.Code < 400 || rec.Code >= 500 {
		t.Fatalf("status = %d, want a 4xx rejection", rec.Code)
	}
}

// ────────────────────────────────────────────────────────────
// Fan-out
// ────────────────────────────────────────────────────────────

func TestAnalyze_PublishesThroughRedis(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, Options{}, pub)
	rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if pub.calls != 1 {
		t.Errorf("publish calls = %d", pub.calls)
	}
	if f.hub.Seq() != 0 {
		t.Error("hub should be fed by the subscription, not locally")
	}

	latest := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/latest", nil))
	if latest.Code != http.StatusOK || !bytes.Equal(latest.Body.Bytes(), pub.latest) {
		t.Errorf("latest = %d %s", latest.Code, latest.Body.String())
	}
}

func TestAnalyze_PublishFailureFallsBack(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	f := newFixture(t, Options{}, pub)
	rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.hub.Seq() != 1 {
		t.Errorf("hub seq = %d, want local broadcast", f.hub.Seq())
	}
	if got := testutil.ToFloat64(f.metrics.PublishFailures); got != 1 {
		t.Errorf("publish failures = %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Lookups
// ────────────────────────────────────────────────────────────

func TestLookups(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	if rec := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/latest", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("latest on empty journal = %d", rec.Code)
	}

	rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	var a model.Analysis
	json.Unmarshal(rec.Body.Bytes(), &a)

	get := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+a.ID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}

	list := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=5", nil))
	var summaries []model.Summary
	json.Unmarshal(list.Body.Bytes(), &summaries)
	if list.Code != http.StatusOK || len(summaries) != 1 || summaries[0].ID != a.ID {
		t.Errorf("list = %d %s", list.Code, list.Body.String())
	}
	if rec := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=x", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	latest := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/latest", nil))
	if latest.Code != http.StatusOK || !strings.Contains(latest.Body.String(), a.ID) {
		t.Errorf("latest = %d %s", latest.Code, latest.Body.String())
	}

	plot := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+a.ID+"/plot.png", nil))
	if plot.Code != http.StatusOK || plot.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("plot = %d %s", plot.Code, plot.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(plot.Body); err != nil {
		t.Errorf("plot is not a PNG: %v", err)
	}

	if rec := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	if rec := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	f.metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	rec := serve(f, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "chartrsi_analyses_total") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

// ────────────────────────────────────────────────────────────
// Middleware
// ────────────────────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 0.001, RateBurst: 1}, nil)
	first := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
}

func TestTOTPGate(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "chartrsi", AccountName: "uploader"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f := newFixture(t, Options{TOTPSecret: key.Secret()}, nil)

	if rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration())); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no code status = %d", rec.Code)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	req := uploadRequest(t, "chart.png", risingChart(t), calibration())
	req.Header.Set(totpHeader, code)
	if rec := serve(f, req); rec.Code != http.StatusCreated {
		t.Errorf("valid code status = %d body=%s", rec.Code, rec.Body.String())
	}

	if rec := serve(f, httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)); rec.Code != http.StatusOK {
		t.Errorf("reads should not need a code, got %d", rec.Code)
	}
}

func TestTraceHeaderEchoed(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	req.Header.Set(traceHeader, "trace-123")
	if got := serve(f, req).Header().Get(traceHeader); got != "trace-123" {
		t.Errorf("trace header = %q", got)
	}
}

func TestIPLimiter_Disabled(t *testing.T) {
	l := newIPLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatal("zero rate should disable limiting")
		}
	}
}

func TestIPLimiter_EvictsIdleClients(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		l.Allow(ip)
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}

	// One client keeps talking; the other two go quiet past the idle window.
	now = now.Add(limiterIdleTTL / 2)
	l.Allow("10.0.0.1")
	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.Allow("10.0.0.1")

	if l.Len() != 1 {
		t.Fatalf("Len after sweep = %d, want 1", l.Len())
	}
	// A returning client gets a fresh full bucket.
	if !l.Allow("10.0.0.2") {
		t.Error("evicted client should start with a full bucket")
	}
}

func TestAnalyze_RejectsOversizedRaster(t *testing.T) {
	// The 200x100 chart is 20000 pixels, one over the limit.
	f := newFixture(t, Options{MaxPixels: 19_999}, nil)
	rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body=%s)", rec.Code, rec.Body.String())
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "200x100") {
		t.Errorf("message = %q", msg)
	}
	if got := testutil.ToFloat64(f.metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeBadRequest)); got != 1 {
		t.Errorf("bad_request counter = %v", got)
	}

	// Exactly at the limit is accepted.
	f = newFixture(t, Options{MaxPixels: 20_000}, nil)
	if rec := serve(f, uploadRequest(t, "chart.png", risingChart(t), calibration())); rec.Code != http.StatusCreated {
		t.Errorf("at-limit status = %d", rec.Code)
	}
}

func TestDecodeImage_HeaderOnlyCheck(t *testing.T) {
	// A PNG whose header declares 30000x30000 is refused from DecodeConfig alone.
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	data := buf.Bytes()
	// IHDR: type at 12..16, width/height at 16..24, CRC over type+data at 29..33.
	putBE32(data[16:20], 30000)
	putBE32(data[20:24], 30000)
	putBE32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	f := newFixture(t, Options{}, nil)
	rec := serve(f, uploadRequest(t, "huge.png", data, calibration()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "30000x30000") {
		t.Errorf("message = %q", msg)
	}
}

func putBE32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
