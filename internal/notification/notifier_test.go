package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chart-rsi/internal/model"
)

func TestForAnalysis(t *testing.T) {
	a := &model.Analysis{ID: "a1", FileName: "btc.png", Period: 14, RSI: []float64{60, 75.5}, Latest: 75.5, Zone: model.ZoneOverbought}
	alert, ok := ForAnalysis(a)
	if !ok {
		t.Fatal("expected alert for overbought")
	}
	if alert.Title != "RSI overbought" || alert.Zone != model.ZoneOverbought || alert.Value != 75.5 {
		t.Errorf("alert = %+v", alert)
	}
	if !strings.Contains(alert.Message, "RSI(14) = 75.50") {
		t.Errorf("message = %q", alert.Message)
	}

	a.Zone = model.ZoneNeutral
	if _, ok := ForAnalysis(a); ok {
		t.Error("neutral analysis should not alert")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := n.Send(context.Background(), Alert{Title: "RSI oversold", AnalysisID: "a9", Zone: model.ZoneOversold}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), `"analysis_id":"a9"`) {
		t.Errorf("log output = %s", buf.String())
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method=%s content-type=%s", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 0)
	err := n.Send(context.Background(), Alert{Level: AlertWarning, Title: "RSI oversold", AnalysisID: "a2", Zone: model.ZoneOversold, Value: 21})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["analysis_id"] != "a2" || got["zone"] != "oversold" || got["value"] != 21.0 {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, 0).Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error on 502")
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var buf bytes.Buffer
	m := Multi{NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil))), failing{boom}}
	err := m.Send(context.Background(), Alert{Title: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined boom, got %v", err)
	}
	if buf.Len() == 0 {
		t.Error("log backend should still have run")
	}
}
