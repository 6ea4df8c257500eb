package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/aggstore"
	"github.com/blinkwatch/blinkwatch/internal/api"
	"github.com/blinkwatch/blinkwatch/internal/blink"
	"github.com/blinkwatch/blinkwatch/internal/config"
	"github.com/blinkwatch/blinkwatch/internal/eye"
	"github.com/blinkwatch/blinkwatch/internal/pipeline"
	"github.com/blinkwatch/blinkwatch/internal/stats"
	"github.com/blinkwatch/blinkwatch/internal/trigger"
)

// --- test helpers -----------------------------------------------------------

var baseTime = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func init() { gin.SetMode(gin.TestMode) }

func clock() time.Time { return baseTime }

func newMonitor() *pipeline.Monitor {
	return pipeline.New(pipeline.Options{
		Analyzer: eye.Options{Threshold: 0.2, ConsecutiveFrames: 1, SmoothWindow: 1},
		Blink:    blink.DefaultOptions(),
		Trigger:  trigger.DefaultSettings(),
	}, nil, zap.NewNop(), pipeline.WithClock(clock))
}

func newAPI(t *testing.T, mon *pipeline.Monitor, store *aggstore.Async, authCfg config.AuthConfig) http.Handler {
	t.Helper()
	return api.New(api.Deps{Monitor: mon, Store: store, Auth: authCfg})
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// blinkBody is one 150ms blink at 50ms frame spacing starting at baseTime.
func blinkBody() string {
	return blinkBodyAt(baseTime)
}

func blinkBodyAt(start time.Time) string {
	ears := []float64{0.3, 0.1, 0.1, 0.1, 0.3, 0.3}
	var b bytes.Buffer
	b.WriteString("[")
	for i, v := range ears {
		if i > 0 {
			b.WriteString(",")
		}
		ts := start.Add(time.Duration(i*50) * time.Millisecond).Format(time.RFC3339Nano)
		b.WriteString(`{"timestamp":"` + ts + `","left_ear":` + jsonFloat(v) + `,"right_ear":` + jsonFloat(v) + `}`)
	}
	b.WriteString("]")
	return b.String()
}

func jsonFloat(v float64) string {
	out, _ := json.Marshal(v)
	return string(out)
}

// --- /api/v1/frames ---------------------------------------------------------

func TestFrames_DetectsBlink(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})

	rr := do(t, h, http.MethodPost, "/api/v1/frames", blinkBody())
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var res []pipeline.FrameResult
	decode(t, rr, &res)
	if len(res) != 6 {
		t.Fatalf("results: got %d, want 6", len(res))
	}
	if res[5].Blink == nil || res[5].Blink.DurationMs != 150 {
		t.Errorf("last frame blink: got %+v, want 150ms blink", res[5].Blink)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/stats", "")
	var st stats.Stats
	decode(t, rr, &st)
	if st.TotalBlinks != 1 {
		t.Errorf("total_blinks: got %d, want 1", st.TotalBlinks)
	}
}

func TestFrames_StaleTimestampsShareClock(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})

	// The client clock runs 30s behind the server.
	rr := do(t, h, http.MethodPost, "/api/v1/frames", blinkBodyAt(baseTime.Add(-30*time.Second)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/api/v1/stats", "")
	var st stats.Stats
	decode(t, rr, &st)
	if st.TotalBlinks != 1 {
		t.Fatalf("total_blinks: got %d, want 1", st.TotalBlinks)
	}
	if st.SecondsSinceLastBlink != 0 {
		t.Errorf("time_since_last_blink_seconds: got %v, want 0 on the frame clock", st.SecondsSinceLastBlink)
	}
}

func TestFrames_Geometry(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	open := `[{"x":0,"y":0},{"x":1,"y":0.3},{"x":2,"y":0.3},{"x":3,"y":0},{"x":2,"y":-0.3},{"x":1,"y":-0.3}]`
	rr := do(t, h, http.MethodPost, "/api/v1/frames", `[{"left":`+open+`,"right":`+open+`}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var res []pipeline.FrameResult
	decode(t, rr, &res)
	// (0.6 + 0.6) / (2 * 3) = 0.2 per eye.
	if got := res[0].Sample.AvgEAR; got < 0.1999 || got > 0.2001 {
		t.Errorf("avg_ear: got %v, want 0.2", got)
	}
	if !res[0].Timestamp.Equal(baseTime) {
		t.Errorf("timestamp: got %v, want clock time", res[0].Timestamp)
	}
}

func TestFrames_Invalid(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	cases := map[string]string{
		"malformed":  `{`,
		"empty":      `[]`,
		"no data":    `[{}]`,
		"half ratio": `[{"left_ear":0.3}]`,
		"both kinds": `[{"left_ear":0.3,"right_ear":0.3,"left":[]}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/frames", body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", rr.Code)
			}
		})
	}
}

// --- pause / resume ---------------------------------------------------------

func TestPause_Minutes(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})

	rr := do(t, h, http.MethodPost, "/api/v1/pause", `{"minutes":30}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.PauseResponse
	decode(t, rr, &resp)
	if want := baseTime.Add(30 * time.Minute); !resp.PausedUntil.Equal(want) {
		t.Errorf("paused_until: got %v, want %v", resp.PausedUntil, want)
	}
	if !mon.Snapshot().Paused {
		t.Error("monitor not paused")
	}

	rr = do(t, h, http.MethodPost, "/api/v1/resume", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status: got %d, want 200", rr.Code)
	}
	if mon.Snapshot().Paused {
		t.Error("monitor still paused after resume")
	}
}

func TestPause_FullDay(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	rr := do(t, h, http.MethodPost, "/api/v1/pause", `{"minutes":1440}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.PauseResponse
	decode(t, rr, &resp)
	if want := baseTime.Add(24 * time.Hour); !resp.PausedUntil.Equal(want) {
		t.Errorf("paused_until: got %v, want %v", resp.PausedUntil, want)
	}
}

func TestPause_Tomorrow(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	rr := do(t, h, http.MethodPost, "/api/v1/pause", `{"until":"tomorrow"}`)
	var resp api.PauseResponse
	decode(t, rr, &resp)
	if want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC); !resp.PausedUntil.Equal(want) {
		t.Errorf("paused_until: got %v, want %v", resp.PausedUntil, want)
	}
}

func TestPause_Invalid(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	for _, body := range []string{`{}`, `{"minutes":-5}`, `{"minutes":1441}`, `{"minutes":1e9}`, `{"until":"friday"}`} {
		if rr := do(t, h, http.MethodPost, "/api/v1/pause", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", body, rr.Code)
		}
	}
}

// --- threshold / calibrate --------------------------------------------------

func TestThreshold_SetClamps(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})

	rr := do(t, h, http.MethodPut, "/api/v1/threshold", `{"threshold":0.9}`)
	var resp api.ThresholdResponse
	decode(t, rr, &resp)
	if resp.Threshold != 0.4 {
		t.Errorf("threshold: got %v, want 0.4", resp.Threshold)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/threshold", "")
	decode(t, rr, &resp)
	if resp.Threshold != 0.4 {
		t.Errorf("GET threshold: got %v, want 0.4", resp.Threshold)
	}

	if rr := do(t, h, http.MethodPut, "/api/v1/threshold", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing threshold: got %d, want 400", rr.Code)
	}
}

func TestCalibrate(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})

	rr := do(t, h, http.MethodPost, "/api/v1/calibrate", `{"seconds":2}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rr.Code)
	}
	var resp api.CalibrateResponse
	decode(t, rr, &resp)
	if want := baseTime.Add(2 * time.Second); !resp.Deadline.Equal(want) {
		t.Errorf("deadline: got %v, want %v", resp.Deadline, want)
	}
	if !mon.Calibrating() {
		t.Error("monitor not calibrating")
	}

	rr = do(t, h, http.MethodPost, "/api/v1/calibrate", "")
	decode(t, rr, &resp)
	if want := baseTime.Add(eye.DefaultCalibrationWindow); !resp.Deadline.Equal(want) {
		t.Errorf("default deadline: got %v, want %v", resp.Deadline, want)
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/calibrate", `{"seconds":600}`); rr.Code != http.StatusBadRequest {
		t.Errorf("long window: got %d, want 400", rr.Code)
	}
}

// --- settings ---------------------------------------------------------------

func TestSettings_PartialUpdate(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})

	rr := do(t, h, http.MethodPut, "/api/v1/settings", `{"no_blink_seconds":45,"quiet_hours":{"enabled":true}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	s := mon.Settings()
	if s.NoBlinkSeconds != 45 {
		t.Errorf("no_blink_seconds: got %v, want 45", s.NoBlinkSeconds)
	}
	if !s.QuietHours.Enabled || s.QuietHours.Start.String() != "23:00" {
		t.Errorf("quiet_hours: got %+v, want enabled 23:00", s.QuietHours)
	}
	if s.LowRateThreshold != 12 {
		t.Errorf("low_rate_threshold: got %v, want unchanged 12", s.LowRateThreshold)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/settings", "")
	var got trigger.Settings
	decode(t, rr, &got)
	if got.NoBlinkSeconds != 45 {
		t.Errorf("GET no_blink_seconds: got %v, want 45", got.NoBlinkSeconds)
	}
}

func TestSettings_Invalid(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})
	for _, body := range []string{
		`{"no_blink_seconds":2}`,
		`{"mode":"sometimes"}`,
		`{"quiet_hours":{"start":"25:00"}}`,
	} {
		if rr := do(t, h, http.MethodPut, "/api/v1/settings", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", body, rr.Code)
		}
	}
	if mon.Settings() != trigger.DefaultSettings() {
		t.Error("settings changed by a rejected update")
	}
}

// --- aggregate / metrics / status -------------------------------------------

func TestAggregate(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	if rr := do(t, h, http.MethodGet, "/api/v1/aggregate", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("without store: got %d, want 503", rr.Code)
	}

	mem := aggstore.NewMemory()
	if err := mem.RecordBlink(context.Background(), baseTime); err != nil {
		t.Fatal(err)
	}
	h = newAPI(t, newMonitor(), aggstore.NewAsync(mem, 8, zap.NewNop()), config.AuthConfig{})
	rr := do(t, h, http.MethodGet, "/api/v1/aggregate", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var agg aggstore.Aggregate
	decode(t, rr, &agg)
	if agg.DailyCounts["2026-01-01"] != 1 {
		t.Errorf("daily_counts: got %v, want 2026-01-01=1", agg.DailyCounts)
	}
}

func TestMetrics(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})
	do(t, h, http.MethodPost, "/api/v1/frames", blinkBody())

	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var p expfmt.TextParser
	fams, err := p.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse metrics: %v", err)
	}
	f, ok := fams["blinkwatch_blinks_total"]
	if !ok {
		t.Fatal("blinkwatch_blinks_total missing")
	}
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("blinks_total: got %v, want 1", got)
	}
}

func TestMetrics_StoreGauges(t *testing.T) {
	store := aggstore.NewAsync(aggstore.NewMemory(), 8, zap.NewNop())
	store.RecordBlink(baseTime)
	store.RecordTrigger(baseTime)
	store.SetEnabled(false)
	h := newAPI(t, newMonitor(), store, config.AuthConfig{})

	rr := do(t, h, http.MethodGet, "/metrics", "")
	var p expfmt.TextParser
	fams, err := p.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse metrics: %v", err)
	}
	for name, want := range map[string]float64{
		"blinkwatch_store_pending": 2,
		"blinkwatch_store_enabled": 0,
	} {
		f, ok := fams[name]
		if !ok {
			t.Errorf("%s missing", name)
			continue
		}
		if got := f.GetMetric()[0].GetGauge().GetValue(); got != want {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestStatus_MachineConditions(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})
	do(t, h, http.MethodPost, "/api/v1/frames", blinkBodyAt(baseTime.Add(-time.Minute)))

	rr := do(t, h, http.MethodGet, "/api/v1/status", "")
	var st pipeline.Status
	decode(t, rr, &st)
	if st.LastOpen == nil || !st.LastOpen.Equal(baseTime.Add(-time.Minute+250*time.Millisecond)) {
		t.Errorf("last_open: got %v", st.LastOpen)
	}
	if st.OpenTooLong {
		t.Error("open_too_long: a blink was just seen")
	}
}

func TestStatus(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	rr := do(t, h, http.MethodGet, "/api/v1/status", "")
	var st pipeline.Status
	decode(t, rr, &st)
	if st.Threshold != 0.2 || st.State != blink.StateOpen {
		t.Errorf("status: got threshold %v state %q", st.Threshold, st.State)
	}
}

func TestReset(t *testing.T) {
	mon := newMonitor()
	h := newAPI(t, mon, nil, config.AuthConfig{})
	do(t, h, http.MethodPost, "/api/v1/frames", blinkBody())

	rr := do(t, h, http.MethodPost, "/api/v1/reset", "")
	var st stats.Stats
	decode(t, rr, &st)
	if st.TotalBlinks != 0 {
		t.Errorf("total_blinks after reset: got %d, want 0", st.TotalBlinks)
	}
}

// --- auth / routing ---------------------------------------------------------

func TestAuth_GuardsMutatingRoutes(t *testing.T) {
	t.Setenv("BLINKWATCH_TEST_KEY", "s3cret")
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{
		Mode: "apikey", Header: "x-api-key", KeyEnv: "BLINKWATCH_TEST_KEY",
	})

	if rr := do(t, h, http.MethodPost, "/api/v1/resume", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/resume", "", "x-api-key", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/resume", "", "x-api-key", "s3cret"); rr.Code != http.StatusOK {
		t.Errorf("valid key: got %d, want 200", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/stats", ""); rr.Code != http.StatusOK {
		t.Errorf("read route: got %d, want 200", rr.Code)
	}
}

func TestNotFound(t *testing.T) {
	h := newAPI(t, newMonitor(), nil, config.AuthConfig{})
	rr := do(t, h, http.MethodGet, "/api/v1/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content-type: got %q", ct)
	}
}
