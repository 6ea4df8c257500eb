// Package exporter renders monitor state in the Prometheus text exposition
// format.
package exporter

import (
	"fmt"
	"io"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/blinkwatch/blinkwatch/internal/stats"
)

const namespace = "blinkwatch_"

// Input is everything the exporter reports.
type Input struct {
	Stats     stats.Stats
	Threshold float64
	Paused    bool

	// OpenTooLong and LowRate mirror the state machine's alert conditions.
	OpenTooLong bool
	LowRate     bool

	// Alerts counts fired alerts by reason.
	Alerts map[string]int

	// StoreDropped counts aggregate records lost to a full buffer.
	StoreDropped int64
	StorePending int
	StoreEnabled bool
}

// Families converts in into metric families sorted by name.
func Families(in Input) []*dto.MetricFamily {
	st := in.Stats
	fams := []*dto.MetricFamily{
		counter("blinks_total", "Blinks detected since the session started.", float64(st.TotalBlinks)),
		gauge("blinks_last_minute", "Blinks in the trailing 60 seconds.", float64(st.BlinksLastMinute)),
		gauge("session_seconds", "Seconds since the session started.", st.SessionSeconds),
		gauge("seconds_since_last_blink", "Seconds since the last blink, 0 before the first.", st.SecondsSinceLastBlink),
		gauge("consecutive_open_seconds", "Seconds the eyes have stayed open.", st.ConsecutiveOpenSeconds),
		gauge("blink_duration_avg_ms", "Average blink duration over the trailing minute.", st.AvgBlinkDurationMs),
		gauge("ear_threshold", "Current eye aspect ratio closure threshold.", in.Threshold),
		gauge("paused", "1 while alerts are paused.", boolValue(in.Paused)),
		gauge("open_too_long", "1 while the no-blink gap exceeds its limit.", boolValue(in.OpenTooLong)),
		gauge("low_rate", "1 while the blink rate is below its limit.", boolValue(in.LowRate)),
		counter("store_dropped_total", "Aggregate records evicted from a full buffer.", float64(in.StoreDropped)),
		gauge("store_pending", "Aggregate records waiting to be written.", float64(in.StorePending)),
		gauge("store_enabled", "1 while aggregate recording is enabled.", boolValue(in.StoreEnabled)),
	}
	// The text format rejects families without samples.
	if len(in.Alerts) > 0 {
		fams = append(fams, alerts(in.Alerts))
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// Write encodes in as Prometheus text to w.
func Write(w io.Writer, in Input) error {
	for _, mf := range Families(in) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("exporter: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the exposition built from source on every request.
func Handler(source func() Input) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := Write(w, source()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func alerts(byReason map[string]int) *dto.MetricFamily {
	mf := family("alerts_total", "Alerts fired by reason.", dto.MetricType_COUNTER)
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: ptr("reason"), Value: ptr(r)}},
			Counter: &dto.Counter{Value: ptr(float64(byReason[r]))},
		})
	}
	return mf
}

func counter(name, help string, v float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_COUNTER)
	mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}}
	return mf
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_GAUGE)
	mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}}
	return mf
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(namespace + name),
		Help: ptr(help),
		Type: typ.Enum(),
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func ptr[T any](v T) *T { return &v }
