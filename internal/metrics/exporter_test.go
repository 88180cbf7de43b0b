package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"radioftp/internal/metrics"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveTransfer(t *testing.T) {
	applied := metrics.Transfers.WithLabelValues("applied")
	aborted := metrics.Transfers.WithLabelValues("aborted")
	initialApplied := getCounterValue(applied)
	initialAborted := getCounterValue(aborted)
	initialDurations := getHistogramCount(metrics.TransferDuration)

	metrics.MissingSegments.Set(12)
	metrics.ObserveTransfer("applied", 3*time.Second)
	metrics.ObserveTransfer("aborted", time.Second)

	if got := getCounterValue(applied); got != initialApplied+1 {
		t.Fatalf("applied transfers expected %v, got %v", initialApplied+1, got)
	}
	if got := getCounterValue(aborted); got != initialAborted+1 {
		t.Fatalf("aborted transfers expected %v, got %v", initialAborted+1, got)
	}
	if got := getHistogramCount(metrics.TransferDuration); got != initialDurations+1 {
		t.Fatalf("TransferDuration count expected %v, got %v", initialDurations+1, got)
	}
	if got := getGaugeValue(metrics.MissingSegments); got != 0 {
		t.Fatalf("MissingSegments expected 0, got %v", got)
	}
}

func TestObserveDownlink(t *testing.T) {
	metrics.ObserveDownlink(-97, 14)

	if got := getGaugeValue(metrics.LastRSSI); got != -97 {
		t.Fatalf("LastRSSI expected -97, got %v", got)
	}
	if got := getGaugeValue(metrics.LastSNR); got != 14 {
		t.Fatalf("LastSNR expected 14, got %v", got)
	}
}
