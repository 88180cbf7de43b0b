package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(SegmentsWritten, DuplicateSegments, RequestsSent, Errors, Transfers)
	prometheus.MustRegister(MissingSegments, EngineState, TransferDuration, LastRSSI, LastSNR)
}

// StartServer serves /metrics on addr in the background. The returned
// server is shut down by the caller.
func StartServer(addr string, log logging.LeveledLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Prometheus exporter listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Failed to start metrics server: %v", err)
		}
	}()
	return srv
}

// ObserveDownlink records the signal quality of a received frame.
func ObserveDownlink(rssi int16, snr uint8) {
	LastRSSI.Set(float64(rssi))
	LastSNR.Set(float64(snr))
}

// ObserveTransfer records a finished transfer.
func ObserveTransfer(result string, elapsed time.Duration) {
	Transfers.WithLabelValues(result).Inc()
	if result == "applied" {
		TransferDuration.Observe(elapsed.Seconds())
	}
	MissingSegments.Set(0)
}
