package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SegmentsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radioftp_segments_written_total",
		Help: "Total number of segments durably written to the store",
	})

	DuplicateSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radioftp_duplicate_segments_total",
		Help: "Total number of segments received more than once",
	})

	RequestsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radioftp_segment_requests_total",
		Help: "Total number of retransmission requests sent",
	})

	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radioftp_errors_total",
			Help: "Total number of transfer errors by kind",
		},
		[]string{"kind"}, // protocol, storage, transport, range
	)

	Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radioftp_transfers_total",
			Help: "Total number of finished transfers by result",
		},
		[]string{"result"}, // applied, aborted
	)

	MissingSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radioftp_missing_segments",
		Help: "Segments the active transfer is still waiting for",
	})

	EngineState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radioftp_engine_state",
		Help: "Transfer engine state (0=idle, 1=segment, 2=apply)",
	})

	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "radioftp_transfer_duration_seconds",
		Help:    "Time from Open to apply",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	LastRSSI = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radioftp_last_rssi_dbm",
		Help: "RSSI of the last received downlink",
	})

	LastSNR = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "radioftp_last_snr",
		Help: "Raw SNR of the last received downlink",
	})
)
