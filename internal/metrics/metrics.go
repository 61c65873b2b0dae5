package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BidsAdmitted counts durably appended bids.
	BidsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbid_bids_admitted_total",
		Help: "Number of bids admitted to the ledger.",
	})

	// BidsRejected counts rejections by reason.
	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbid_bids_rejected_total",
		Help: "Number of bid submissions rejected, by reason.",
	}, []string{"reason"})

	// RateViewers tracks currently connected exchange-rate viewers.
	RateViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carbid_rate_viewers",
		Help: "Currently connected currency rate websocket viewers.",
	})
)
