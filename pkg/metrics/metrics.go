package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var challengesIssued = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "x402_challenges_issued_total",
		Help: "Number of 402 payment challenges issued to unpaid requests",
	},
)

var paymentsAccepted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "x402_payments_accepted_total",
		Help: "Number of accepted payments, partitioned by verification mode",
	},
	[]string{
		// "settled" for real on-chain settlement, "signature_only" for
		// the trust-but-verify fallback. Operators alert on the latter.
		"mode",
	},
)

var paymentsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "x402_payments_rejected_total",
		Help: "Number of rejected payments, partitioned by rejection reason",
	},
	[]string{
		"reason",
	},
)

var replaysBlocked = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "x402_replays_blocked_total",
		Help: "Number of payments rejected for reusing a consumed nonce",
	},
)

func ChallengeIssued() {
	challengesIssued.Inc()
}

func PaymentSettled() {
	paymentsAccepted.With(map[string]string{"mode": "settled"}).Inc()
}

func PaymentVerifiedSignatureOnly() {
	paymentsAccepted.With(map[string]string{"mode": "signature_only"}).Inc()
}

func PaymentRejected(reason string) {
	paymentsRejected.With(map[string]string{"reason": reason}).Inc()
}

func ReplayBlocked() {
	replaysBlocked.Inc()
}
