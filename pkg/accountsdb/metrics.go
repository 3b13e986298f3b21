package accountsdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizedSlotGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accountsdb_finalized_slot",
		Help: "Most recently finalized slot.",
	})
	acquireConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accountsdb_acquire_locked_total",
		Help: "Bulk acquisitions that failed because an account was held incompatibly.",
	})
	accountsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accountsdb_accounts_created_total",
		Help: "Accounts lazily created on first reference.",
	})
	updatesPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accountsdb_inflight_promoted_total",
		Help: "Inflight updates promoted to the finalized value.",
	})
	updatesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accountsdb_inflight_pruned_total",
		Help: "Inflight updates discarded because they were on a losing fork.",
	})
)
