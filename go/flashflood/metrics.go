package flashflood

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics of engine activity.
var eventsPut = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flashflood_events_put_total",
	Help: "counter of events written through Put",
})
var eventsReplayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flashflood_events_replayed_total",
	Help: "counter of events yielded by Replay",
})
var journalsUploaded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flashflood_journals_uploaded_total",
	Help: "counter of journal uploads, including one-event and compacted journals",
})
var journalsCombined = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flashflood_journals_combined_total",
	Help: "counter of source journals consumed by compaction",
})
var markersApplied = promauto.NewCounter(prometheus.CounterOpts{
	Name: "flashflood_update_markers_applied_total",
	Help: "counter of update and delete markers applied by Update",
})
