package agentlogs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promStreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_log_streams_started_total",
		Help: "Container log streams started.",
	})
	promStreamsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_log_streams_ended_total",
		Help: "Container log streams ended, for any reason.",
	})
	promLinesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_log_lines_total",
		Help: "Log lines flushed into stream buffers.",
	})
	promLinesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bettermonitor_log_lines_evicted_total",
		Help: "Log lines evicted from full stream buffers.",
	})
)
