package updateagent

import (
	"time"

	"github.com/armon/go-metrics"
)

// instrumentTick times one full scheduler iteration and counts the
// ticks that start in each state.
func instrumentTick(stateName string) func() {
	start := time.Now()
	metrics.IncrCounter([]string{"updateagent", "state", stateName}, 1)
	return func() {
		metrics.MeasureSince([]string{"updateagent", "tick"}, start)
	}
}
