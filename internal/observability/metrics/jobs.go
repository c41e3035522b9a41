// Package metrics provides shared emit helpers on top of the StatsD sink.
package metrics

import (
	"time"

	obserrors "github.com/nagare-ml/nagare/internal/observability/errors"
	"github.com/nagare-ml/nagare/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures one job lifecycle event for metric emission.
type JobMetric struct {
	Domain     string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"domain":     in.Domain,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// SweepMetric captures one reconciler sweep for metric emission.
type SweepMetric struct {
	Removed int
	Kept    int
	Errs    int
	Elapsed time.Duration
}

// EmitSweep emits standardised artifact sweep metrics.
func EmitSweep(sink statsd.Sink, in SweepMetric) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	switch {
	case in.Errs > 0:
		result = ResultError
	case in.Removed == 0:
		result = ResultNoop
	}
	tags := map[string]string{"result": result}

	sink.Count("sweeper.sweep", 1, tags)
	sink.Count("sweeper.artifacts_removed", int64(in.Removed), nil)
	if in.Elapsed > 0 {
		sink.Timing("sweeper.sweep_duration", in.Elapsed, CloneTags(tags))
	}
	if in.Errs == 0 {
		sink.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
