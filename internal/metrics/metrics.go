package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/hbomb79/Archivist/pkg/logger"
)

var log = logger.Get("Metrics")

const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	SinkPrometheus = "prometheus"
	SinkCloudWatch = "cloudwatch"
	SinkNone       = "none"
)

// Recorder receives the per-item and per-batch measurements emitted by
// the archive coordinator.
type Recorder interface {
	ObserveItem(ctx context.Context, outcome string, duration time.Duration)
	ObserveBatch(ctx context.Context, size int, duration time.Duration)
}

type Config struct {
	Sink      string `yaml:"sink" env:"METRICS_SINK" env-default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE" env-default:"archivist"`
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) ObserveItem(context.Context, string, time.Duration) {}
func (Noop) ObserveBatch(context.Context, int, time.Duration)   {}

func validOutcome(outcome string) error {
	switch outcome {
	case OutcomeDone, OutcomeSkipped, OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("unknown item outcome %q", outcome)
	}
}
