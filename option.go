package paywatch

import (
	"github.com/openmerch/paywatch/delivery"
	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/metrics"
)

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

func WithDeliverer(d delivery.Deliverer) Option {
	return func(e *Engine) {
		e.deliverer = d
	}
}
