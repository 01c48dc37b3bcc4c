// Package worker consumes encoded completed-upload descriptors from the
// handoff channel and dispatches them for post-processing.
package worker

import (
	"context"

	"github.com/dmitrijs2005/measurekeeper/internal/logging"
	"github.com/dmitrijs2005/measurekeeper/internal/server/wire"
)

// Handler processes one decoded descriptor.
type Handler func(ctx context.Context, d wire.Descriptor) error

// Worker is the asynchronous persistence worker on the receiving end of
// the descriptor handoff channel. Each payload is consumed exactly once;
// decode or handler failures are logged and never stop the worker.
type Worker struct {
	ch      <-chan []byte
	handler Handler
	logger  logging.Logger
}

func New(ch <-chan []byte, handler Handler, logger logging.Logger) *Worker {
	return &Worker{
		ch:      ch,
		handler: handler,
		logger:  logger.With("module", "persistence_worker"),
	}
}

// Run consumes descriptors until ctx is cancelled or the channel closes.
// On cancellation it first drains descriptors already buffered on the
// handoff channel, so a shutdown drops no handed-off notification.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info(ctx, "persistence worker started")
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			w.logger.Info(ctx, "persistence worker stopping")
			return
		case payload, ok := <-w.ch:
			if !ok {
				w.logger.Info(ctx, "handoff channel closed")
				return
			}
			w.process(ctx, payload)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	// The handler still gets a live context while the buffer empties.
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case payload, ok := <-w.ch:
			if !ok {
				return
			}
			w.process(ctx, payload)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, payload []byte) {
	d, err := wire.Decode(payload)
	if err != nil {
		w.logger.Error(ctx, "descriptor decode failed", "error", err.Error())
		return
	}

	if err := w.handler(ctx, d); err != nil {
		w.logger.Error(ctx, "descriptor handling failed",
			"device_id", d.DeviceID, "measurement_id", d.MeasurementID, "error", err.Error())
	}
}
