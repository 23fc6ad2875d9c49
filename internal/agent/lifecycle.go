package agent

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})
	g.Go(func() error {
		report, err := a.scheduler.Run(gctx)
		if len(report.Devices) > 0 {
			a.publishReport(context.Background(), report)
		}
		// The run is one-shot: once every device is terminal the probe
		// listener has nothing left to report on.
		cancel()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("report stream close failed", "error", err)
	}
	a.stats.SetStreamConnected(false)
	if err := a.convSink.Close(); err != nil {
		a.logger.Warn("conversion sink close failed", "error", err)
	}
}
