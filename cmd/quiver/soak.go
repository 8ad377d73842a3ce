package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/ops"
	"github.com/23skdu/longbow-quiver/internal/shape"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// soak runs req from several workers until d elapses. Device access is
// serialized by the Context; a failing iteration stops every worker.
func soak(ctx context.Context, dc *device.Context, req *runRequest, d time.Duration, workers int) error {
	log.Info().Str("duration", d.String()).Int("workers", workers).Str("op", req.Op).Msg("Starting soak test")

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var iterations atomic.Int64
	startTime := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < max(workers, 1); w++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				outs, err := execute(gctx, dc, req)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				releaseAll(outs)

				if n := iterations.Add(1); n%1000 == 0 {
					elapsed := time.Since(startTime)
					log.Info().
						Str("elapsed", elapsed.Round(time.Second).String()).
						Int64("iter", n).
						Float64("ops_per_sec", float64(n)/elapsed.Seconds()).
						Int64("live_buffers", dc.Stats().LiveBuffers).
						Msg("Soak test progress")
				}
			}
			return nil
		})
	}
	err := g.Wait()

	totalElapsed := time.Since(startTime)
	stats := dc.Stats()
	log.Info().
		Int64("iterations", iterations.Load()).
		Dur("total_time", totalElapsed).
		Float64("avg_ops_per_sec", float64(iterations.Load())/totalElapsed.Seconds()).
		Int64("live_buffers", stats.LiveBuffers).
		Int64("peak_bytes", stats.PeakBytes).
		Msg("Soak test complete")
	return err
}

// runDemo broadcasts an add and runs a divmod, logging both results.
func runDemo(ctx context.Context, dc *device.Context) error {
	a, err := tensor.FromFloat64(dc, shape.Of(2, 3), dtype.Float32, []float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		return err
	}
	defer a.Release()
	b, err := tensor.FromFloat64(dc, shape.Of(3), dtype.Float32, []float64{10, 20, 30})
	if err != nil {
		return err
	}
	defer b.Release()

	sum, err := ops.Add(ctx, a, b)
	if err != nil {
		return err
	}
	defer sum.Release()
	logOutputs("add", []*tensor.Tensor{sum})

	x1, err := tensor.FromFloat64(dc, shape.Of(1), dtype.Float32, []float64{7})
	if err != nil {
		return err
	}
	defer x1.Release()
	x2, err := tensor.FromFloat64(dc, shape.Of(1), dtype.Float32, []float64{2})
	if err != nil {
		return err
	}
	defer x2.Release()

	q, r, err := ops.Divmod(ctx, x1, x2)
	if err != nil {
		return err
	}
	defer q.Release()
	defer r.Release()
	logOutputs("divmod", []*tensor.Tensor{q, r})
	return nil
}
