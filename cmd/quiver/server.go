package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/dispatch"
	"github.com/23skdu/longbow-quiver/internal/dtype"
	"github.com/23skdu/longbow-quiver/internal/ops"
	"github.com/23skdu/longbow-quiver/internal/shape"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_requests_total",
		Help: "Operation requests served over HTTP",
	}, []string{"op", "code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent serving operation requests",
		Buckets: prometheus.DefBuckets,
	})
)

var tracer = otel.Tracer("quiver-server")

// runRequest is the CBOR body of /run and /run/arrow.
type runRequest struct {
	Op       string             `cbor:"op"`
	Operands []*tensor.Snapshot `cbor:"operands"`
	DType    string             `cbor:"dtype,omitempty"`
	Axes     []int              `cbor:"axes,omitempty"`
	KeepDims bool               `cbor:"keepdims,omitempty"`
	Scalar   float64            `cbor:"scalar,omitempty"`
	Axis     *int               `cbor:"axis,omitempty"`
}

type runResponse struct {
	Outputs []*tensor.Snapshot `cbor:"outputs"`
}

var errBadRequest = errors.New("bad request")

func (r *runRequest) options() ([]ops.Option, error) {
	var opts []ops.Option
	if r.DType != "" {
		dt, err := dtype.Parse(r.DType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		opts = append(opts, ops.WithDtype(dt))
	}
	if len(r.Axes) > 0 {
		opts = append(opts, ops.WithAxes(r.Axes...))
	}
	if r.KeepDims {
		opts = append(opts, ops.WithKeepDims(true))
	}
	return opts, nil
}

// execute uploads the operands, runs the operation while holding the
// device and releases the operands again. The caller owns the outputs.
func execute(ctx context.Context, dc *device.Context, req *runRequest) ([]*tensor.Tensor, error) {
	op, err := lookup(req.Op, len(req.Operands))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	opts, err := req.options()
	if err != nil {
		return nil, err
	}
	call := request{opts: opts, scalar: req.Scalar, axis: -1}
	if req.Axis != nil {
		call.axis = *req.Axis
	}

	var outs []*tensor.Tensor
	err = dc.Exclusive(ctx, func() error {
		defer func() { releaseAll(call.inputs) }()
		for i, snap := range req.Operands {
			if snap == nil {
				return fmt.Errorf("%w: operand %d is missing", errBadRequest, i)
			}
			t, err := snap.Restore(dc)
			if err != nil {
				return fmt.Errorf("%w: operand %d: %w", errBadRequest, i, err)
			}
			call.inputs = append(call.inputs, t)
		}
		var err error
		outs, err = op.run(ctx, call)
		return err
	})
	return outs, err
}

// statusFor maps caller mistakes to 400 and device failures to 500.
func statusFor(err error) int {
	var (
		be *shape.BroadcastError
		ue *dtype.UnsupportedError
		se *tensor.ScalarConversionError
	)
	switch {
	case errors.Is(err, errBadRequest), errors.As(err, &be), errors.As(err, &ue), errors.As(err, &se):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type Server struct {
	dc      *device.Context
	alloc   memory.Allocator
	sem     *semaphore.Weighted
	breaker *dispatch.Breaker
}

func NewServer(dc *device.Context, maxConcurrent int, breaker *dispatch.Breaker) *Server {
	return &Server{
		dc:      dc,
		alloc:   memory.NewGoAllocator(),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		breaker: breaker,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/run/arrow", s.handleRunArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, dc *device.Context, maxConcurrent int, breaker *dispatch.Breaker) {
	srv := NewServer(dc, maxConcurrent, breaker)

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "quiver_device_peak_bytes",
			Help: "Peak device memory allocated through the context",
		},
		func() float64 {
			return float64(dc.Stats().PeakBytes)
		},
	))

	log.Info().Str("addr", addr).Str("device", dc.Name()).Msg("Starting Quiver server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// serve decodes a runRequest, executes it and hands the outputs to write.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, span string, write func(outs []*tensor.Tensor) error) {
	ctx, sp := tracer.Start(r.Context(), span)
	defer sp.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req runRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		sp.RecordError(err)
		requestsTotal.WithLabelValues("", "400").Inc()
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	sp.SetAttributes(attribute.String("op", req.Op), attribute.Int("operands", len(req.Operands)))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	ticket, err := s.breaker.Allow()
	if err != nil {
		requestsTotal.WithLabelValues(req.Op, "503").Inc()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	outs, err := execute(ctx, s.dc, &req)
	s.breaker.Record(ticket, err)
	if err != nil {
		code := statusFor(err)
		sp.RecordError(err)
		requestsTotal.WithLabelValues(req.Op, fmt.Sprint(code)).Inc()
		log.Warn().Err(err).Str("op", req.Op).Int("code", code).Msg("Operation failed")
		http.Error(w, err.Error(), code)
		return
	}
	defer releaseAll(outs)

	if err := write(outs); err != nil {
		sp.RecordError(err)
		requestsTotal.WithLabelValues(req.Op, "500").Inc()
		log.Error().Err(err).Str("op", req.Op).Msg("Failed to write response")
		return
	}
	requestsTotal.WithLabelValues(req.Op, "200").Inc()
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "handleRun", func(outs []*tensor.Tensor) error {
		var resp runResponse
		for _, t := range outs {
			snap, err := t.Snapshot()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return err
			}
			resp.Outputs = append(resp.Outputs, snap)
		}
		w.Header().Set("Content-Type", "application/cbor")
		return cbor.NewEncoder(w).Encode(resp)
	})
}

func (s *Server) handleRunArrow(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "handleRunArrow", func(outs []*tensor.Tensor) error {
		rec, err := tensor.NewRecord(s.alloc, columnNames(len(outs)), outs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return err
		}
		defer rec.Release()

		w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
		writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
		return writer.Close()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func columnNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("out%d", i)
	}
	return names
}
