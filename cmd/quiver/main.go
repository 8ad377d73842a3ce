package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/device"
	_ "github.com/23skdu/longbow-quiver/internal/device/emulator"
	"github.com/23skdu/longbow-quiver/internal/dispatch"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

var (
	runtimeName   = flag.String("runtime", "", "Device runtime (overrides QUIVER_RUNTIME)")
	deviceID      = flag.Int("device", -1, "Device ordinal (overrides QUIVER_DEVICE_ID)")
	memLimit      = flag.String("mem-limit", "", "Device memory cap, e.g. 4GB or 512MB (overrides QUIVER_MEMORY_LIMIT)")
	opName        = flag.String("op", "", "Operation to run, e.g. add, divmod, mean")
	operandA      = flag.String("a", "", "CBOR snapshot file for the first operand")
	operandB      = flag.String("b", "", "CBOR snapshot file for the second operand")
	operandC      = flag.String("c", "", "CBOR snapshot file for the third operand")
	outDtype      = flag.String("dtype", "", "Explicit output dtype")
	axesFlag      = flag.String("axes", "", "Comma separated reduction axes")
	keepDims      = flag.Bool("keepdims", false, "Keep reduced axes as extent 1")
	scalarFlag    = flag.Float64("scalar", 0, "Scalar argument for power_scalar, power_scalar_base, clip_min and clip_max")
	axisFlag      = flag.Int("axis", -1, "Softmax axis")
	outPath       = flag.String("out", "", "Write results to .arrow (Arrow IPC stream) or .cbor (snapshots)")
	duration      = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	workers       = flag.Int("workers", 4, "Concurrent soak workers")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of requests admitted at once")
	breakerFails  = flag.Int("breaker-failures", 5, "Consecutive device failures before the server stops dispatching")
	breakerWait   = flag.Duration("breaker-cooldown", 10*time.Second, "Time the breaker stays open before letting a trial call through")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	listOps       = flag.Bool("list", false, "List available operations and exit")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *listOps {
		fmt.Println(strings.Join(operationNames(), "\n"))
		return
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid device configuration")
	}
	dc, err := device.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open device")
	}
	defer func() {
		if err := dc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close device")
		}
	}()

	if *listenAddr != "" {
		startServer(*listenAddr, dc, *maxConcurrent, dispatch.NewBreaker(dc.Name(), *breakerFails, *breakerWait))
		return
	}

	ctx := context.Background()
	if *opName == "" {
		if err := runDemo(ctx, dc); err != nil {
			log.Fatal().Err(err).Msg("Demo failed")
		}
		return
	}

	req, err := buildRequest()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid operation request")
	}

	if *duration > 0 {
		if err := soak(ctx, dc, req, *duration, *workers); err != nil {
			log.Fatal().Err(err).Msg("Soak test failed")
		}
		return
	}

	start := time.Now()
	outs, err := execute(ctx, dc, req)
	if err != nil {
		log.Fatal().Err(err).Str("op", req.Op).Msg("Operation failed")
	}
	defer releaseAll(outs)
	log.Info().Str("op", req.Op).Int("outputs", len(outs)).Dur("elapsed", time.Since(start)).Msg("Operation complete")

	if *outPath == "" {
		logOutputs(req.Op, outs)
		return
	}
	if err := writeOutputs(*outPath, outs); err != nil {
		log.Fatal().Err(err).Str("path", *outPath).Msg("Failed to write results")
	}
	log.Info().Str("path", *outPath).Msg("Results written")
}

// loadConfig overlays the device flags onto the environment.
func loadConfig() (device.Config, error) {
	cfg, err := device.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	if *runtimeName != "" {
		cfg.Runtime = *runtimeName
	}
	if *deviceID >= 0 {
		cfg.DeviceID = *deviceID
	}
	if *memLimit != "" {
		n, err := device.ParseBytes(*memLimit)
		if err != nil {
			return cfg, err
		}
		cfg.MemoryLimit = n
	}
	return cfg, nil
}

func buildRequest() (*runRequest, error) {
	req := &runRequest{
		Op:       *opName,
		DType:    *outDtype,
		KeepDims: *keepDims,
		Scalar:   *scalarFlag,
		Axis:     axisFlag,
	}
	axes, err := parseAxes(*axesFlag)
	if err != nil {
		return nil, err
	}
	req.Axes = axes
	for _, path := range []string{*operandA, *operandB, *operandC} {
		if path == "" {
			break
		}
		snap, err := readSnapshotFile(path)
		if err != nil {
			return nil, err
		}
		req.Operands = append(req.Operands, snap)
	}
	return req, nil
}

func parseAxes(v string) ([]int, error) {
	if v == "" {
		return nil, nil
	}
	var axes []int
	for _, part := range strings.Split(v, ",") {
		var a int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &a); err != nil {
			return nil, fmt.Errorf("invalid axis %q: %w", part, err)
		}
		axes = append(axes, a)
	}
	return axes, nil
}

func readSnapshotFile(path string) (*tensor.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap tensor.Snapshot
	if err := cbor.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &snap, nil
}

// writeOutputs writes every output to one file. Arrow output lays the
// outputs side by side as columns out0, out1, ...; CBOR output is a
// sequence of snapshots.
func writeOutputs(path string, outs []*tensor.Tensor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow":
		pool := memory.NewGoAllocator()
		rec, err := tensor.NewRecord(pool, columnNames(len(outs)), outs)
		if err != nil {
			return err
		}
		defer rec.Release()
		writer := ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
		return writer.Close()
	case ".cbor":
		for _, t := range outs {
			if err := tensor.WriteSnapshot(f, t); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported output extension %q (want .arrow or .cbor)", filepath.Ext(path))
}

const maxLoggedValues = 16

func logOutputs(op string, outs []*tensor.Tensor) {
	for i, t := range outs {
		vals, err := t.Float64s()
		if err != nil {
			log.Warn().Err(err).Int("output", i).Msg("Failed to read result")
			continue
		}
		if len(vals) > maxLoggedValues {
			vals = vals[:maxLoggedValues]
		}
		log.Info().
			Str("op", op).
			Int("output", i).
			Str("tensor", t.String()).
			Floats64("values", vals).
			Msg("Result")
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
