// Command enginecore runs the speech-pipeline engine as a standalone
// process: it reads raw S16LE PCM from stdin (standing in for the
// session audio server, an external collaborator this module does not
// implement), drives it through the capture/VAD/utterance/decoder/
// postprocess pipeline, and logs each finalized utterance (standing in
// for the upstream dispatcher, also external).
//
// A small gRPC health-check surface is bound immediately and flips to
// SERVING once the default decoder and VAD calibration engine are
// built, a lazy-readiness pattern. It is ops tooling, not a feature of
// the pipeline itself — the pipeline core does no network I/O of its
// own.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/speechpipe/enginecore/internal/config"
	"github.com/speechpipe/enginecore/internal/decoder"
	"github.com/speechpipe/enginecore/internal/pipeline"
	"github.com/speechpipe/enginecore/internal/utterance"
	"github.com/speechpipe/enginecore/internal/vad"
	"github.com/speechpipe/enginecore/pkg/speechresult"
)

// version is set at build time via -ldflags.
var version = "dev"

// frameRate is the VAD's time granularity, 100 frames/sec, matching
// sphinxbase cont_ad's typical default.
const frameRate = 100.0

// Sizing constants mirror pulse-interface.c's stream_create: a
// high-water mark sized for filtmax seconds of continuous audio (bounded
// below by the calibration window), plus headroom for the larger of
// twice the minimum request size or the silence window, plus one more
// minimum request's worth of slack.
const (
	calibrationSeconds = 0.5
	minReqSeconds      = 0.1
	hwmSeconds         = 30.0
	silenceSeconds     = 1.0 // opts->silen's default in options.c
)

// readChunkBytes is the stdin read granularity: 100ms of audio at the
// configured rate, rounded to an even byte count.
func readChunkBytes(rate float64) int {
	n := int(math.Round(rate*minReqSeconds)) * 2
	if n <= 0 {
		n = 320
	}
	return n
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{YAMLPath: os.Getenv("ENGINE_CONFIG_YAML")}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting enginecore",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"samplerate", cfg.SampleRate,
		"decoders", cfg.Summary(),
	)

	// STEP 1: bind the health-check listener before any engine init.
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}
	defer lis.Close()
	logger.Info("listener bound, port ready", "addr", lis.Addr().String())

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	logger.Info("gRPC health server started (NOT_SERVING while initializing)")

	// STEP 2: build the decoder set. No PocketSphinx-shaped Go binding
	// is available (see DESIGN.md), so the reference engine stands in,
	// the way a stub engine stands in when a native backend isn't
	// compiled into a build.
	logger.Warn("using reference decoder engine — hypotheses are deterministic placeholders, not a real acoustic/language model")
	set := decoder.NewSet(logger, func() decoder.Engine {
		return decoder.NewReferenceEngine()
	})
	if err := set.Add(config.DefaultDecoderName, toDecoderConfig(cfg.DefaultDecoder(), cfg.TopN, cfg.SampleRate)); err != nil {
		logger.Error("failed to build default decoder", "error", err)
		os.Exit(1)
	}
	for name, dc := range cfg.Decoders {
		if err := set.Add(name, toDecoderConfig(dc, cfg.TopN, cfg.SampleRate)); err != nil {
			logger.Error("failed to build declared decoder", "name", name, "error", err)
			os.Exit(1)
		}
	}

	// STEP 3: size the buffers and build the VAD calibration engine.
	frlen := int(math.Round(cfg.SampleRate / frameRate))
	requiredSamples := int(math.Round(cfg.SampleRate * calibrationSeconds))
	minReqSamples := int(math.Round(cfg.SampleRate * minReqSeconds))
	silenSamples := int(math.Round(cfg.SampleRate * silenceSeconds))
	hwmSamples := int(math.Round(cfg.SampleRate * hwmSeconds))
	if hwmSamples < requiredSamples {
		hwmSamples = requiredSamples
	}
	extraSamples := minReqSamples * 2
	if silenSamples > extraSamples {
		extraSamples = silenSamples
	}
	extraSamples += minReqSamples
	maxSamples := hwmSamples + extraSamples

	vadEngine := vad.NewReferenceEngine(requiredSamples, frlen)

	var recorder utterance.Recorder
	if cfg.Record != "" {
		f, err := os.OpenFile(cfg.Record, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Error("failed to open debug recording file", "path", cfg.Record, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		recorder = f
	}

	sink := &loggingSink{log: logger}

	p := pipeline.New(logger, pipeline.Params{
		CaptureCapacityBytes: maxSamples * 2,
		CaptureMinReqBytes:   minReqSamples * 2,
		FrameSamples:         frlen,
		MaxSamples:           maxSamples,
		HWMSamples:           hwmSamples,
		SilenSamples:         silenSamples,
		VADEngine:            vadEngine,
		Decoders:             set,
		Sink:                 sink,
		Recorder:             recorder,
	})
	defer set.Close()

	p.Activate()

	// STEP 4: flip to SERVING now that the pipeline is fully built.
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	logger.Info("enginecore ready", "stream_id", p.StreamID.String())

	// STEP 5: drive the pipeline from stdin until EOF or shutdown.
	g.Go(func() error {
		return readLoop(gctx, p, cfg.SampleRate, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping gRPC server")
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("enginecore terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("enginecore stopped")
}

// readLoop pumps stdin into the pipeline in fixed-size chunks until EOF,
// a read error, or ctx is cancelled.
func readLoop(ctx context.Context, p *pipeline.Pipeline, rate float64, log *slog.Logger) error {
	r := bufio.NewReader(os.Stdin)
	chunk := make([]byte, readChunkBytes(rate))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			if pushErr := p.Push(chunk[:n]); pushErr != nil {
				log.Error("pipeline push failed", "error", pushErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Info("stdin closed, ending capture")
				return nil
			}
			return fmt.Errorf("enginecore: read stdin: %w", err)
		}
	}
}

// loggingSink stands in for the upstream voice-command dispatcher
// (an external collaborator this module does not implement): it logs
// each utterance and always consumes it verbatim.
type loggingSink struct {
	log *slog.Logger
}

func (s *loggingSink) OnUtterance(u speechresult.Utterance) int32 {
	var best string
	if len(u.Cands) > 0 {
		best = wordsToText(u.Cands[0].Words)
	}
	s.log.Info("utterance",
		"id", u.ID,
		"quality", u.Quality,
		"length", u.Length,
		"candidates", len(u.Cands),
		"text", best,
	)
	return u.Length
}

func wordsToText(words []speechresult.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

func toDecoderConfig(dc config.DecoderConfig, topn int, rate float64) decoder.Config {
	return decoder.Config{
		HMM:        dc.HMM,
		LM:         dc.LM,
		Dict:       dc.Dict,
		FSG:        dc.FSG,
		TopN:       topn,
		SampleRate: rate,
	}
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
