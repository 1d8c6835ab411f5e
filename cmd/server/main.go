package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/Bounce/internal/adapters/http"
	"github.com/dkeye/Bounce/internal/adapters/rtc"
	sig "github.com/dkeye/Bounce/internal/adapters/signal"
	"github.com/dkeye/Bounce/internal/adapters/webtransport"
	"github.com/dkeye/Bounce/internal/app"
	"github.com/dkeye/Bounce/internal/app/framesource"
	"github.com/dkeye/Bounce/internal/app/orch"
	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/config"
	"github.com/dkeye/Bounce/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	newEncoder, backend, err := rtc.NewEncoderFactory(rtc.EncoderConfig{
		Codec:   cfg.Media.Codec,
		Backend: cfg.Media.Encoder,
		Width:   cfg.Generator.Width,
		Height:  cfg.Generator.Height,
		FPS:     cfg.Generator.FPS,
	})
	if err != nil {
		log.Fatal().Err(err).Str("codec", cfg.Media.Codec).Msg("no usable video encoder")
	}
	if backend == rtc.BackendPCM {
		log.Warn().
			Int("kbit_per_frame", cfg.Generator.Width*cfg.Generator.Height*12/1000).
			Msg("using uncompressed I_PCM H264 encoder, build with -tags gst for x264")
	}

	m := metrics.New()
	deps := session.Deps{
		Registry:   app.NewRegistry(),
		NewPeer:    rtc.NewPeerFactory(rtc.DefaultWebRTCConfig(), cfg.Media.Codec),
		NewEncoder: newEncoder,
		Source: framesource.Config{
			Width:  cfg.Generator.Width,
			Height: cfg.Generator.Height,
			FPS:    cfg.Generator.FPS,
			Radius: cfg.Generator.Radius,
			VX:     cfg.Generator.VX,
			VY:     cfg.Generator.VY,
		},
		Codec:           cfg.Media.Codec,
		CandidateBuffer: cfg.Signal.CandidateBuffer,
		StallWait:       cfg.Sender.StallWait,
		Metrics:         m,
	}
	if cfg.Generator.SaveFrames {
		deps.NewSink = orch.FrameSinks(cfg.Generator.SaveFormat, cfg.Generator.SaveDir)
	}
	o := orch.New(deps)

	wt := webtransport.NewServer(webtransport.Config{
		BindAddress: cfg.Server.BindAddress,
		BindPort:    cfg.Server.BindPort,
		CertFile:    cfg.Server.CertFile,
		KeyFile:     cfg.Server.KeyFile,
		Path:        cfg.Server.Path,
	}, sig.NewDemux(o, cfg.Signal.MaxMessageBytes))

	go func() {
		if err := wt.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("webtransport server error")
			cancel()
		}
	}()

	var admin *http.Server
	if cfg.Admin.Port != 0 {
		addr := fmt.Sprintf(":%d", cfg.Admin.Port)
		admin = &http.Server{
			Addr:              addr,
			Handler:           router.SetupRouter(cfg, o),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", addr).Msg("admin server started")
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("admin server error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	o.CloseAll()
	if err := wt.Close(); err != nil {
		log.Error().Err(err).Msg("webtransport close")
	}
	if admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	log.Info().Msg("Server exited gracefully")
}
