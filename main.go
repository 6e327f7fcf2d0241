package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/config"
	"github.com/pickletour/courtlive/internal/studio"
	"github.com/pickletour/courtlive/pkg/capture"
	"github.com/pickletour/courtlive/pkg/capture/mediadevices"
	"github.com/pickletour/courtlive/pkg/control"
	"github.com/pickletour/courtlive/pkg/encoder"
	_ "github.com/pickletour/courtlive/pkg/encoder/x264"
	"github.com/pickletour/courtlive/pkg/metrics"
	"github.com/pickletour/courtlive/pkg/orchestrator"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/relay"
	"github.com/pickletour/courtlive/pkg/service"
	"github.com/pickletour/courtlive/pkg/service/dummy"
	"github.com/pickletour/courtlive/pkg/types"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Control.LogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}
	log.SetLevel(level)

	svc, err := service.New(cfg, log)
	if err != nil {
		log.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(); err != nil {
		log.Fatalf("failed to connect service: %v", err)
	}

	var platform capture.Platform
	switch cfg.Capture.Platform {
	case "mediadevices":
		platform = mediadevices.New()
	case "synthetic":
		platform = capture.NewSynthetic(
			capture.Device{ID: "front", Kind: capture.KindVideo, Label: "Synthetic front"},
			capture.Device{ID: "back", Kind: capture.KindVideo, Label: "Synthetic back"},
		)
	default:
		log.Fatalf("unknown capture platform %s", cfg.Capture.Platform)
	}
	devices := capture.NewManager(platform)
	devices.SetLogger(log.WithField("component", devices.Name()))
	if err := devices.Refresh(); err != nil {
		log.Warnf("listing cameras: %v", err)
	}

	backend, err := encoder.Lookup(cfg.Encode.Backend)
	if err != nil {
		log.Fatalf("failed to select encoder: %v", err)
	}
	params, err := types.QualityPreset(cfg.Encode.Quality)
	if err != nil {
		log.Fatalf("invalid encode quality: %v", err)
	}

	layers, err := overlay.ParseLayers(cfg.Overlay.Layers)
	if err != nil {
		log.Fatalf("invalid overlay layers: %v", err)
	}
	comp := overlay.NewCompositor()
	comp.SetBranding(overlay.Branding{
		Logo:          cfg.Overlay.Logo,
		Sponsors:      cfg.Overlay.Sponsors,
		LowerTitle:    cfg.Overlay.LowerTitle,
		LowerSubtitle: cfg.Overlay.LowerSubtitle,
		Social:        cfg.Overlay.Social,
		QRCaption:     cfg.Overlay.QRCaption,
	})
	poller := overlay.NewPoller(svc, comp, cfg.Overlay.PollInterval)
	poller.SetLogger(log.WithField("component", "overlay"))

	met := metrics.New()

	session := control.NewSession(control.Config{
		RelayURL: cfg.Relay.URL,
		Relay: relay.Config{
			HandshakeTimeout: cfg.Relay.HandshakeTimeout,
			WriteTimeout:     cfg.Relay.WriteTimeout,
		},
		PreferBackFacing: cfg.Capture.PreferBackFacing,
		PreferredDevice:  cfg.Capture.DeviceID,
		PreviewWidth:     cfg.Capture.PreviewWidth,
		PreviewHeight:    cfg.Capture.PreviewHeight,
		RecordDir:        cfg.Record.Dir,
	}, devices, backend, comp)
	session.SetLogger(log.WithField("component", session.Name()))
	session.SetMetrics(met)
	session.SetLayers(layers)
	session.OnStateChange(func(s control.State) {
		log.WithField("state", s.String()).Info("Broadcast state changed")
	})

	auto := orchestrator.New(orchestrator.Config{
		Court:          types.CourtID(cfg.Court.ID),
		Auto:           cfg.AutoEnabled(),
		PollInterval:   cfg.Orchestrator.PollInterval,
		CountdownSteps: cfg.Orchestrator.CountdownSteps,
		CountdownStep:  cfg.Orchestrator.CountdownStep,
		Params:         params,
	}, svc, session)
	auto.SetLogger(log.WithField("component", auto.Name()))
	auto.SetMetrics(met)
	auto.SetOverlayPoller(poller)
	auto.OnCountdown(func(n int) {
		if n > 0 {
			log.Infof("Going live in %d", n)
		}
	})

	st := studio.New(session, auto, cfg.LocalKeys(), cfg.Encode.Quality)
	st.SetLogger(log.WithField("component", st.Name()))
	st.SetMetrics(met)
	st.SetOverlayPoller(poller)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Capture.Watch {
		go func() {
			err := devices.Watch(ctx, cfg.Capture.DeviceDir, func(list []capture.Device) {
				log.Infof("Cameras changed, %d available", len(list))
			})
			if err != nil {
				log.Warnf("camera watch stopped: %v", err)
			}
		}()
	}

	// SIGUSR1 moves the dummy service to its next scripted match
	if d, ok := svc.(*dummy.Service); ok {
		advance := make(chan os.Signal, 1)
		signal.Notify(advance, syscall.SIGUSR1)
		go func() {
			for range advance {
				d.Advance()
			}
		}()
	}

	go poller.Run(ctx)
	go auto.Run(ctx)

	serverCfg := studio.ServerConfig{
		Type:     cfg.Control.HTTPServerType,
		Address:  cfg.Control.HTTPAddress,
		Hostname: cfg.Control.HTTPSHostname,
		Cert:     cfg.Control.HTTPSCert,
		Key:      cfg.Control.HTTPSKey,
	}
	log.Infof("Court %s studio at %s", cfg.Court.ID, serverCfg.URL())
	if err := st.Serve(ctx, serverCfg); err != nil {
		log.Errorf("studio: %v", err)
	}

	log.Info("Exiting and cleaning up")
	if err := session.Stop(); err != nil {
		log.Warnf("stopping broadcast: %v", err)
	}
}
