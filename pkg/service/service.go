package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/config"
	"github.com/pickletour/courtlive/pkg/service/dummy"
	"github.com/pickletour/courtlive/pkg/service/pickletour"
	"github.com/pickletour/courtlive/pkg/types"
)

// Service is the tournament backend the broadcaster follows.
type Service interface {
	SetLogger(log logrus.FieldLogger)

	// Name of the service, eg: PickleTour
	Name() string
	// Connect prepares the client, no permanent connection is held
	Connect() error
	// CurrentMatch returns the court and the match it is playing, if any
	CurrentMatch(ctx context.Context, court types.CourtID) (types.CourtMatch, error)
	// CreateLiveSession asks the backend to set up platform lives for a match
	CreateLiveSession(ctx context.Context, match types.MatchID) (types.LiveSession, error)
	// NotifyStreamStarted marks a match as being broadcast
	NotifyStreamStarted(ctx context.Context, match types.MatchID, platform string) error
	// NotifyStreamEnded marks a match broadcast as finished
	NotifyStreamEnded(ctx context.Context, match types.MatchID, platform string) error
	// OverlaySnapshot returns the raw scoreboard document of a match
	OverlaySnapshot(ctx context.Context, match types.MatchID) ([]byte, error)
}

func New(cfg config.Config, logger *logrus.Logger) (Service, error) {
	svcCfg := cfg.Service
	var svc Service

	switch svcCfg.Type {
	case "dummy":
		svc = dummy.New(dummy.Config{
			Court:   types.Court{ID: types.CourtID(cfg.Court.ID), Name: cfg.Court.Name},
			Matches: svcCfg.Matches,
		})
	case "pickletour":
		svc = pickletour.New(pickletour.Config{
			Endpoint:     svcCfg.Endpoint,
			Token:        svcCfg.Token,
			ClientID:     svcCfg.ClientID,
			ClientSecret: svcCfg.ClientSecret,
			TokenPath:    svcCfg.TokenPath,
			Timeout:      svcCfg.Timeout,
		})
	default:
		return nil, errors.Errorf("unsupported service type %q", svcCfg.Type)
	}

	svc.SetLogger(logger.WithFields(logrus.Fields{
		"service": svc.Name(),
	}))

	return svc, nil
}
