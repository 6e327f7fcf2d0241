package pickletour

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pickletour/courtlive/pkg/types"
)

const maxBody = 4 << 20

type Config struct {
	Endpoint     string
	Token        string
	ClientID     string
	ClientSecret string
	TokenPath    string
	Timeout      time.Duration
	// HTTPClient replaces the default transport, mostly for tests
	HTTPClient *http.Client
}

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Service talks to the PickleTour REST API.
type Service struct {
	config     Config
	httpClient *http.Client
	log        logrus.FieldLogger
}

func New(config Config) *Service {
	config.Endpoint = strings.TrimSuffix(config.Endpoint, "/")
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Service{
		config: config,
		log:    logrus.StandardLogger(),
	}
}

func (s *Service) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

func (s *Service) Name() string {
	return "PickleTour"
}

// Since the API is plain HTTP, no permanent connection is necessary. Connect
// only builds the client, authenticated with client credentials when they
// are configured.
func (s *Service) Connect() error {
	if s.config.Endpoint == "" {
		return errors.New("pickletour endpoint is not configured")
	}
	base := s.config.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: s.config.Timeout}
	}
	if s.config.ClientID == "" {
		s.httpClient = base
		return nil
	}

	cc := clientcredentials.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		TokenURL:     s.config.Endpoint + s.config.TokenPath,
		Scopes:       []string{"live"},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	s.httpClient = cc.Client(ctx)
	s.httpClient.Timeout = s.config.Timeout
	return nil
}

func (s *Service) CurrentMatch(ctx context.Context, court types.CourtID) (types.CourtMatch, error) {
	var res types.CourtMatch
	err := s.do(ctx, http.MethodGet, "/api/courts/"+url.PathEscape(string(court))+"/current-match", nil, &res)
	return res, err
}

func (s *Service) CreateLiveSession(ctx context.Context, match types.MatchID) (types.LiveSession, error) {
	var res types.LiveSession
	err := s.do(ctx, http.MethodPost, matchPath(match, "live"), struct{}{}, &res)
	return res, err
}

type platformBody struct {
	Platform string `json:"platform"`
}

func (s *Service) NotifyStreamStarted(ctx context.Context, match types.MatchID, platform string) error {
	return s.do(ctx, http.MethodPost, matchPath(match, "live/started"), platformBody{platform}, nil)
}

func (s *Service) NotifyStreamEnded(ctx context.Context, match types.MatchID, platform string) error {
	return s.do(ctx, http.MethodPost, matchPath(match, "live/ended"), platformBody{platform}, nil)
}

func (s *Service) OverlaySnapshot(ctx context.Context, match types.MatchID) ([]byte, error) {
	var raw json.RawMessage
	if err := s.do(ctx, http.MethodGet, "/api/overlay/match/"+url.PathEscape(string(match)), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func matchPath(match types.MatchID, suffix string) string {
	return "/api/matches/" + url.PathEscape(string(match)) + "/" + suffix
}

func (s *Service) do(ctx context.Context, method, path string, body, out interface{}) error {
	if s.httpClient == nil {
		return errors.New("pickletour service is not connected")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.Endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	s.log.Debugf("%s %s -> %d", method, path, resp.StatusCode)

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
