// Package studio is the operator facing HTTP surface of a court device.
package studio

import (
	"encoding/json"
	"image/jpeg"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/capture"
	"github.com/pickletour/courtlive/pkg/control"
	"github.com/pickletour/courtlive/pkg/metrics"
	"github.com/pickletour/courtlive/pkg/orchestrator"
	"github.com/pickletour/courtlive/pkg/overlay"
	"github.com/pickletour/courtlive/pkg/types"
)

const previewQuality = 75

type Studio struct {
	session *control.Session
	auto    *orchestrator.Orchestrator
	poller  *overlay.Poller
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	keys    types.LocalKeys
	quality string
}

// New wires the studio to a session and its orchestrator. keys and quality
// are the device defaults for sessions started by hand.
func New(session *control.Session, auto *orchestrator.Orchestrator, keys types.LocalKeys, quality string) *Studio {
	return &Studio{
		session: session,
		auto:    auto,
		log:     logrus.StandardLogger(),
		keys:    keys,
		quality: quality,
	}
}

func (s *Studio) Name() string {
	return "studio"
}

func (s *Studio) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

func (s *Studio) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetOverlayPoller exposes overlay fetch counters on /metrics.
func (s *Studio) SetOverlayPoller(p *overlay.Poller) {
	s.poller = p
}

func (s *Studio) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logRequest(s.log))

	r.Get("/status", s.Status)
	r.Post("/start", s.Start)
	r.Post("/stop", s.Stop)
	r.Post("/camera/switch", s.SwitchCamera)
	r.Post("/auto", s.SetAuto)
	r.Put("/overlay/layers", s.SetLayers)
	r.Get("/preview.jpg", s.Preview)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler(s.updateGauges).ServeHTTP)
	}
	return r
}

func (s *Studio) updateGauges() {
	if s.poller != nil {
		s.metrics.SetOverlayStats(s.poller.Stats())
	}
}

type statusResponse struct {
	State   string            `json:"state"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Health  types.HealthStats `json:"health"`
	Layers  overlay.Layers    `json:"layers"`
	Devices []capture.Device  `json:"devices"`

	Auto       bool         `json:"auto"`
	Phase      string       `json:"phase"`
	AutoStatus string       `json:"autoStatus"`
	Court      types.Court  `json:"court"`
	Match      *types.Match `json:"match,omitempty"`
}

func (s *Studio) status() statusResponse {
	resp := statusResponse{
		State:      s.session.State().String(),
		Status:     s.session.Status(),
		Health:     s.session.Health(),
		Layers:     s.session.Layers(),
		Devices:    s.session.Devices(),
		Auto:       s.auto.Auto(),
		Phase:      s.auto.Phase().String(),
		AutoStatus: s.auto.Status(),
		Court:      s.auto.Court(),
		Match:      s.auto.Match(),
	}
	if err := s.session.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Status handles GET /status.
func (s *Studio) Status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

type startRequest struct {
	Keys    types.LocalKeys `json:"keys"`
	Quality string          `json:"quality"`
}

// Start handles POST /start. Without keys in the body the keys of the last
// live session are used, then the ones configured on the device.
func (s *Studio) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid start body"))
			return
		}
	}

	quality := req.Quality
	if quality == "" {
		quality = s.quality
	}
	params, err := types.QualityPreset(quality)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	destinations := orchestrator.DestinationsFromKeys(req.Keys)
	if len(destinations) == 0 {
		destinations = orchestrator.DestinationsFromKeys(s.auto.LastKeys())
	}
	if len(destinations) == 0 {
		destinations = orchestrator.DestinationsFromKeys(s.keys)
	}

	if err := s.session.Start(r.Context(), destinations, params); err != nil {
		s.writeError(w, startErrorCode(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func startErrorCode(err error) int {
	switch control.Kind(err) {
	case "no-destinations":
		return http.StatusBadRequest
	case "unsupported-environment":
		return http.StatusNotImplemented
	case "device":
		return http.StatusConflict
	case "handshake", "transport-dropped":
		return http.StatusBadGateway
	case "interrupted":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Stop handles POST /stop.
func (s *Studio) Stop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

// SwitchCamera handles POST /camera/switch.
func (s *Studio) SwitchCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.session.SwitchCamera(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

// SetAuto handles POST /auto with {"enabled": bool}.
func (s *Studio) SetAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("expected {\"enabled\": bool}"))
		return
	}
	s.auto.SetAuto(*req.Enabled)
	s.writeJSON(w, http.StatusOK, s.status())
}

// SetLayers handles PUT /overlay/layers. Fields missing from the body keep
// their current value.
func (s *Studio) SetLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.session.Layers()
	if err := json.NewDecoder(r.Body).Decode(&layers); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid layers"))
		return
	}
	s.session.SetLayers(layers)
	s.writeJSON(w, http.StatusOK, layers)
}

// Preview handles GET /preview.jpg, the latest composited frame.
func (s *Studio) Preview(w http.ResponseWriter, r *http.Request) {
	img := s.session.Preview()
	if img == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		s.log.Debugf("writing preview: %v", err)
	}
}

func (s *Studio) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugf("writing response: %v", err)
	}
}

func (s *Studio) writeError(w http.ResponseWriter, code int, err error) {
	s.log.WithField("code", code).Warnf("request failed: %v", err)
	s.writeJSON(w, code, map[string]string{
		"error": err.Error(),
		"kind":  control.Kind(err),
	})
}
