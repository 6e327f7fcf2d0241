package studio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

const shutdownTimeout = 10 * time.Second

type ServerConfig struct {
	// Type is one of http, https or acme.
	Type     string
	Address  string
	Hostname string
	Cert     string
	Key      string
}

// URL is where operators reach the studio.
func (c ServerConfig) URL() string {
	if c.Type == "acme" || c.Type == "https" {
		return fmt.Sprintf("https://%s", c.Hostname)
	}
	return fmt.Sprintf("http://%s", c.Address)
}

// Serve runs the studio until ctx is done, then drains open requests.
func (s *Studio) Serve(ctx context.Context, cfg ServerConfig) error {
	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: s.Router(),
	}

	var (
		listener net.Listener
		serve    func() error
	)
	switch cfg.Type {
	case "acme":
		s.log.Infof("Starting ACME http server on %s:443", cfg.Hostname)
		listener = autocert.NewListener(cfg.Hostname)
		serve = func() error { return srv.Serve(listener) }
	case "https":
		s.log.Infof("Starting https server on %s", cfg.Address)
		srv.TLSConfig = &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.CurveP521, tls.CurveP384, tls.CurveP256},
		}
		srv.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler))
		serve = func() error { return srv.ListenAndServeTLS(cfg.Cert, cfg.Key) }
	case "http":
		s.log.Infof("Starting http server on %s", cfg.Address)
		serve = srv.ListenAndServe
	default:
		return errors.Errorf("unknown http_server_type server option %s", cfg.Type)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- serve()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "studio server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "studio shutdown")
	}
	if err := <-errc; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func logRequest(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugf("%s %s %s", r.RemoteAddr, r.Method, r.URL)
			next.ServeHTTP(w, r)
		})
	}
}
