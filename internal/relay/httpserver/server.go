// Package httpserver exposes the relay's linking API over HTTP: the
// provisioning websocket, envelope submission, device linking and the
// transfer-archive endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/devlink/internal/logging"
	rc "github.com/dmitrijs2005/devlink/internal/relay/config"
	"github.com/dmitrijs2005/devlink/internal/relay/provhub"
	"github.com/dmitrijs2005/devlink/internal/relay/services"
)

type Server struct {
	config  *rc.Config
	log     logging.Logger
	hub     *provhub.Hub
	linking *services.LinkingService
	archive *services.ArchiveService

	srv *http.Server
}

func NewServer(config *rc.Config, hub *provhub.Hub, linking *services.LinkingService,
	archive *services.ArchiveService, log logging.Logger) *Server {
	s := &Server{
		config:  config,
		log:     log.With("module", "http_server"),
		hub:     hub,
		linking: linking,
		archive: archive,
	}
	s.srv = &http.Server{
		Addr:    config.EndpointAddr,
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/v1/websocket/provisioning", s.hub.HandleProvisioning)
	r.Put("/v1/provisioning/{channelID}", s.submitEnvelope)

	r.Post("/v1/devices/link_token", s.newLinkToken)
	r.Put("/v1/devices/link", s.linkDevice)

	r.Group(func(r chi.Router) {
		r.Use(s.withDevice)
		r.Get("/v1/devices/wait_for_linked_device/{tokenID}", s.waitForLinkedDevice)
		r.Put("/v1/devices/transfer_archive", s.reportTransferArchive)
		r.Get("/v1/devices/transfer_archive", s.waitForTransferArchive)
		r.Get("/v1/devices/transfer_archive/upload_form", s.uploadForm)
		r.Get("/v1/devices/transfer_archive/read_url", s.readURL)
	})

	return r
}

// Handler returns the assembled router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info(shutdownCtx, "http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
