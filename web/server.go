package web

import (
	"toolsync/web/api"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// NewServer creates the local status server for one engine.
// Tests pass Address "localhost:" and a ReadyChan to get a dynamic port.
func NewServer(opts rweb.ServerOptions, control *api.SyncControl) *rweb.Server {
	if opts.Address == "" {
		opts.Address = "localhost:8477"
	}
	s := rweb.NewServer(opts)

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(SecurityHeadersMiddleware)
	s.Use(LoggingMiddleware)
	s.Use(BearerAuthMiddleware(control))

	setupRoutes(s, control)
	setupFavicon(s)

	return s
}

// Run starts the server
func Run(s *rweb.Server, address string) error {
	logger.Info("Toolsync status server starting", "address", address)
	return s.Run()
}
