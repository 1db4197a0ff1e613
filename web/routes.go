package web

import (
	"toolsync/web/api"
	"toolsync/web/pages"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/rweb"
)

func setupRoutes(s *rweb.Server, control *api.SyncControl) {
	// Pages
	s.Get("/", func(ctx rweb.Context) error {
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(pages.NewStatusPage(badgeFor(control), control.UserID()).Render())
	})

	s.Get("/sync/badge", func(ctx rweb.Context) error {
		b := element.NewBuilder()
		element.RenderComponents(b, badgeFor(control))
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(b.String())
	})

	// API v1
	s.Get("/api/v1/health", api.Health)

	s.Get("/api/v1/sync/status", control.Status)
	s.Get("/api/v1/sync/failed", control.Failed)
	s.Get("/api/v1/sync/conflicts", control.Conflicts)

	// Mutating endpoints need the bearer of the engine's session
	s.Post("/api/v1/sync/trigger", RequireAuth(control.Trigger))
	s.Post("/api/v1/sync/pull", RequireAuth(control.Pull))
	s.Delete("/api/v1/sync/failed", RequireAuth(control.PurgeFailed))
}

func badgeFor(control *api.SyncControl) pages.StatusBadge {
	snap := control.Snapshot()
	return pages.StatusBadge{Enabled: snap.Enabled, State: snap.State, Stats: snap.Stats}
}
