package web

import (
	"github.com/rohanthewiz/rweb"
)

// Inline SVG so no separate icon file is needed
const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 500 500"><rect width="500" height="500" rx="40" fill="#2c3e50"/><path d="M130 250a120 120 0 0 1 210-80" stroke="white" stroke-width="40" fill="none"/><path d="M370 250a120 120 0 0 1-210 80" stroke="white" stroke-width="40" fill="none"/><polygon points="360,120 370,200 290,190" fill="white"/><polygon points="140,380 130,300 210,310" fill="white"/></svg>`

func setupFavicon(s *rweb.Server) {
	s.Get("/favicon.ico", func(c rweb.Context) error {
		c.Response().SetHeader("Content-Type", "image/svg+xml")
		c.Response().SetHeader("Cache-Control", "public, max-age=86400")
		return c.Bytes([]byte(faviconSVG))
	})
}
