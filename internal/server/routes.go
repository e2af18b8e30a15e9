package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/end", s.endSession)

			// Consent
			r.Get("/consent", s.getConsent)
			r.Post("/consent", s.submitConsent)

			// Transcript
			r.Post("/text", s.postText)
			r.Get("/message", s.getMessages)

			// Capture widgets
			r.Get("/widget", s.listWidgets)
			r.Route("/widget/{widgetType}", func(r chi.Router) {
				r.Post("/open", s.openWidget)
				r.Post("/close", s.closeWidget)
				r.Post("/minimize", s.minimizeWidget)
				r.Post("/expand", s.expandWidget)
				r.Post("/analyze", s.analyzeWidget)

				// Client side of the capture device
				r.Post("/device/grant", s.grantDevice)
				r.Post("/device/deny", s.denyDevice)
				r.Post("/device/frame", s.pushFrame)
				r.Post("/device/ended", s.endDevice)
				r.Get("/device/stream", s.frameStream)
			})

			// Artifacts
			r.Post("/artifact/{kind}", s.streamArtifact)
		})
	})

	// Events
	r.Get("/event", s.events)
}
