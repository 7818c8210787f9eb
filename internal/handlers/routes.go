package handlers

import (
	"github.com/go-chi/chi/v5"
)

// API groups the handlers of the browser-facing surface.
type API struct {
	Auth       *AuthHandler
	Navigation *NavigationHandler
	Modules    *ModuleHandler
	Challan    *ChallanHandler
	Admin      *AdminHandler
	Compliance *ComplianceHandler
	Chat       *ChatHandler
	Downloads  *DownloadHandler
}

// Routes registers every /api route on r.
func (a API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, a.Auth)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.Auth.RequireSession)
			r.Route("/navigation", func(r chi.Router) {
				NavigationRouter(r, a.Navigation)
			})
			r.Route("/modules", func(r chi.Router) {
				ModuleRouter(r, a.Modules)
			})
			r.Route("/challan", func(r chi.Router) {
				ChallanRouter(r, a.Challan)
			})
			r.Route("/compliance", func(r chi.Router) {
				ComplianceRouter(r, a.Compliance)
			})
			r.Route("/chat", func(r chi.Router) {
				ChatRouter(r, a.Chat)
			})
			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				AdminRouter(r, a.Admin)
			})
			DownloadRouter(r, a.Downloads)
		})
	})
}
