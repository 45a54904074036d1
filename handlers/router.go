package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	if app.Config().TrustProxy {
		mux.Use(middleware.RealIP)
	}
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(NewSecurityHeadersMiddleware())
	if app.Config().LANOnly {
		mux.Use(RequireLAN)
	}

	mux.Get("/", MakeHandler(app, HandleHome))
	mux.Get("/health", MakeHandler(app, HandleHealth))
	mux.Get("/api/boards", MakeHandler(app, HandleListBoards))

	mux.Route("/b/{slug}", func(r chi.Router) {
		r.Use(ValidBoardSlug(app))

		// The board page renders its own key prompt.
		r.Get("/", MakeHandler(app, HandleBoard))

		r.Group(func(r chi.Router) {
			r.Use(RequireBoardKey(app))
			r.Get("/stream", MakeHandler(app, HandleStream))
			r.Get("/entries/{id}/image", MakeHandler(app, HandleImage))
			r.Get("/entries/{id}/download", MakeHandler(app, HandleDownload))

			r.With(RateLimitWrites(app)).Post("/entries", MakeHandler(app, HandleCreateEntry))
			r.With(RateLimitWrites(app)).Delete("/entries/{id}", MakeHandler(app, HandleDeleteEntry))
		})

		r.With(RateLimitWrites(app)).Post("/auth/generate", MakeHandler(app, HandleGenerateKey))
		r.With(RateLimitWrites(app)).Delete("/auth", MakeHandler(app, HandleRevokeKey))
	})

	return mux
}
