package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/improvements-api/internal/api"
	apiMiddleware "github.com/phrazzld/improvements-api/internal/api/middleware"
)

// requestTimeout bounds the time a handler may spend on one request.
const requestTimeout = 30 * time.Second

// setupRouter creates the router with the standard middleware and the task
// routes.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.Trace(app.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	handler := api.NewTaskHandler(app.entries, app.queries, app.config.Pagination, app.logger)
	api.RegisterRoutes(r, handler)

	return r
}
