package api

import "github.com/go-chi/chi/v5"

// RegisterRoutes mounts the task endpoints under /api and the health check.
func RegisterRoutes(r chi.Router, h *TaskHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks/{entity_type}/{entity_id}", h.ListTasks)
		r.Get("/tasks/{entity_type}/{entity_id}/open", h.ListOpenTasks)

		r.Post("/task-entries", h.CreateTask)
		r.Get("/task-entries/{id}", h.GetTask)
		r.Post("/task-entries/{id}/close", h.CloseTask)
		r.Post("/task-entries/{id}/reopen", h.ReopenTask)
	})

	r.Get("/health", Health)
}
