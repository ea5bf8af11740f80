package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/service"
)

// Query parameters of the task listing.
const (
	queryStatus   = "status"
	queryCursor   = "cursor"
	queryPageSize = "num"
	queryNewToOld = "new_to_old"
)

// getPathParam returns a required chi URL parameter, decoded. chi matches
// against the raw path when the request has one, leaving params escaped.
func getPathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		if decoded, err := url.PathUnescape(v); err == nil {
			v = decoded
		}
	}
	if v == "" {
		return "", domain.NewValidationError(name, "is required", nil)
	}
	return v, nil
}

// getTaskEntryID returns the task entry ID from the path, rejecting values
// that cannot be a task entry ID.
func getTaskEntryID(r *http.Request) (string, error) {
	id, err := getPathParam(r, "id")
	if err != nil {
		return "", err
	}
	if _, err := domain.ParseTaskEntryID(id); err != nil {
		return "", err
	}
	return id, nil
}

// parsePageRequest reads the listing filter from the path and the paging
// controls from the query string. The page size defaults to the configured
// default and may not exceed the configured maximum; the order defaults to
// newest first.
func parsePageRequest(r *http.Request, pagination config.PaginationConfig) (service.PageRequest, error) {
	entityType, err := getPathParam(r, "entity_type")
	if err != nil {
		return service.PageRequest{}, err
	}
	entityID, err := getPathParam(r, "entity_id")
	if err != nil {
		return service.PageRequest{}, err
	}

	q := r.URL.Query()
	req := service.PageRequest{
		EntityType: domain.EntityType(entityType),
		EntityID:   entityID,
		Status:     domain.TaskStatus(q.Get(queryStatus)),
		Cursor:     q.Get(queryCursor),
		PageSize:   pagination.DefaultPageSize,
		NewToOld:   true,
	}

	if raw := q.Get(queryPageSize); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return service.PageRequest{}, domain.NewValidationError(queryPageSize, "must be a positive integer", nil)
		}
		if n > pagination.MaxPageSize {
			return service.PageRequest{}, domain.NewValidationError(queryPageSize,
				"must not exceed "+strconv.Itoa(pagination.MaxPageSize), nil)
		}
		req.PageSize = n
	}

	if raw := q.Get(queryNewToOld); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return service.PageRequest{}, domain.NewValidationError(queryNewToOld, "must be a boolean", nil)
		}
		req.NewToOld = b
	}

	return req, nil
}
