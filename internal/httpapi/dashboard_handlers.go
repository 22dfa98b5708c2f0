package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cluelyguard.com/internal/auth"
)

const (
	defaultPage    = 1
	maxPage        = 1000
	defaultPerPage = 20
	maxPerPage     = 100
)

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type pagedResponse[T any] struct {
	Data []T      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func newPage[T any](items []T, total, page, perPage int) pagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pagedResponse[T]{
		Data: items,
		Meta: pageMeta{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: (total + perPage - 1) / perPage,
		},
	}
}

func (a *API) handleListDetections(w http.ResponseWriter, r *http.Request) {
	orgID, page, perPage, ok := a.listScope(w, r)
	if !ok {
		return
	}
	items, total := a.detections.Detections(orgID, page, perPage)
	writeJSON(w, http.StatusOK, newPage(items, total, page, perPage))
}

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	orgID, page, perPage, ok := a.listScope(w, r)
	if !ok {
		return
	}
	items, total := a.detections.Agents(orgID, page, perPage)
	writeJSON(w, http.StatusOK, newPage(items, total, page, perPage))
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	orgID, page, perPage, ok := a.listScope(w, r)
	if !ok {
		return
	}
	items, total := a.detections.Alerts(orgID, page, perPage)
	writeJSON(w, http.StatusOK, newPage(items, total, page, perPage))
}

// listScope resolves the caller's organization and pagination. Handlers never
// take the organization from the request.
func (a *API) listScope(w http.ResponseWriter, r *http.Request) (orgID string, page, perPage int, ok bool) {
	orgID, err := auth.OrgScope(r.Context())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return "", 0, 0, false
	}
	page, perPage, err = parsePagination(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", 0, 0, false
	}
	return orgID, page, perPage, true
}

func parsePagination(q url.Values) (page, perPage int, err error) {
	page, err = parseBoundedInt(q.Get("page"), "page", defaultPage, 1, maxPage)
	if err != nil {
		return 0, 0, err
	}
	perPage, err = parseBoundedInt(q.Get("per_page"), "per_page", defaultPerPage, 1, maxPerPage)
	if err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func parseBoundedInt(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}
