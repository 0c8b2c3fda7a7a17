package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/risecrm/apigate/internal/envelope"
	"github.com/risecrm/apigate/internal/gateway"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// resourceHandler serves the generic CRUD surface for one registered
// resource. All persistence goes through the resource's ModelStore; the
// handler only does query parsing and envelope building.
type resourceHandler struct {
	resource Resource
	envelope *envelope.Builder
	logger   *slog.Logger
}

func (h *resourceHandler) list(w http.ResponseWriter, r *http.Request) {
	start := gateway.StartFrom(r.Context())

	limit, offset, ok := h.parseWindow(w, r)
	if !ok {
		return
	}

	items, total, err := h.resource.Store.GetDetails(ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.serverError(w, r, "list "+h.resource.Name, err)
		return
	}

	rows := make([]any, len(items))
	for i, item := range items {
		rows[i] = item
	}

	pagination := envelope.NewPagination(total, len(items), limit, offset)
	body, err := h.envelope.List(h.resource.Name, rows, pagination, h.resource.Unwrap, start)
	envelope.Write(w, http.StatusOK, body, err)
}

func (h *resourceHandler) get(w http.ResponseWriter, r *http.Request) {
	start := gateway.StartFrom(r.Context())

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	row, err := h.resource.Store.GetOne(id)
	if err != nil {
		h.serverError(w, r, "get "+h.resource.Name, err)
		return
	}
	if row == nil {
		h.fail(w, r, http.StatusNotFound, "Record not found")
		return
	}

	body, err := h.envelope.Success(row, start)
	envelope.Write(w, http.StatusOK, body, err)
}

func (h *resourceHandler) create(w http.ResponseWriter, r *http.Request) {
	start := gateway.StartFrom(r.Context())

	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	// New records belong to the key owner's user
	if key := gateway.APIKeyFrom(r.Context()); key != nil {
		data["created_by"] = key.CreatedBy
	}

	id, err := h.resource.Store.Save(data, 0)
	if err != nil {
		h.serverError(w, r, "create "+h.resource.Name, err)
		return
	}

	row, err := h.resource.Store.GetOne(id)
	if err != nil {
		h.serverError(w, r, "reload "+h.resource.Name, err)
		return
	}

	body, err := h.envelope.Success(row, start)
	envelope.Write(w, http.StatusCreated, body, err)
}

func (h *resourceHandler) update(w http.ResponseWriter, r *http.Request) {
	start := gateway.StartFrom(r.Context())

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	existing, err := h.resource.Store.GetOne(id)
	if err != nil {
		h.serverError(w, r, "load "+h.resource.Name, err)
		return
	}
	if existing == nil {
		h.fail(w, r, http.StatusNotFound, "Record not found")
		return
	}

	if _, err := h.resource.Store.Save(data, id); err != nil {
		h.serverError(w, r, "update "+h.resource.Name, err)
		return
	}

	row, err := h.resource.Store.GetOne(id)
	if err != nil {
		h.serverError(w, r, "reload "+h.resource.Name, err)
		return
	}

	body, err := h.envelope.Success(row, start)
	envelope.Write(w, http.StatusOK, body, err)
}

func (h *resourceHandler) delete(w http.ResponseWriter, r *http.Request) {
	start := gateway.StartFrom(r.Context())

	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	existing, err := h.resource.Store.GetOne(id)
	if err != nil {
		h.serverError(w, r, "load "+h.resource.Name, err)
		return
	}
	if existing == nil {
		h.fail(w, r, http.StatusNotFound, "Record not found")
		return
	}

	if err := h.resource.Store.Delete(id); err != nil {
		h.serverError(w, r, "delete "+h.resource.Name, err)
		return
	}

	body, err := h.envelope.Success(map[string]any{"deleted": true, "id": id}, start)
	envelope.Write(w, http.StatusOK, body, err)
}

// parseWindow reads limit/offset/page query parameters. page is an
// alternative to offset: offset = (page-1)*limit.
func (h *resourceHandler) parseWindow(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = defaultLimit
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			h.fail(w, r, http.StatusBadRequest, "Invalid limit parameter")
			return 0, 0, false
		}
		limit = n
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, http.StatusBadRequest, "Invalid offset parameter")
			return 0, 0, false
		}
		offset = n
	}

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.fail(w, r, http.StatusBadRequest, "Invalid page parameter")
			return 0, 0, false
		}
		offset = (n - 1) * limit
	}

	return limit, offset, true
}

func (h *resourceHandler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		h.fail(w, r, http.StatusBadRequest, "Invalid record id")
		return 0, false
	}
	return id, true
}

func (h *resourceHandler) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.fail(w, r, http.StatusBadRequest, "Invalid JSON in request body")
		return nil, false
	}
	if len(data) == 0 {
		h.fail(w, r, http.StatusBadRequest, "Request body is required")
		return nil, false
	}
	return data, true
}

func (h *resourceHandler) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	body, err := h.envelope.Error(status, message, gateway.StartFrom(r.Context()))
	envelope.Write(w, status, body, err)
}

func (h *resourceHandler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op, "error", err)
	h.fail(w, r, http.StatusInternalServerError, "Internal server error")
}
