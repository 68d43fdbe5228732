package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// Records runs a sync over the requested window and returns the filtered
// records. Per-partition failures are annotated in the response body, not
// turned into an HTTP error: a broken partition must not hide the rest.
//
// Query parameters: start, end (YYYY-MM-DD, default current month so far),
// partitions and types (comma-separated), force (bool).
func (h *Handlers) Records(w http.ResponseWriter, r *http.Request) {
	req, err := parseSyncRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.syncer.Sync(r.Context(), req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "sync failed: "+err.Error(), err)
		return
	}
	h.writeJSON(w, result)
}

func parseSyncRequest(r *http.Request) (types.SyncRequest, error) {
	q := r.URL.Query()
	req := types.SyncRequest{
		Start: types.Today().FirstOfMonth(),
		End:   types.Today(),
	}

	if raw := q.Get("start"); raw != "" {
		d, err := types.ParseDate(raw)
		if err != nil {
			return types.SyncRequest{}, err
		}
		req.Start = d
	}
	if raw := q.Get("end"); raw != "" {
		d, err := types.ParseDate(raw)
		if err != nil {
			return types.SyncRequest{}, err
		}
		req.End = d
	}
	req.Partitions = splitList(q.Get("partitions"))
	for _, raw := range splitList(q.Get("types")) {
		req.Types = append(req.Types, types.TypeCode(strings.ToUpper(raw)))
	}
	if raw := q.Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return types.SyncRequest{}, err
		}
		req.ForceRefresh = force
	}
	return req, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
