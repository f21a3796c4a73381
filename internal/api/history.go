package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/periphctl/internal/history"
)

// handleListHistory lists executed commands, newest first.
//
// Query parameters: module, command, source, errors=true, limit, offset.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command history is disabled")
		return
	}

	q := r.URL.Query()
	filter := history.Filter{
		Module:  q.Get("module"),
		Command: q.Get("command"),
		Source:  q.Get("source"),
		OnlyErr: q.Get("errors") == "true",
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing history", "error", err)
		writeInternalError(w, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer; "" is 0.
func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
