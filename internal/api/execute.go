package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/periphctl/internal/dispatch"
)

// Dispatch sources of the API transports.
const (
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
)

// handleExecute runs one command batch. Protocol outcomes, including a
// malformed body and a wrong api_key, are answered with 200 and the
// protocol document; only transport problems use other status codes.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body exceeds 1 MiB")
			return
		}
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		http.Error(w, "No data received", http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Handle(r.Context(), dispatch.Meta{
		RequestID: requestID(r.Context()),
		Source:    SourceHTTP,
	}, body)
	writeJSON(w, http.StatusOK, resp)
}
