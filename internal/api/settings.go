package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/periphctl/internal/settings"
)

// SettingsUpdate is the PUT /settings body. Absent fields keep their
// current value.
type SettingsUpdate struct {
	WiFiSSID     *string `json:"wifi_ssid"`
	WiFiPassword *string `json:"wifi_password"`
	APIKey       *string `json:"api_key"`
}

func (u SettingsUpdate) apply(cur settings.Settings) settings.Settings {
	if u.WiFiSSID != nil {
		cur.WiFiSSID = *u.WiFiSSID
	}
	if u.WiFiPassword != nil {
		cur.WiFiPassword = *u.WiFiPassword
	}
	if u.APIKey != nil {
		cur.APIKey = *u.APIKey
	}
	return cur
}

type settingsResponse struct {
	Settings  settings.Settings `json:"settings"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *Server) writeSettings(w http.ResponseWriter, cur settings.Settings) {
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:  cur.Redacted(),
		UpdatedAt: s.settings.UpdatedAt().UTC().Format(time.RFC3339),
	})
}

// handleGetSettings returns the settings with secrets redacted.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	cur, err := s.settings.Get()
	if err != nil {
		s.logger.Error("loading settings", "error", err)
		writeInternalError(w, "settings unavailable")
		return
	}
	s.writeSettings(w, cur)
}

// handleUpdateSettings merges the body into the current settings and
// persists the result. A new api_key takes effect for the next batch.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var upd SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cur, err := s.settings.Get()
	if err != nil {
		s.logger.Error("loading settings", "error", err)
		writeInternalError(w, "settings unavailable")
		return
	}

	next := upd.apply(cur)
	if err := s.settings.Update(r.Context(), next); err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("saving settings", "error", err)
		writeInternalError(w, "failed to save settings")
		return
	}

	s.logger.Info("settings updated",
		"wifi_ssid", next.WiFiSSID,
		"api_key_changed", next.APIKey != cur.APIKey,
		"request_id", requestID(r.Context()),
	)
	s.writeSettings(w, next)
}
