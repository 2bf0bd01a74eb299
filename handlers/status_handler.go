package handlers

import (
	"net/http"

	"github.com/o11y-demo/genai-facts/utils"
)

// StatusInfo describes the running service
type StatusInfo struct {
	Service        string `json:"service"`
	Version        string `json:"version"`
	Environment    string `json:"environment"`
	Model          string `json:"model"`
	ProjectID      string `json:"project_id"`
	Region         string `json:"region"`
	HistoryEnabled bool   `json:"history_enabled"`
}

// StatusHandler handles GET /api/v1/status
func StatusHandler(info StatusInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, info)
	}
}
