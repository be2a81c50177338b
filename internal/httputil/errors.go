package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/llmshield/shield-gateway/internal/types"
)

// ErrorBody is the error envelope: a single human-readable detail
// string, plus the shield metadata when a pipeline block produced the
// error.
type ErrorBody struct {
	Detail string                `json:"detail"`
	Shield *types.ShieldMetadata `json:"llm_shield,omitempty"`
}

// WriteDetail writes a plain JSON error with the given status.
func WriteDetail(w http.ResponseWriter, requestID string, statusCode int, detail string) {
	WriteShieldDetail(w, requestID, statusCode, detail, nil)
}

// WriteShieldDetail writes a JSON error carrying shield metadata for
// telemetry-aware clients.
func WriteShieldDetail(w http.ResponseWriter, requestID string, statusCode int, detail string, meta *types.ShieldMetadata) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorBody{Detail: detail, Shield: meta})
}

func WriteBadRequest(w http.ResponseWriter, requestID, detail string) {
	WriteDetail(w, requestID, http.StatusBadRequest, detail)
}

func WriteForbidden(w http.ResponseWriter, requestID, detail string) {
	WriteDetail(w, requestID, http.StatusForbidden, detail)
}

func WriteRateLimited(w http.ResponseWriter, requestID, detail string) {
	WriteDetail(w, requestID, http.StatusTooManyRequests, detail)
}

func WriteUpstreamError(w http.ResponseWriter, requestID, detail string) {
	WriteDetail(w, requestID, http.StatusBadGateway, detail)
}

func WriteInternalError(w http.ResponseWriter, requestID, detail string) {
	WriteDetail(w, requestID, http.StatusInternalServerError, detail)
}
