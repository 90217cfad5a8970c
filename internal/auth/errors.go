package auth

import (
	"encoding/json"
	"net/http"

	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

func sendAuthError(w http.ResponseWriter, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error:   errMsg,
		Message: message,
		Code:    http.StatusUnauthorized,
	})
}
