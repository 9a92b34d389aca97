package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/miyagawa-lab/geonarrator/apperrors"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Error encoding JSON response: %v", err)
		}
	}
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}
	writeJSON(w, httpStatus, resp)
}

// WriteKindedError maps an error's classification onto an HTTP status so
// clients can tell "try again" from "permanently failed".
func WriteKindedError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConcurrencyRejected:
		status = http.StatusTooManyRequests
	case apperrors.KindTransientExternal:
		status = http.StatusBadGateway
	case apperrors.KindPermanentFailure:
		status = http.StatusBadGateway
	case apperrors.KindPersistence:
		status = http.StatusServiceUnavailable
	}
	WriteAPIError(w, status, kind.String(), err.Error())
}
