// Package handlers implements the HTTP handlers of the trustd REST API.
//
// All protocol endpoints are POST and exchange enveloped JSON: requests carry
// a "requestObject", responses carry "status" ("OK" or "ERROR") and a
// "responseObject". A failed signature verification is a regular OK response
// with signatureValid false, not an error.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

// maxRequestBody bounds the accepted request size.
const maxRequestBody = 1 << 20

// Wire error codes. The mapping deliberately collapses distinct internal
// failures into coarse codes; see the service layer for which errors are
// already made generic before they reach the API.
const (
	codeInvalidRequest         = "ERR_INVALID_REQUEST"
	codeAuthentication         = "ERR_AUTHENTICATION"
	codeActivationNotFound     = "ERR_ACTIVATION_NOT_FOUND"
	codeApplicationNotFound    = "ERR_APPLICATION_NOT_FOUND"
	codeActivationInvalidState = "ERR_ACTIVATION_INVALID_STATE"
	codeActivationExpired      = "ERR_ACTIVATION_EXPIRED"
	codeActivationOtpInvalid   = "ERR_ACTIVATION_OTP_INVALID"
	codeTokenNotFound          = "ERR_TOKEN_NOT_FOUND"
	codeGeneric                = "ERR_GENERIC"
)

type requestEnvelope struct {
	RequestObject json.RawMessage `json:"requestObject"`
}

type responseEnvelope struct {
	Status         string `json:"status"`
	ResponseObject any    `json:"responseObject,omitempty"`
}

type errorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeRequest reads the request envelope and unmarshals its requestObject
// into dst. On failure it writes the error envelope and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body")
		return false
	}
	var envelope requestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "request is not valid JSON")
		return false
	}
	if len(envelope.RequestObject) == 0 {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "missing requestObject")
		return false
	}
	if err := json.Unmarshal(envelope.RequestObject, dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "malformed requestObject")
		return false
	}
	return true
}

// writeOK writes a 200 envelope around the given response object.
func writeOK(w http.ResponseWriter, obj any) {
	writeJSON(w, http.StatusOK, responseEnvelope{Status: "OK", ResponseObject: obj})
}

// writeError maps a domain error onto its wire code and HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusBadRequest, codeGeneric
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, crypto.ErrUnknownSignatureType):
		code = codeInvalidRequest
	case errors.Is(err, model.ErrActivationNotFound):
		code = codeActivationNotFound
	case errors.Is(err, model.ErrApplicationNotFound):
		code = codeApplicationNotFound
	case errors.Is(err, model.ErrInvalidActivationState):
		code = codeActivationInvalidState
	case errors.Is(err, model.ErrActivationExpired):
		code = codeActivationExpired
	case errors.Is(err, model.ErrInvalidActivationOtp):
		code = codeActivationOtpInvalid
	case errors.Is(err, model.ErrTokenNotFound):
		code = codeTokenNotFound
	default:
		status = http.StatusInternalServerError
	}
	writeErrorCode(w, status, code, err.Error())
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, responseEnvelope{
		Status:         "ERROR",
		ResponseObject: errorObject{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"ERROR"}`, http.StatusInternalServerError)
	}
}
