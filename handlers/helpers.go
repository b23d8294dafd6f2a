package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sasta-kro/ciris-fleet-manager/fleeterrors"
)

// writeJsonAndRespond serializes payload to JSON and writes it to the
// response, setting Content-Type and the given status code. All handlers
// use this instead of calling json.NewEncoder directly, keeping the
// response format consistent across the entire API.
func writeJsonAndRespond(responseWriter http.ResponseWriter, statusCode int, payload any) {
	responseWriter.Header().Set("Content-Type", "application/json")

	serialized, err := json.Marshal(payload)
	if err != nil {
		http.Error(responseWriter, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}

	responseWriter.WriteHeader(statusCode)
	responseWriter.Write(serialized) // nolint:errcheck -- write errors are not actionable on the server side
}

// writeErrorJsonAndLogIt logs the error at level ERROR and writes a
// standard JSON error response to the client:
//
//	{"error": "some human-readable message"}
//
// message is sent to the client as given: handlers pass either a fixed
// string or, through writeOperationError and writeNotFoundOr404IfMatch,
// the operation error's Error() text.
func writeErrorJsonAndLogIt(responseWriter http.ResponseWriter, statusCode int, message string, logger *slog.Logger) {
	logger.Error("request error", "status", statusCode, "message", message)
	writeJsonAndRespond(responseWriter, statusCode, map[string]string{"error": message})
}

// writeOperationError maps err to an HTTP status via its fleeterrors
// code (spec §7: "the HTTP edge this system's API feeds can map codes to
// statuses") and writes the resulting error body. An error that never
// passed through fleeterrors.New/Newf is treated as an unclassified
// internal failure.
func writeOperationError(responseWriter http.ResponseWriter, err error, logger *slog.Logger) {
	code, ok := fleeterrors.CodeOf(err)
	if !ok {
		writeErrorJsonAndLogIt(responseWriter, http.StatusInternalServerError, err.Error(), logger)
		return
	}

	status := http.StatusInternalServerError
	switch code {
	case fleeterrors.CodeValidation:
		status = http.StatusBadRequest
	case fleeterrors.CodePermission:
		status = http.StatusForbidden
	case fleeterrors.CodeHostUnreachable:
		status = http.StatusBadGateway
	case fleeterrors.CodeContainerOp:
		status = http.StatusConflict
	case fleeterrors.CodeAgentProtocol:
		status = http.StatusBadGateway
	case fleeterrors.CodeRegistryCorruption:
		status = http.StatusInternalServerError
	}
	writeErrorJsonAndLogIt(responseWriter, status, err.Error(), logger)
}

// writeNotFoundOr404IfMatch writes 404 when err matches one of
// notFoundErrs via errors.Is, otherwise delegates to writeOperationError.
// Callers name the specific "not found" sentinel their dependency
// returns (registry.ErrNotFound, deploy's store miss, ...) without this
// helper importing every package that defines one.
func writeNotFoundOr404IfMatch(responseWriter http.ResponseWriter, err error, logger *slog.Logger, notFoundErrs ...error) {
	for _, nf := range notFoundErrs {
		if errors.Is(err, nf) {
			writeErrorJsonAndLogIt(responseWriter, http.StatusNotFound, err.Error(), logger)
			return
		}
	}
	writeOperationError(responseWriter, err, logger)
}
