package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/signet/signer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

// errorKind maps a signer error to its taxonomy name.
func errorKind(err error) string {
	switch {
	case errors.Is(err, signer.ErrDecode):
		return "decode"
	case errors.Is(err, signer.ErrVerification):
		return "verification"
	case errors.Is(err, signer.ErrBuild):
		return "build"
	case errors.Is(err, signer.ErrSigning):
		return "signing"
	case errors.Is(err, signer.ErrEncoding):
		return "encoding"
	default:
		return "internal"
	}
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signer.ErrDecode):
		writeError(w, http.StatusBadRequest, "decode", err.Error())
	case errors.Is(err, signer.ErrVerification):
		writeError(w, http.StatusUnprocessableEntity, "verification", err.Error())
	case errors.Is(err, signer.ErrBuild):
		writeError(w, http.StatusBadRequest, "build", err.Error())
	case errors.Is(err, signer.ErrSigning):
		writeError(w, http.StatusInternalServerError, "signing", err.Error())
	case errors.Is(err, signer.ErrEncoding):
		writeError(w, http.StatusInternalServerError, "encoding", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
