package presaled

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rados-io/saturn-presale/native/presale"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

var errBadRequest = errors.New("invalid request")

// statusFor maps the ledger error taxonomy onto HTTP statuses.
func statusFor(kind presale.Kind) int {
	switch kind {
	case presale.KindPrecondition:
		return http.StatusConflict
	case presale.KindBounds:
		return http.StatusUnprocessableEntity
	case presale.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError renders a ledger failure and records it against op.
func (s *Server) writeLedgerError(w http.ResponseWriter, op string, err error) {
	s.metrics.RecordRejection(op, err)
	kind := presale.KindOf(err)
	status := statusFor(kind)
	code := presale.Code(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("presaled: ledger failure",
			slog.String("operation", op),
			slog.String("code", code),
			slog.String("error", err.Error()))
		if code == "internal" {
			err = errors.New("internal error")
		}
	}
	writeError(w, status, code, err)
}
