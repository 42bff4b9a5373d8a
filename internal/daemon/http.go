package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"flowops/internal/workflows"
)

const maxRequestBody = 1 << 20

var kindStatus = map[string]int{
	workflows.KindValidation:              http.StatusBadRequest,
	workflows.KindNotFound:                http.StatusNotFound,
	workflows.KindDuplicateCorrelationID:  http.StatusConflict,
	workflows.KindApprovalNotPending:      http.StatusConflict,
	workflows.KindExceptionNotOpen:        http.StatusConflict,
	workflows.KindDuplicateOpenApproval:   http.StatusConflict,
	workflows.KindAlreadyResolved:         http.StatusConflict,
	workflows.KindInvalidPolicyDefinition: http.StatusUnprocessableEntity,
	workflows.KindStepExecution:           http.StatusBadGateway,
	workflows.KindConcurrencyConflict:     http.StatusConflict,
	workflows.KindInvalidTransition:       http.StatusConflict,
	workflows.KindRunTerminal:             http.StatusConflict,
	workflows.KindOpenExceptions:          http.StatusConflict,
	workflows.KindForbidden:               http.StatusForbidden,
	kindUnauthorized:                      http.StatusUnauthorized,
	kindUnavailable:                       http.StatusServiceUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := errorKind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		message = svcErr.Message
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// decodeJSON reads a bounded JSON body. An empty body leaves out untouched.
func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return invalidError("invalid json body", err)
	}
	return nil
}

// pageParams reads limit plus either a 1-based page or a raw offset.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = queryInt(q.Get("limit"), 0)
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		return limit, queryInt(raw, 0)
	}
	if page := queryInt(q.Get("page"), 1); page > 1 {
		effective := limit
		if effective <= 0 {
			effective = workflows.DefaultPageLimit
		}
		offset = (page - 1) * effective
	}
	return limit, offset
}

func queryInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}

func queryBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
