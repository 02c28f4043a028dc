// Package httpx holds the JSON response helpers shared by the HTTP handlers
// and the mapping from domain errors to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
)

// maxBodyBytes caps request bodies; every request in this API is tiny.
const maxBodyBytes = 1 << 16

// ErrBadRequest marks malformed request input.
var ErrBadRequest = errors.New("httpx: bad request")

type mapping struct {
	err    error
	status int
	code   string
}

var (
	mu       sync.RWMutex
	mappings []mapping
)

// Register maps each of errs (matched with errors.Is) to an HTTP status and
// a stable machine-readable code. Packages call it from init.
func Register(status int, code string, errs ...error) {
	mu.Lock()
	defer mu.Unlock()
	for _, err := range errs {
		mappings = append(mappings, mapping{err: err, status: status, code: code})
	}
}

func init() {
	Register(http.StatusBadRequest, "BAD_REQUEST", ErrBadRequest)
}

// Classify returns the status and code registered for err, falling back to
// 500 INTERNAL.
func Classify(err error) (int, string) {
	mu.RLock()
	defer mu.RUnlock()
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a plain message with status and no code.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// Fail maps err to its registered status and writes it. Internal errors are
// logged and their message is not exposed.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// DecodeJSON reads a JSON body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", ErrBadRequest, err)
	}
	return nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, name)
	}
	return v, nil
}
