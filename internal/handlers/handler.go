// Package handlers holds the built-in actions that file-defined errands can run.
package handlers

import (
	"context"
	"encoding/json"

	errhttp "errands/internal/handlers/http"
	"errands/internal/handlers/shell"
)

// Handler executes one action described by a JSON payload.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Builtin returns the handlers available to definition files, keyed by name.
func Builtin() map[string]Handler {
	return map[string]Handler{
		"shell": shell.Shell{},
		"http":  errhttp.HTTP{},
	}
}
