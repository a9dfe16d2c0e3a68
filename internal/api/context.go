package api

import (
	"context"
	"net/http"
	"time"
)

// reqCtx derives a bounded context from the incoming request, so a
// slow downstream dependency cannot hold a handler goroutine forever.
func reqCtx(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}
