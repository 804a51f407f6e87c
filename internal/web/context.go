package web

import (
	"context"
	"net/http"
	"strings"
)

// ActingAccountHeader names the account on whose behalf a request is made.
// It is set by the fronting identity proxy.
const ActingAccountHeader = "X-Acting-Account"

type ctxKey int

const actingAccountKey ctxKey = iota

// actingAccount stores the X-Acting-Account header value in the request context.
func actingAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActingAccountHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), actingAccountKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// ActingAccountFrom returns the acting account ID, or "" when none was given.
func ActingAccountFrom(ctx context.Context) string {
	id, _ := ctx.Value(actingAccountKey).(string)
	return id
}
