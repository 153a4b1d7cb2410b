package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// AgentTokenKey is the context key for the agent identity token.
const AgentTokenKey contextKey = "agent_token"

// AgentTokenExtractor records the agent token carried in the query string,
// if any, so logging and tracing can tag the request. Handlers that read
// the token from a JSON body do not depend on it.
func AgentTokenExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), AgentTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAgentToken retrieves the agent token from the request context.
func GetAgentToken(ctx context.Context) string {
	if v, ok := ctx.Value(AgentTokenKey).(string); ok {
		return v
	}
	return ""
}
