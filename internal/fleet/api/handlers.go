package api

import (
	"net/http"

	"github.com/chiquitav2/subfleet/pkg/api"
)

// healthHandler returns the service health status.
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := api.HealthResponse{
			Status:  "healthy",
			Version: s.version,
		}

		if err := s.store.Ping(r.Context()); err != nil {
			response.Status = "degraded"
		}

		if err := WriteSuccess(w, response); err != nil {
			s.logger.ErrorCtx(r.Context(), "failed to encode health response", err)
		}
	}
}

// subscriptionHandler resolves a subscription token into a connection
// credential. The body is the bare credential document the client consumes,
// not the admin response envelope. When the stored access URL could not be
// parsed the raw URL is served as plain text instead.
func (s *Server) subscriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := r.PathValue("token")

		cred, err := s.resolver.Resolve(ctx, token, clientIP(r))
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		if cred.Raw != "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte(cred.Raw)); err != nil {
				s.logger.ErrorCtx(ctx, "failed to write raw credential", err)
			}
			return
		}

		if err := WriteJSON(w, http.StatusOK, cred); err != nil {
			s.logger.ErrorCtx(ctx, "failed to encode credential", err)
		}
	}
}
