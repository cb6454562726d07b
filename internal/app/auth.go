package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vantage-ehs/vantage/internal/platform/httpx"
	"github.com/vantage-ehs/vantage/internal/shared"
)

// TokenAuth authenticates service callers with static bearer tokens. A token
// is presented as "actor:secret"; only the bcrypt hash of the secret is held
// in configuration.
type TokenAuth struct {
	logger *slog.Logger
	hashes map[string][]byte
}

// NewTokenAuth parses the configured actor:hash pairs.
func NewTokenAuth(cfg *Config, logger *slog.Logger) (*TokenAuth, error) {
	hashes := make(map[string][]byte)
	for _, pair := range strings.Split(cfg.APITokens, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		actor, hash, ok := strings.Cut(pair, ":")
		if !ok || actor == "" || hash == "" {
			return nil, fmt.Errorf("app: malformed api token entry %q", pair)
		}
		hashes[actor] = []byte(hash)
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("app: no api tokens configured")
	}
	return &TokenAuth{logger: logger, hashes: hashes}, nil
}

// Middleware authenticates the request and stores the actor on the context.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		actor, secret, ok := strings.Cut(raw, ":")
		if raw == "" || !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		hash, known := a.hashes[actor]
		if !known || bcrypt.CompareHashAndPassword(hash, []byte(secret)) != nil {
			if a.logger != nil {
				a.logger.Warn("rejected api token", slog.String("actor", actor), slog.String("path", r.URL.Path))
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
