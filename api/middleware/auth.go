package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/pactsign-backend/api/responses"
	pkgAuth "github.com/angelmondragon/pactsign-backend/pkg/auth"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	"github.com/angelmondragon/pactsign-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

// Auth resolves the bearer token into an Actor on the request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	codec := pkgAuth.NewCodec(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := authenticate(codec, r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActor(ctx, actor.UserID.String(), string(actor.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(codec *pkgAuth.Codec, header string) (Actor, error) {
	token := bearerToken(header)
	if token == "" {
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := codec.Parse(token)
	switch {
	case errors.Is(err, pkgAuth.ErrTokenExpired):
		return Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "token expired")
	case err != nil:
		return Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	case !claims.Role.IsValid():
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown role")
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}, nil
}

// RequireRole must run after Auth.
func RequireRole(role enums.UserRole, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if actor.Role != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
