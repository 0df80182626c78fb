// Package guard implements the two-gate access check in front of protected
// routes: authentication (bearer token -> identity) and, where a route
// declares one, authorization (identity role == required role).
//
// Handlers behind the guard may assume an identity is attached; they read it
// with MustIdentity.
package guard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"starterkit/internal/auth"
	apperrors "starterkit/internal/errors"
	"starterkit/internal/model"
)

const (
	identityIDKey = "identity_id"
	identityKey   = "identity"
)

// TokenVerifier decodes a bearer token into an identity id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// IdentityResolver loads the identity a verified token is bound to.
type IdentityResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Guard builds the access middleware.
type Guard struct {
	verifier TokenVerifier
	users    IdentityResolver
	log      *slog.Logger
}

// New creates a Guard.
func New(verifier TokenVerifier, users IdentityResolver, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{verifier: verifier, users: users, log: log}
}

// Authenticate returns the authentication gate. A request passes only with a
// valid bearer token whose identity still exists; everything else stops with
// 401 before any handler runs.
func (g *Guard) Authenticate() echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		ContextKey:  identityIDKey,
		TokenLookup: "header:" + echo.HeaderAuthorization + ":Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return g.verifier.Verify(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			g.log.InfoContext(c.Request().Context(), "authentication rejected",
				"reason", auth.FailureReason(err),
				"path", c.Path(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return apperrors.ErrUnauthorized
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(func(c echo.Context) error {
			rawID, _ := c.Get(identityIDKey).(string)
			id, err := uuid.Parse(rawID)
			if err != nil {
				g.log.WarnContext(c.Request().Context(), "authentication rejected", "reason", "malformed_subject")
				return apperrors.ErrUnauthorized
			}

			user, err := g.users.GetUser(c.Request().Context(), id)
			if err != nil {
				if errors.Is(err, apperrors.ErrUserNotFound) {
					g.log.InfoContext(c.Request().Context(), "authentication rejected",
						"reason", "unknown_identity", "user_id", id.String())
					return apperrors.ErrUnauthorized
				}
				return err
			}

			c.Set(identityKey, user)
			return next(c)
		})
	}
}

// RequireRole returns the authorization gate. It must run after Authenticate.
func (g *Guard) RequireRole(role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := MustIdentity(c)
			if user.Role != role {
				g.log.InfoContext(c.Request().Context(), "authorization rejected",
					"user_id", user.ID.String(), "role", string(user.Role), "required", string(role))
				return apperrors.ErrForbidden
			}
			return next(c)
		}
	}
}

// Identity returns the identity attached by Authenticate.
func Identity(c echo.Context) (*model.User, bool) {
	user, ok := c.Get(identityKey).(*model.User)
	return user, ok && user != nil
}

// MustIdentity returns the attached identity and panics with
// apperrors.ErrNotAuthenticated when there is none: a handler reached
// without the guard is a wiring bug, not a client error.
func MustIdentity(c echo.Context) *model.User {
	user, ok := Identity(c)
	if !ok {
		panic(apperrors.ErrNotAuthenticated)
	}
	return user
}
