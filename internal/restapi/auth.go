// Package restapi implements the authorization, uniqueness, foreign-key,
// and cross-entity invariant validators guarding writes to tier- and
// host-deployments. Transport framing is intentionally bare; only enough
// gorilla/mux routing exists to exercise the validators.
package restapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taggeddeploy/tds/internal/domain"
)

// Level is one of the four access levels.
type Level string

const (
	LevelDev         Level = "dev"
	LevelEnvironment Level = "environment"
	LevelAdmin       Level = "admin"
	LevelDisabled    Level = "disabled"
)

// levelRank orders levels from least to most privileged so MinLevel checks
// can be expressed as a simple comparison. "disabled" ranks above "admin":
// no actor, including an admin, may perform a disabled operation.
var levelRank = map[Level]int{
	LevelDev:         1,
	LevelEnvironment: 2,
	LevelAdmin:       3,
	LevelDisabled:    4,
}

// Operation declares the minimum access level a write requires.
type Operation struct {
	Name     string
	MinLevel Level
}

// AdminClaims is the JWT payload carried by an admin cookie. Methods lists
// the HTTP methods the cookie is scoped to use; an admin cookie bearing
// method restrictions must include the requested method in its allow-list.
type AdminClaims struct {
	jwt.RegisteredClaims
	Level   Level    `json:"level"`
	Methods []string `json:"methods,omitempty"`
}

// Authorizer resolves the Level for an incoming request and enforces an
// Operation's declared minimum, plus the admin-cookie method allow-list.
type Authorizer struct {
	secret []byte
}

// NewAuthorizer builds an Authorizer validating admin cookies with the
// given HMAC secret.
func NewAuthorizer(secret string) *Authorizer {
	return &Authorizer{secret: []byte(secret)}
}

// ActorLevel resolves the caller's access level from the request's admin
// cookie, defaulting to LevelDev when no cookie is present or the secret
// is unconfigured (absence of
// credentials doesn't escalate privilege, it falls back to the weakest
// level that still lets read/dev-scoped operations through).
func (a *Authorizer) ActorLevel(r *http.Request) (Level, *AdminClaims, error) {
	cookie, err := r.Cookie("tds_admin")
	if err != nil || cookie.Value == "" {
		return LevelDev, nil, nil
	}
	if len(a.secret) == 0 {
		return LevelDev, nil, nil
	}
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return LevelDev, nil, domain.NewError(domain.KindAuthorizationDenied, "invalid admin cookie")
	}
	return claims.Level, claims, nil
}

// Authorize enforces op's declared minimum level against the request's
// resolved actor level, and — for admin-level operations carrying a
// method-restricted cookie — that the cookie's allow-list includes the
// request's HTTP method.
func (a *Authorizer) Authorize(r *http.Request, op Operation) error {
	level, claims, err := a.ActorLevel(r)
	if err != nil {
		return err
	}
	if level == LevelDisabled {
		return domain.NewError(domain.KindAuthorizationDenied, "actor access is disabled")
	}
	if levelRank[level] < levelRank[op.MinLevel] {
		return domain.NewError(domain.KindAuthorizationDenied, "operation %q requires at least %q access, actor has %q", op.Name, op.MinLevel, level)
	}
	if op.MinLevel == LevelAdmin && claims != nil && len(claims.Methods) > 0 {
		if !containsMethod(claims.Methods, r.Method) {
			return domain.NewError(domain.KindAuthorizationDenied, "admin cookie does not permit method %s", r.Method)
		}
	}
	return nil
}

// IssueAdminCookie mints a signed admin cookie restricted to the given
// methods (empty methods means unrestricted), valid for ttl.
func (a *Authorizer) IssueAdminCookie(subject string, methods []string, ttl time.Duration) (string, error) {
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Level:   LevelAdmin,
		Methods: methods,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Declared operation minimums for tier- and host-deployment writes.
var (
	OpCreateTierDeployment = Operation{Name: "create_tier_deployment", MinLevel: LevelEnvironment}
	OpUpdateTierDeployment = Operation{Name: "update_tier_deployment", MinLevel: LevelEnvironment}
	OpCreateHostDeployment = Operation{Name: "create_host_deployment", MinLevel: LevelEnvironment}
	OpUpdateHostDeployment = Operation{Name: "update_host_deployment", MinLevel: LevelEnvironment}
	OpValidate             = Operation{Name: "validate", MinLevel: LevelEnvironment}
	OpInvalidate           = Operation{Name: "invalidate", MinLevel: LevelEnvironment}
	OpAdminConfig          = Operation{Name: "admin_config", MinLevel: LevelAdmin}
)

type ctxKey string

const ctxActorLevel ctxKey = "restapi.actor_level"

// withActorLevel stashes the resolved level on the request context for
// downstream handlers.
func withActorLevel(ctx context.Context, level Level) context.Context {
	return context.WithValue(ctx, ctxActorLevel, level)
}
