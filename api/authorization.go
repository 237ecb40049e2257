// Package api provides authorization middleware for fine-grained access
// control. This file implements scope-based authorization over whatever
// an upstream auth middleware has already placed in the Echo context: a
// *AuthUser, a raw scopes slice, or a JWT/OIDC claims map.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthUser is an authenticated caller's identity and granted scopes.
type AuthUser struct {
	ID       string                 `json:"id"`
	Username string                 `json:"username,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Scopes   []string               `json:"scopes,omitempty"`
	Claims   map[string]interface{} `json:"claims,omitempty"`
}

const (
	contextKeyUser   = "user"
	contextKeyClaims = "claims"
	contextKeyScopes = "scopes"
)

// SetUser stores the authenticated user in the Echo context.
func SetUser(c echo.Context, user *AuthUser) {
	c.Set(contextKeyUser, user)
}

// GetUser retrieves the authenticated user set by SetUser, if any.
func GetUser(c echo.Context) (*AuthUser, bool) {
	user, ok := c.Get(contextKeyUser).(*AuthUser)
	return user, ok
}

// SetClaims stores JWT/OIDC claims in the Echo context.
func SetClaims(c echo.Context, claims map[string]interface{}) {
	c.Set(contextKeyClaims, claims)
}

// GetClaims retrieves the claims set by SetClaims, if any.
func GetClaims(c echo.Context) (map[string]interface{}, bool) {
	claims, ok := c.Get(contextKeyClaims).(map[string]interface{})
	return claims, ok
}

// SetScopes stores authorization scopes directly, bypassing AuthUser/claims.
func SetScopes(c echo.Context, scopes []string) {
	c.Set(contextKeyScopes, scopes)
}

// GetScopes retrieves the scopes set by SetScopes, if any.
func GetScopes(c echo.Context) ([]string, bool) {
	scopes, ok := c.Get(contextKeyScopes).([]string)
	return scopes, ok
}

// RequireScope returns middleware enforcing that the caller holds at least
// one of requiredScopes. Scopes are read, in order, from an AuthUser, a
// directly-set scopes slice, then a claims map's "scope"/"scopes" entry.
// No scopes found at all is 401; scopes found but none matching is 403.
func RequireScope(requiredScopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var userScopes []string
			if user, ok := GetUser(c); ok && user != nil {
				userScopes = user.Scopes
			}
			if len(userScopes) == 0 {
				if scopes, ok := GetScopes(c); ok {
					userScopes = scopes
				}
			}
			if len(userScopes) == 0 {
				if claims, ok := GetClaims(c); ok {
					userScopes = extractScopesFromClaims(claims)
				}
			}

			if len(userScopes) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required: no scopes available")
			}
			if !hasAnyScope(userScopes, requiredScopes) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions: missing required scope")
			}
			return next(c)
		}
	}
}

func hasAnyScope(userScopes, requiredScopes []string) bool {
	for _, required := range requiredScopes {
		for _, user := range userScopes {
			if user == required {
				return true
			}
		}
	}
	return false
}

// extractScopesFromClaims handles the "scope" claim as either a
// space-separated string (OAuth2/OIDC convention) or an array, and the
// "scopes" claim as an array.
func extractScopesFromClaims(claims map[string]interface{}) []string {
	if scope, ok := claims["scope"]; ok {
		if scopeStr, ok := scope.(string); ok {
			return parseSpaceSeparatedScopes(scopeStr)
		}
		if scopeArr, ok := scope.([]interface{}); ok {
			return interfaceArrayToStringArray(scopeArr)
		}
	}
	if scopes, ok := claims["scopes"]; ok {
		if scopeArr, ok := scopes.([]interface{}); ok {
			return interfaceArrayToStringArray(scopeArr)
		}
	}
	return nil
}

func parseSpaceSeparatedScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}
	var result []string
	for _, scope := range splitString(scopes, ' ') {
		if scope != "" {
			result = append(result, scope)
		}
	}
	return result
}

func splitString(s string, delimiter rune) []string {
	var result []string
	var current string
	for _, c := range s {
		if c == delimiter {
			if current != "" {
				result = append(result, current)
				current = ""
			}
		} else {
			current += string(c)
		}
	}
	if current != "" {
		result = append(result, current)
	}
	return result
}

func interfaceArrayToStringArray(arr []interface{}) []string {
	result := make([]string, 0, len(arr))
	for _, v := range arr {
		if str, ok := v.(string); ok {
			result = append(result, str)
		}
	}
	return result
}
