// Package auth manages admin API tokens and extracts them from requests.
package auth

import (
	"net/http"
	"strings"
)

// TokenSource indicates where a token was extracted from
type TokenSource int

const (
	TokenSourceNone TokenSource = iota
	TokenSourceBearerHeader
	TokenSourceAPIKeyHeader
	// TokenSourceQueryParam lets browsers follow backup download links.
	TokenSourceQueryParam
)

func (s TokenSource) String() string {
	switch s {
	case TokenSourceBearerHeader:
		return "bearer_header"
	case TokenSourceAPIKeyHeader:
		return "api_key_header"
	case TokenSourceQueryParam:
		return "query_param"
	default:
		return "none"
	}
}

// ExtractedToken is the result of looking for a token in a request.
type ExtractedToken struct {
	Token  string
	Source TokenSource
	// IsMalformed is set when a token location was present but empty, e.g.
	// "Authorization: Bearer" with nothing after it.
	IsMalformed bool
}

// ExtractToken looks for a token in priority order: Authorization Bearer
// header, X-API-Key header, then the token query parameter.
func ExtractToken(r *http.Request) ExtractedToken {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "bearer "
		if len(auth) >= len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return found(strings.TrimSpace(auth[len(prefix):]), TokenSourceBearerHeader)
		}
		if strings.EqualFold(strings.TrimSpace(auth), "bearer") {
			return ExtractedToken{Source: TokenSourceBearerHeader, IsMalformed: true}
		}
	}

	if values, ok := r.Header["X-Api-Key"]; ok && len(values) > 0 {
		return found(strings.TrimSpace(values[0]), TokenSourceAPIKeyHeader)
	}

	if values, ok := r.URL.Query()["token"]; ok && len(values) > 0 {
		return found(strings.TrimSpace(values[0]), TokenSourceQueryParam)
	}

	return ExtractedToken{Source: TokenSourceNone}
}

func found(token string, source TokenSource) ExtractedToken {
	if token == "" {
		return ExtractedToken{Source: source, IsMalformed: true}
	}
	return ExtractedToken{Token: token, Source: source}
}

// SanitizeTokenForLogging shows only the prefix and last four characters.
func SanitizeTokenForLogging(token string) string {
	if token == "" {
		return "<empty>"
	}
	if len(token) < 12 {
		return "****"
	}
	return token[:7] + "****" + token[len(token)-4:]
}
