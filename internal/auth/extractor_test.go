package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		url           string
		headers       map[string]string
		wantToken     string
		wantSource    TokenSource
		wantMalformed bool
	}{
		{
			name:       "bearer header",
			url:        "/api/backups",
			headers:    map[string]string{"Authorization": "Bearer lh_abc"},
			wantToken:  "lh_abc",
			wantSource: TokenSourceBearerHeader,
		},
		{
			name:       "bearer is case insensitive",
			url:        "/api/backups",
			headers:    map[string]string{"Authorization": "bearer   lh_abc "},
			wantToken:  "lh_abc",
			wantSource: TokenSourceBearerHeader,
		},
		{
			name:          "bearer without token",
			url:           "/api/backups",
			headers:       map[string]string{"Authorization": "Bearer "},
			wantSource:    TokenSourceBearerHeader,
			wantMalformed: true,
		},
		{
			name:       "basic auth is ignored",
			url:        "/api/backups",
			headers:    map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			wantSource: TokenSourceNone,
		},
		{
			name:       "api key header",
			url:        "/api/backups",
			headers:    map[string]string{"X-API-Key": "lh_key"},
			wantToken:  "lh_key",
			wantSource: TokenSourceAPIKeyHeader,
		},
		{
			name:       "query parameter",
			url:        "/api/backups/a.json/download?token=lh_q",
			wantToken:  "lh_q",
			wantSource: TokenSourceQueryParam,
		},
		{
			name:          "empty query parameter",
			url:           "/api/backups?token=",
			wantSource:    TokenSourceQueryParam,
			wantMalformed: true,
		},
		{
			name:       "header wins over query",
			url:        "/api/backups?token=lh_q",
			headers:    map[string]string{"Authorization": "Bearer lh_h"},
			wantToken:  "lh_h",
			wantSource: TokenSourceBearerHeader,
		},
		{
			name:       "nothing",
			url:        "/api/backups",
			wantSource: TokenSourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			got := ExtractToken(r)
			if got.Token != tt.wantToken {
				t.Errorf("token = %q, want %q", got.Token, tt.wantToken)
			}
			if got.Source != tt.wantSource {
				t.Errorf("source = %v, want %v", got.Source, tt.wantSource)
			}
			if got.IsMalformed != tt.wantMalformed {
				t.Errorf("malformed = %v, want %v", got.IsMalformed, tt.wantMalformed)
			}
		})
	}
}

func TestSanitizeTokenForLogging(t *testing.T) {
	if got := SanitizeTokenForLogging(""); got != "<empty>" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeTokenForLogging("short"); got != "****" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeTokenForLogging("lh_0123456789abcdef"); got != "lh_0123****cdef" {
		t.Errorf("got %q", got)
	}
}
