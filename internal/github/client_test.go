package github

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_NilContext(t *testing.T) {
	var nilCtx context.Context
	_, err := NewClient(nilCtx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ctx is nil")
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(context.Background(), "", WithBaseURL("://bad"))
	require.Error(t, err)
}

func TestNewClient_AuthAndVerboseLogging(t *testing.T) {
	var gotAuth, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("X-RateLimit-Remaining", "42")
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(server.Close)

	tests := []struct {
		name     string
		token    string
		wantAuth bool
	}{
		{"anonymous", "", false},
		{"token", "test-token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAuth = ""
			var buf bytes.Buffer
			c, err := NewClient(context.Background(), tt.token,
				WithVerbose(true),
				WithLogger(zerolog.New(&buf)),
				WithBaseURL(server.URL),
			)
			require.NoError(t, err)

			req, err := c.Client.NewRequest("GET", "rate_limit", nil)
			require.NoError(t, err)
			_, err = c.Client.Do(context.Background(), req, nil)
			require.NoError(t, err)

			assert.Contains(t, buf.String(), "github api request")
			assert.Contains(t, buf.String(), `"remaining":"42"`)
			assert.Equal(t, userAgent, gotAgent)
			if tt.wantAuth {
				assert.Contains(t, gotAuth, tt.token)
			} else {
				assert.Empty(t, gotAuth)
			}
		})
	}
}

func TestNewClient_QuietByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	c, err := NewClient(context.Background(), "", WithLogger(zerolog.New(&buf)), WithBaseURL(server.URL))
	require.NoError(t, err)
	req, err := c.Client.NewRequest("GET", "rate_limit", nil)
	require.NoError(t, err)
	_, err = c.Client.Do(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
