package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teslashibe/go-envision/internal/httpc"
)

const testKey = "secret-key-123"

func newTestGemini(t *testing.T, handler http.HandlerFunc, opts ...Option) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL), WithAPIKey(testKey)}, opts...)
	g, err := NewGemini(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestRequestJSONShape(t *testing.T) {
	body, err := json.Marshal(Request{Prompt: "P", Image: "QUJD"})
	require.NoError(t, err)

	want := `{"contents":[{"parts":[{"text":"P"},{"inline_data":{"mime_type":"image/jpeg","data":"QUJD"}}]}]}`
	assert.JSONEq(t, want, string(body))
	assert.Equal(t, want, string(body))
}

func TestNewGeminiRequiresCredentials(t *testing.T) {
	_, err := NewGemini()
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = NewGemini(WithAPIKey("k"), WithModel(""))
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestDescribe(t *testing.T) {
	t.Run("trims first candidate text", func(t *testing.T) {
		var gotPath, gotKey, gotType string
		var gotBody []byte
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.URL.Query().Get("key")
			gotType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":" A dog. "}]}}]}`)
		})

		resp, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "QUJD"})
		require.NoError(t, err)
		assert.Equal(t, "A dog.", resp.Text)
		assert.Equal(t, 4, resp.PayloadChars)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", gotPath)
		assert.Equal(t, testKey, gotKey)
		assert.Equal(t, "application/json", gotType)
		assert.JSONEq(t,
			`{"contents":[{"parts":[{"text":"P"},{"inline_data":{"mime_type":"image/jpeg","data":"QUJD"}}]}]}`,
			string(gotBody))
	})

	t.Run("empty candidates is not an error", func(t *testing.T) {
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"candidates":[]}`)
		})
		resp, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "x"})
		require.NoError(t, err)
		assert.Empty(t, resp.Text)
	})

	t.Run("rate limited", func(t *testing.T) {
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error":{"code":429,"message":"Resource exhausted"}}`)
		})
		_, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "x"})

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, 429, httpErr.StatusCode)
		assert.True(t, httpErr.IsRateLimited())
		assert.Equal(t, "Resource exhausted", httpErr.Message)
		assert.Contains(t, httpErr.Body, "Resource exhausted")
	})

	t.Run("invalid JSON is a parse error", func(t *testing.T) {
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>oops</html>`)
		})
		_, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "x"})

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Contains(t, parseErr.Body, "oops")
	})

	t.Run("timeout does not leak key", func(t *testing.T) {
		release := make(chan struct{})
		g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			<-release
		}, WithTimeouts(httpc.Timeouts{Connect: time.Second, Read: 50 * time.Millisecond, Write: time.Second}))
		defer close(release)

		_, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "x"})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), testKey)

		var httpErr *HTTPError
		assert.False(t, errors.As(err, &httpErr))
	})
}

func TestDescribeWithTokenSource(t *testing.T) {
	var gotAuth, gotQuery string
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}, WithAPIKey(""), WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))

	resp, err := g.Describe(context.Background(), Request{Prompt: "P", Image: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, gotQuery)
}

func TestHealth(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"name":"models/gemini-2.5-flash"}`)
	})
	assert.NoError(t, g.Health(context.Background()))

	bad := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	var httpErr *HTTPError
	require.ErrorAs(t, bad.Health(context.Background()), &httpErr)
	assert.True(t, httpErr.IsUnauthorized())
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"text", `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`, "hi", false},
		{"whitespace only", `{"candidates":[{"content":{"parts":[{"text":"  \n"}]}}]}`, "", false},
		{"no candidates key", `{}`, "", false},
		{"no content", `{"candidates":[{}]}`, "", false},
		{"empty parts", `{"candidates":[{"content":{"parts":[]}}]}`, "", false},
		{"part without text", `{"candidates":[{"content":{"parts":[{"inline_data":{}}]}}]}`, "", false},
		{"candidates wrong type", `{"candidates":"nope"}`, "", false},
		{"array body", `[1,2]`, "", true},
		{"null body", `null`, "", true},
		{"garbage", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse([]byte(tt.body))
			if tt.wantErr {
				var parseErr *ParseError
				assert.ErrorAs(t, err, &parseErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
