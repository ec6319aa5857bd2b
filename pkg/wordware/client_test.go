package wordware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRun(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody runRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"type":"chunk","value":{"value":"hi"}}`+"\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	body, err := c.Run(context.Background(), "prompt-1", Inputs{Tweets: "Tweets: x", ProfileInfo: "{}"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)

	assert.Equal(t, "/api/released-app/prompt-1/run", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "Tweets: x", gotBody.Inputs.Tweets)
	assert.Equal(t, PromptVersion, gotBody.Inputs.Version)
	assert.Contains(t, string(data), `"hi"`)
}

func TestClientRun_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Run(context.Background(), "p", Inputs{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "429")
}

func TestClientRun_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "k").Run(context.Background(), "p", Inputs{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
