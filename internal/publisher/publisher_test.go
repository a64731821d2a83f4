package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/models"
)

var creds = config.TwitterConfig{
	APIKey:            "key",
	APISecret:         "secret",
	AccessToken:       "token",
	AccessTokenSecret: "token-secret",
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		want   models.ErrorKind
	}{
		{401, "Unauthorized", models.KindPublishAuth},
		{403, "You are not allowed to create a Tweet with Duplicate content.", models.KindPublishDuplicate},
		{403, "You are not permitted to perform this action.", models.KindPublishPerm},
		{403, "Forbidden", models.KindPublishForbidden},
		{413, "Payload", models.KindPublishTooLarge},
		{400, "media too large", models.KindPublishTooLarge},
		{500, "Internal error", models.KindPublishUnknown},
		{0, "connection reset", models.KindPublishUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.status, tt.msg), "%d %s", tt.status, tt.msg)
	}
}

func TestTwitterPublish(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "OAuth "))
		assert.Contains(t, r.Header.Get("Authorization"), `oauth_consumer_key="key"`)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data": {"id": "1790000000000000000", "text": "hello"}}`))
	}))
	defer server.Close()

	client := NewTwitterClient(creds, nil, WithBaseURL(server.URL))
	require.True(t, client.Configured())

	res := client.Publish(context.Background(), "hello")
	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, "1790000000000000000", res.ID)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "hello", got["text"])
}

func TestTwitterPublishErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   models.ErrorKind
	}{
		{"duplicate", 403, `{"title": "Forbidden", "detail": "You are not allowed to create a Tweet with duplicate content.", "status": 403}`, models.KindPublishDuplicate},
		{"auth", 401, `{"title": "Unauthorized", "status": 401}`, models.KindPublishAuth},
		{"plain text body", 413, `too big`, models.KindPublishTooLarge},
		{"server", 503, `{"title": "Service Unavailable"}`, models.KindPublishUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			res := NewTwitterClient(creds, nil, WithBaseURL(server.URL)).Publish(context.Background(), "text")
			assert.False(t, res.Success)
			require.NotNil(t, res.Err)
			assert.Equal(t, tt.want, res.Err.Kind)
			assert.Equal(t, tt.status, res.Err.Status)
			assert.Equal(t, "text", res.Content)
		})
	}
}

func TestTwitterNotConfigured(t *testing.T) {
	client := NewTwitterClient(config.TwitterConfig{APIKey: "only-key"}, nil)
	assert.False(t, client.Configured())

	res := client.Publish(context.Background(), "text")
	require.NotNil(t, res.Err)
	assert.Equal(t, models.KindPublishUnknown, res.Err.Kind)
	assert.Equal(t, "publisher not configured", res.Err.Message)

	_, err := client.Verify(context.Background())
	assert.Error(t, err)
}

func TestTwitterVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users/me", r.URL.Path)
		assert.Equal(t, "public_metrics", r.URL.Query().Get("user.fields"))
		w.Write([]byte(`{"data": {"id": "42", "username": "curator", "public_metrics": {"followers_count": 1234}}}`))
	}))
	defer server.Close()

	id, err := NewTwitterClient(creds, nil, WithBaseURL(server.URL)).Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "42", Username: "curator", Followers: 1234}, id)
}

func TestDryRun(t *testing.T) {
	res := NewDryRun(nil).Publish(context.Background(), "text")
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.ID, "dryrun-"))
	assert.Equal(t, "text", res.Content)
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: models.KindPublishAuth, Status: 401, Message: "Unauthorized"}
	assert.Equal(t, "publish_auth (status 401): Unauthorized", err.Error())
}
