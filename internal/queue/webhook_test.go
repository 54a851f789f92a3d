package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL)
	err := p.Publish(context.Background(), "pipeline.stage.collection", map[string]any{
		"process_id": "abc-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "pipeline.stage.collection", got.RoutingKey)
	assert.False(t, got.PublishedAt.IsZero())
	payload := got.Payload.(map[string]any)
	assert.Equal(t, "abc-123", payload["process_id"])
}

func TestPublishNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL)
	err := p.Publish(context.Background(), "pipeline.stage.summary", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPublishUnconfiguredIsNoop(t *testing.T) {
	p := NewWebhookPublisher("")
	assert.NoError(t, p.Publish(context.Background(), "pipeline.stage.collection", nil))

	var nilPub *WebhookPublisher
	assert.NoError(t, nilPub.Publish(context.Background(), "pipeline.stage.collection", nil))
}

func TestPublishContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewWebhookPublisher(srv.URL)
	assert.Error(t, p.Publish(ctx, "pipeline.stage.collection", nil))
}
