package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

func TestPublishSendsJSON(t *testing.T) {
	// Use the in-memory Pub/Sub emulator.
	server := pstest.NewServer()
	defer func() { _ = server.Close() }()
	t.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = client.CreateTopic(ctx, "ingest-runs")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()

	id, err := pub.Publish(ctx, "ingest-runs", map[string]any{"run_id": "r-1", "inserted": 2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := server.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "r-1", got["run_id"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)

	_, err = (&Publisher{client: &pubsub.Client{}, topics: map[string]*pubsub.Topic{}}).Publish(context.Background(), "", "x")
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}
