package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/geoinforme/parcelreport/internal/publisher/pubsub"
	"github.com/geoinforme/parcelreport/internal/report"
)

func TestPublishDeliversCompletionEvent(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	topic, err := client.CreateTopic(ctx, "report-completions")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "sub-id", gpubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	p, err := pubsub.NewWithClient(client, "report-completions")
	require.NoError(t, err)

	event := report.CompletionEvent{
		QueryID:   "query-1",
		Reference: "9872023VH5797S0001WX",
		Status:    report.StatusCompleted,
	}
	id, err := p.Publish(ctx, "", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := make(chan *gpubsub.Message, 1)
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gpubsub.Message) {
			received <- msg
			msg.Ack()
			cancel()
		})
	}()

	msg := <-received
	var got report.CompletionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, event.QueryID, got.QueryID)
	require.Equal(t, report.StatusCompleted, got.Status)

	require.NoError(t, p.Close())
}
