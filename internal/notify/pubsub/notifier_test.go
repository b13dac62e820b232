package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/chapterbox/internal/manga"
	notifypubsub "github.com/JakeFAU/chapterbox/internal/notify/pubsub"
)

func TestNotifierPublishesNotice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck // test cleanup

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck // test cleanup

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test cleanup

	topic, err := client.CreateTopic(ctx, "notices")
	require.NoError(t, err)

	n := notifypubsub.New(topic)
	defer n.Stop()

	notice := manga.Notice{Kind: manga.NoticeAccepted, JobID: "j1", Total: 2}
	require.NoError(t, n.Notify(ctx, "u1", notice))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "accepted", msgs[0].Attributes["kind"])
	require.Equal(t, "j1", msgs[0].Attributes["job_id"])

	var event notifypubsub.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &event))
	require.Equal(t, "u1", event.Recipient)
	require.Equal(t, notice.JobID, event.Notice.JobID)
	require.Equal(t, notice.Text(), event.Text)
}

func TestNotifierWithoutTopic(t *testing.T) {
	err := notifypubsub.New(nil).Notify(context.Background(), "u1", manga.Notice{})
	require.Error(t, err)
}
