package firebase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"finsight/internal/domain/notification"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	messages []*messaging.MulticastMessage
	resp     func(batch []string) *messaging.BatchResponse
	err      error
}

func (f *fakeSender) SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.messages = append(f.messages, message)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp(message.Tokens), nil
	}
	return &messaging.BatchResponse{SuccessCount: len(message.Tokens)}, nil
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tok-%d", i)
	}
	return out
}

var syncPush = notification.Push{
	Title:       "Synchronisation terminée",
	Body:        "2 comptes et 15 transactions mis à jour.",
	Data:        map[string]string{"route": "banking", "connection_id": "conn-1"},
	CollapseKey: "sync_conn-1",
}

func TestClient_Send_Batches(t *testing.T) {
	sender := &fakeSender{}
	c := &Client{msgClient: sender}

	delivery, err := c.Send(context.Background(), tokens(1201), syncPush)
	require.NoError(t, err)
	require.Len(t, sender.messages, 3)
	assert.Len(t, sender.messages[0].Tokens, 500)
	assert.Len(t, sender.messages[2].Tokens, 201)
	assert.Equal(t, notification.Delivery{Sent: 1201}, delivery)
}

func TestClient_Send_Message(t *testing.T) {
	sender := &fakeSender{}
	c := &Client{msgClient: sender}

	_, err := c.Send(context.Background(), tokens(1), syncPush)
	require.NoError(t, err)

	msg := sender.messages[0]
	assert.Equal(t, syncPush.Title, msg.Notification.Title)
	assert.Equal(t, "conn-1", msg.Data["connection_id"])
	assert.Equal(t, "sync_conn-1", msg.Android.CollapseKey)
	assert.Equal(t, pushTTL, *msg.Android.TTL)
	assert.Equal(t, "sync_conn-1", msg.APNS.Headers["apns-collapse-id"])
}

func TestClient_Send_NoTokens(t *testing.T) {
	sender := &fakeSender{}
	c := &Client{msgClient: sender}

	delivery, err := c.Send(context.Background(), nil, syncPush)
	require.NoError(t, err)
	assert.Empty(t, sender.messages)
	assert.Zero(t, delivery.Sent)
}

func TestClient_Send_TransportError(t *testing.T) {
	c := &Client{msgClient: &fakeSender{err: errors.New("unavailable")}}

	_, err := c.Send(context.Background(), tokens(1), syncPush)
	assert.ErrorContains(t, err, "unavailable")
}

func TestClient_Send_OtherFailuresKeepTokens(t *testing.T) {
	var deactivated []string
	sender := &fakeSender{resp: func(batch []string) *messaging.BatchResponse {
		return &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Error: errors.New("internal error")},
			},
		}
	}}
	c := &Client{msgClient: sender, deactivator: func(ctx context.Context, token string) error {
		deactivated = append(deactivated, token)
		return nil
	}}

	delivery, err := c.Send(context.Background(), tokens(2), syncPush)
	require.NoError(t, err)
	assert.Equal(t, notification.Delivery{Sent: 1, Failed: 1}, delivery)
	assert.Empty(t, deactivated)
}
