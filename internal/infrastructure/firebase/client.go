// Package firebase delivers push notifications through Firebase Cloud Messaging.
package firebase

import (
	"context"
	"fmt"
	"time"

	"finsight/internal/domain/notification"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	fcmBatchLimit = 500
	// Sync results are stale after a day; FCM drops them instead of delivering late.
	pushTTL = 24 * time.Hour
)

// TokenDeactivator marks a device token the push service rejected as gone.
type TokenDeactivator func(ctx context.Context, token string) error

// multicastSender is the slice of *messaging.Client the Client needs.
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client implements notification.Messenger.
type Client struct {
	msgClient   multicastSender
	deactivator TokenDeactivator
}

// NewClient initializes a Firebase app from a service account file.
// deactivator may be nil.
func NewClient(ctx context.Context, credentialsFile string, deactivator TokenDeactivator) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{msgClient: msgClient, deactivator: deactivator}, nil
}

// Send delivers push to tokens in batches of the FCM multicast limit. Tokens
// FCM reports as unregistered or malformed are deactivated. Only a transport
// failure of a whole batch is returned as an error.
func (c *Client) Send(ctx context.Context, tokens []string, push notification.Push) (notification.Delivery, error) {
	var delivery notification.Delivery

	for start := 0; start < len(tokens); start += fcmBatchLimit {
		batch := tokens[start:min(start+fcmBatchLimit, len(tokens))]

		resp, err := c.msgClient.SendEachForMulticast(ctx, buildMessage(batch, push))
		if err != nil {
			return delivery, fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		delivery.Sent += resp.SuccessCount
		delivery.Failed += resp.FailureCount
		if resp.FailureCount > 0 {
			c.pruneTokens(ctx, batch, resp)
		}
	}

	return delivery, nil
}

func buildMessage(tokens []string, push notification.Push) *messaging.MulticastMessage {
	ttl := pushTTL
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: push.Title,
			Body:  push.Body,
		},
		Data: push.Data,
		Android: &messaging.AndroidConfig{
			CollapseKey: push.CollapseKey,
			TTL:         &ttl,
		},
	}
	if push.CollapseKey != "" {
		msg.APNS = &messaging.APNSConfig{
			Headers: map[string]string{"apns-collapse-id": push.CollapseKey},
		}
	}
	return msg
}

func (c *Client) pruneTokens(ctx context.Context, tokens []string, resp *messaging.BatchResponse) {
	for i, sendResp := range resp.Responses {
		if sendResp == nil || sendResp.Error == nil || i >= len(tokens) {
			continue
		}
		if !messaging.IsUnregistered(sendResp.Error) && !messaging.IsInvalidArgument(sendResp.Error) {
			log.Error().Err(sendResp.Error).Int("index", i).Msg("FCM send error")
			continue
		}

		log.Warn().Err(sendResp.Error).Int("index", i).Msg("invalid FCM token, deactivating")
		if c.deactivator == nil {
			continue
		}
		if err := c.deactivator(ctx, tokens[i]); err != nil {
			log.Error().Err(err).Msg("failed to deactivate FCM token")
		}
	}
}
