package notification

import (
	"context"
	"strconv"

	"finsight/internal/shared/messages"

	"github.com/rs/zerolog/log"
)

// Service contains the business logic for push notifications
type Service struct {
	repo      Repository
	messenger Messenger
	texts     messages.Messages
}

// NewService creates a new notification service. messenger may be nil, in
// which case devices can still be registered but nothing is sent.
func NewService(repo Repository, messenger Messenger, texts messages.Messages) *Service {
	return &Service{repo: repo, messenger: messenger, texts: texts}
}

// RegisterDevice registers a device token for the authenticated user.
func (s *Service) RegisterDevice(ctx context.Context, params RegisterDeviceParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// NotifySyncComplete tells the user how much data a sync brought in.
func (s *Service) NotifySyncComplete(ctx context.Context, userID int64, connectionID string, accounts, transactions int) error {
	msg := s.texts.SyncComplete.Render(map[string]string{
		"accounts":     strconv.Itoa(accounts),
		"transactions": strconv.Itoa(transactions),
	})
	return s.SendToUser(ctx, userID, Push{
		Title:       msg.Title,
		Body:        msg.Body,
		Data:        map[string]string{"type": "sync_complete", "connection_id": connectionID},
		CollapseKey: "sync_" + connectionID,
	})
}

// NotifySyncFailed tells the user a sync could not complete.
func (s *Service) NotifySyncFailed(ctx context.Context, userID int64, connectionID string) error {
	return s.SendToUser(ctx, userID, Push{
		Title:       s.texts.SyncFailed.Title,
		Body:        s.texts.SyncFailed.Body,
		Data:        map[string]string{"type": "sync_failed", "connection_id": connectionID},
		CollapseKey: "sync_" + connectionID,
	})
}

// SendToUser sends a push to every active device of a user. Pushes without a
// route open the banking screen.
func (s *Service) SendToUser(ctx context.Context, userID int64, push Push) error {
	if s.messenger == nil {
		return nil
	}

	tokens, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		return err
	}

	if len(tokens) == 0 {
		log.Debug().Int64("user_id", userID).Msg("no active device tokens")
		return nil
	}

	if push.Data == nil {
		push.Data = make(map[string]string)
	}
	if _, ok := push.Data["route"]; !ok {
		push.Data["route"] = RouteBanking
	}

	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}

	delivery, err := s.messenger.Send(ctx, tokenStrings, push)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("error sending notification")
		return err
	}

	log.Debug().
		Int64("user_id", userID).
		Int("sent", delivery.Sent).
		Int("failed", delivery.Failed).
		Str("type", push.Data["type"]).
		Msg("notification sent")
	return nil
}
