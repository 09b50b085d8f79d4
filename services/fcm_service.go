package services

import (
	"context"
	"database/sql"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// PushSender delivers a push message to every registered device of a user
type PushSender interface {
	SendToUser(ctx context.Context, userID int64, title, body string, data map[string]string) error
}

type FCMService struct {
	PG     *sql.DB
	client *messaging.Client
}

// NewFCMService initializes Firebase messaging from a service account file.
// Push is optional: without credentials the service logs and skips sends.
func NewFCMService(pg *sql.DB, credentialsFile string) *FCMService {
	service := &FCMService{PG: pg}

	if credentialsFile == "" {
		log.Info().Msg("FCM Service: no credentials configured, push notifications disabled")
		return service
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Warn().Err(err).Msg("Firebase app not initialized, push notifications disabled")
		return service
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("Firebase messaging client not initialized, push notifications disabled")
		return service
	}

	service.client = client
	log.Info().Msg("FCM Service: Firebase messaging initialized")
	return service
}

// Enabled reports whether a Firebase client is available
func (s *FCMService) Enabled() bool {
	return s.client != nil
}

func (s *FCMService) deviceTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.PG.QueryContext(ctx,
		"SELECT fcm_token FROM user_devices WHERE user_id = $1 AND fcm_token <> ''", userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// SendToUser pushes to all of the user's devices and prunes tokens FCM reports as unregistered
func (s *FCMService) SendToUser(ctx context.Context, userID int64, title, body string, data map[string]string) error {
	if !s.Enabled() {
		log.Debug().Int64("user_id", userID).Msg("FCM client not initialized, skipping push")
		return nil
	}

	tokens, err := s.deviceTokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		log.Debug().Int64("user_id", userID).Msg("No FCM tokens registered for user")
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:      "ic_notification",
				Sound:     "default",
				ChannelID: "automation_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: title, Body: body},
					Sound: "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending FCM message to user %d: %w", userID, err)
	}

	for i, resp := range response.Responses {
		if resp.Success || resp.Error == nil {
			continue
		}
		if messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			if _, err := s.PG.ExecContext(ctx, "DELETE FROM user_devices WHERE fcm_token = $1", tokens[i]); err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to remove stale FCM token")
			}
			continue
		}
		log.Warn().Err(resp.Error).Int64("user_id", userID).Msg("FCM delivery failed for device")
	}

	log.Debug().
		Int64("user_id", userID).
		Int("success", response.SuccessCount).
		Int("failure", response.FailureCount).
		Msg("Sent FCM notification")
	return nil
}
