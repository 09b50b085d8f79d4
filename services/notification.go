package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

// NotificationService stores in-app notifications and pushes them to devices.
// The stored row is the delivery guarantee; push failures are logged only.
type NotificationService struct {
	PG   *sql.DB
	Push PushSender
}

func NewNotificationService(pg *sql.DB, push PushSender) *NotificationService {
	return &NotificationService{PG: pg, Push: push}
}

// Send implements Notifier
func (s *NotificationService) Send(ctx context.Context, n db.NotificationInput) error {
	_, err := s.Create(ctx, n)
	return err
}

// Create inserts the notification and attempts a push
func (s *NotificationService) Create(ctx context.Context, n db.NotificationInput) (*db.Notification, error) {
	if n.UserID == 0 {
		return nil, fmt.Errorf("notification requires a user")
	}
	if n.Type == "" {
		n.Type = db.NotificationTypeAutomation
	}

	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid notification data: %w", err)
	}

	notification := db.Notification{
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		IconRef:   n.IconRef,
		ActionURL: n.ActionURL,
		Data:      n.Data,
		CreatedAt: time.Now(),
	}

	err = s.PG.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, title, body, icon_ref, action_url, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, n.UserID, n.Type, n.Title, n.Body, n.IconRef, n.ActionURL, dataJSON, notification.CreatedAt).Scan(&notification.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store notification for user %d: %w", n.UserID, err)
	}

	if s.Push != nil {
		if err := s.Push.SendToUser(ctx, n.UserID, n.Title, n.Body, pushData(notification)); err != nil {
			log.Warn().Err(err).Int64("user_id", n.UserID).Int64("notification_id", notification.ID).Msg("Push delivery failed")
		}
	}

	return &notification, nil
}

// pushData flattens notification data into FCM's string map
func pushData(n db.Notification) map[string]string {
	data := map[string]string{
		"notification_id": cast.ToString(n.ID),
		"type":            n.Type,
	}
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}
	for k, v := range n.Data {
		if s, err := cast.ToStringE(v); err == nil {
			data[k] = s
		}
	}
	return data
}
