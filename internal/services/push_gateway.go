package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

type PushNotification struct {
	Token       string
	Title       string
	Body        string
	SessionID   int64
	RecipientID string
}

type PushSender interface {
	Send(ctx context.Context, notification PushNotification) error
}

// ExpoPushGateway posts notifications to the Expo push HTTP endpoint. Any
// non-success response or provider-reported error comes back as a plain error
// for the dispatcher to log and count against the job's attempts.
type ExpoPushGateway struct {
	client *resty.Client
}

func NewExpoPushGateway(baseURL string) *ExpoPushGateway {
	return &ExpoPushGateway{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

type expoPushRequest struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

type expoPushResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

func (g *ExpoPushGateway) Send(ctx context.Context, notification PushNotification) error {
	var result expoPushResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(expoPushRequest{
			To:    notification.Token,
			Sound: "default",
			Title: notification.Title,
			Body:  notification.Body,
			Data: map[string]string{
				"sessionId":   strconv.FormatInt(notification.SessionID, 10),
				"recipientId": notification.RecipientID,
			},
		}).
		SetResult(&result).
		Post("/--/api/v2/push/send")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned %s", resp.Status())
	}
	if result.Data.Status == "error" {
		return fmt.Errorf("push provider rejected notification: %s", result.Data.Message)
	}
	return nil
}
