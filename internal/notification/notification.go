package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/vgo-rewards/vgo_portal/internal/logging"
)

const (
	// KindOTP carries a one-time sign-in code.
	KindOTP = "otp"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger instead of delivering them.
// Destinations are masked; bodies are logged only at debug level.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification", "kind", message.Kind, "destination", logging.MaskPhone(message.Destination))
	n.logger.DebugContext(ctx, "notification body", "kind", message.Kind, "body", message.Body)
	return nil
}

// TwilioNotifier delivers messages as SMS through the Twilio REST API.
type TwilioNotifier struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewTwilioNotifier creates an SMS notifier for the given account.
func NewTwilioNotifier(accountSID, authToken, fromNumber string) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioNotifier{client: client, fromNumber: fromNumber}
}

// Send texts message.Body to message.Destination.
func (t *TwilioNotifier) Send(_ context.Context, message Message) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(message.Destination)
	params.SetFrom(t.fromNumber)
	params.SetBody(message.Body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send %s sms: %w", message.Kind, err)
	}
	return nil
}
