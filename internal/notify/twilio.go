package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"designdesk/api/internal/util"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// ErrNotConfigured is returned by channels without credentials.
var ErrNotConfigured = errors.New("channel not configured")

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	From         string
	WhatsAppFrom string
	BaseURL      string
}

// Twilio sends SMS and WhatsApp messages through the Twilio Messages API.
type Twilio struct {
	cfg     TwilioConfig
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewTwilio(cfg TwilioConfig, log logrus.FieldLogger) *Twilio {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(10 * time.Second)
	return &Twilio{
		cfg:     cfg,
		http:    client,
		breaker: util.NewBreaker("twilio", 30*time.Second, log),
	}
}

func (t *Twilio) IsConfigured() bool {
	return t != nil && t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && (t.cfg.From != "" || t.cfg.WhatsAppFrom != "")
}

func (t *Twilio) SendSMS(ctx context.Context, to, body string) error {
	if !t.IsConfigured() || t.cfg.From == "" {
		return ErrNotConfigured
	}
	return t.send(ctx, t.cfg.From, to, body)
}

func (t *Twilio) SendWhatsApp(ctx context.Context, to, body string) error {
	if !t.IsConfigured() || t.cfg.WhatsAppFrom == "" {
		return ErrNotConfigured
	}
	return t.send(ctx, whatsAppAddress(t.cfg.WhatsAppFrom), whatsAppAddress(to), body)
}

// Send prefers WhatsApp when a WhatsApp sender is configured, else SMS.
func (t *Twilio) Send(ctx context.Context, to, body string) error {
	if t.IsConfigured() && t.cfg.WhatsAppFrom != "" {
		return t.SendWhatsApp(ctx, to, body)
	}
	return t.SendSMS(ctx, to, body)
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) send(ctx context.Context, from, to, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("twilio: recipient is required")
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		var apiErr twilioError
		resp, err := t.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"From": from,
				"To":   to,
				"Body": body,
			}).
			SetError(&apiErr).
			Post("/Accounts/" + t.cfg.AccountSID + "/Messages.json")
		if err != nil {
			return nil, fmt.Errorf("twilio request: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("twilio %d: %s (code %d)", resp.StatusCode(), apiErr.Message, apiErr.Code)
		}
		return nil, nil
	})
	return err
}

func whatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
