// Package mailer sends transactional mail through an HTTP mail API and
// renders the customer-facing messages.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/recital-box-office/internal/config"
	"github.com/iliyamo/recital-box-office/internal/logger"
)

// Attachment is a file sent with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outgoing email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

type apiAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type apiEmail struct {
	From        string          `json:"from"`
	To          []string        `json:"to"`
	Subject     string          `json:"subject"`
	HTML        string          `json:"html"`
	Text        string          `json:"text,omitempty"`
	Attachments []apiAttachment `json:"attachments,omitempty"`
}

// Client posts messages to a Resend-compatible /emails endpoint. Without
// an API key it logs each message instead of sending it.
type Client struct {
	cfg  config.MailConfig
	http *http.Client
	log  *logger.Logger
}

func New(cfg config.MailConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

// WithHTTPClient replaces the transport, used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mailer: recipient required")
	}
	if c.cfg.APIKey == "" {
		c.log.Info(c.log.WithFields(ctx, map[string]any{
			"to": msg.To, "subject": msg.Subject, "attachments": len(msg.Attachments),
		}), "mail api key not set, message logged instead of sent")
		return nil
	}

	payload := apiEmail{From: c.cfg.From, To: []string{msg.To}, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, apiAttachment{
			Filename: a.Filename,
			Content:  base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailer: api returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	c.log.Debug(c.log.WithField(ctx, "to", msg.To), "mail sent")
	return nil
}

// Alert mails the operations address. Missing configuration turns the
// alert into a log line.
func (c *Client) Alert(ctx context.Context, subject, body string) error {
	if c.cfg.AlertEmail == "" {
		c.log.Warn(c.log.WithField(ctx, "alert_subject", subject), "alert email not configured")
		return nil
	}
	return c.Send(ctx, Message{
		To:      c.cfg.AlertEmail,
		Subject: "[ALERT] " + subject,
		HTML:    "<pre>" + templateEscape(body) + "</pre>",
		Text:    body,
	})
}
