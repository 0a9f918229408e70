package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/recital-box-office/internal/config"
)

func TestSendPostsJSONWithAttachments(t *testing.T) {
	var got apiEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(config.MailConfig{APIURL: srv.URL, APIKey: "re_key", From: "Box Office <bo@example.com>"}, nil)
	err := c.Send(context.Background(), Message{
		To: "ada@example.com", Subject: "hi", HTML: "<p>hi</p>",
		Attachments: []Attachment{{Filename: "a.png", Content: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.com"}, got.To)
	assert.Equal(t, "Box Office <bo@example.com>", got.From)
	require.Len(t, got.Attachments, 1)
	raw, err := base64.StdEncoding.DecodeString(got.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}

func TestSendReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad from", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(config.MailConfig{APIURL: srv.URL, APIKey: "k"}, nil)
	err := c.Send(context.Background(), Message{To: "a@example.com", Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestSendWithoutKeyDoesNotCallAPI(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := New(config.MailConfig{APIURL: srv.URL}, nil)
	require.NoError(t, c.Send(context.Background(), Message{To: "a@example.com"}))
	assert.False(t, called)
	assert.Error(t, c.Send(context.Background(), Message{}))
}

func TestPaymentLinkInviteCarriesQRCode(t *testing.T) {
	msg, err := PaymentLinkInviteMessage("g@example.com", PaymentLinkInvite{
		Name: "Grandma", Amount: "20.00", URL: "https://recital.example/purchase-digital/tok-1",
		ExpiresAt: time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "https://recital.example/purchase-digital/tok-1")
	assert.Contains(t, msg.HTML, "June 8, 2025")
	require.Len(t, msg.Attachments, 1)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Content, []byte("\x89PNG")))
}

func TestOrderConfirmationEscapesInput(t *testing.T) {
	msg, err := OrderConfirmationMessage("a@example.com", OrderConfirmation{
		OrderID: 12, Name: "<b>Ada</b>", Total: "69.00", Seats: []string{"A15", "A16"}, AccessCode: "DVL-2025-AB12",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "&lt;b&gt;Ada&lt;/b&gt;")
	assert.Contains(t, msg.HTML, "A15")
	assert.Contains(t, msg.HTML, "DVL-2025-AB12")
	assert.Equal(t, "Your recital order #12", msg.Subject)
}

func TestPasswordResetMessage(t *testing.T) {
	msg, err := PasswordResetMessage("pat@example.com", PasswordReset{
		URL:       "https://recital.example/reset-password?token=abc",
		ExpiresAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", msg.To)
	assert.Contains(t, msg.HTML, `href="https://recital.example/reset-password?token=abc"`)
	assert.Contains(t, msg.HTML, "June 1, 2025")
	assert.Contains(t, msg.Text, "token=abc")
}
