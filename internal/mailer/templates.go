package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

var pages = template.Must(template.New("mail").Parse(`
{{define "order"}}<h2>Thank you for your order, {{.Name}}!</h2>
<p>Order #{{.OrderID}} total: <strong>${{.Total}}</strong></p>
{{if .Seats}}<p>Your seats:</p><ul>{{range .Seats}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .DVDs}}<p>DVDs ordered: {{.DVDs}}</p>{{end}}
{{if .AccessCode}}<p>Your digital access code is <strong>{{.AccessCode}}</strong>. It unlocks the recording once it is published.</p>{{end}}
{{end}}
{{define "link"}}<h2>Hello {{.Name}},</h2>
<p>You can purchase digital access to the recital recording for <strong>${{.Amount}}</strong>.</p>
<p><a href="{{.URL}}">Complete your purchase</a></p>
<p>This link expires on {{.ExpiresAt}}. A QR code for the link is attached.</p>
{{end}}
{{define "reset"}}<p>Hello,</p>
<p>You asked to reset your recital box office password.</p>
<p><a href="{{.URL}}">Set a new password</a></p>
<p>This link works once and is valid until {{.ExpiresAt}}. If you did not ask for it, ignore this email.</p>
{{end}}
{{define "linkPaid"}}<h2>Thank you, {{.Name}}!</h2>
<p>Your payment was received. Your access code is <strong>{{.AccessCode}}</strong>.</p>
<p>Enter it on the video page to watch or download the recital.</p>
{{end}}
`))

// OrderConfirmation is the data for a checkout confirmation mail.
type OrderConfirmation struct {
	OrderID    uint64
	Name       string
	Total      string
	Seats      []string
	DVDs       int
	AccessCode string
}

// PaymentLinkInvite is the data for a payment-link offer mail.
type PaymentLinkInvite struct {
	Name      string
	Amount    string
	URL       string
	ExpiresAt time.Time
}

// PaymentLinkReceipt is the data for a completed payment-link mail.
type PaymentLinkReceipt struct {
	Name       string
	AccessCode string
}

// PasswordReset is the data for a forgot-password mail.
type PasswordReset struct {
	URL       string
	ExpiresAt time.Time
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func OrderConfirmationMessage(to string, d OrderConfirmation) (Message, error) {
	html, err := render("order", d)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Your recital order #%d", d.OrderID), HTML: html}, nil
}

func PaymentLinkInviteMessage(to string, d PaymentLinkInvite) (Message, error) {
	html, err := render("link", struct {
		PaymentLinkInvite
		ExpiresAt string
	}{d, d.ExpiresAt.UTC().Format("January 2, 2006 15:04 MST")})
	if err != nil {
		return Message{}, err
	}
	png, err := qrcode.Encode(d.URL, qrcode.Medium, 256)
	if err != nil {
		return Message{}, fmt.Errorf("encode qr: %w", err)
	}
	return Message{
		To:          to,
		Subject:     "Purchase the recital recording",
		HTML:        html,
		Attachments: []Attachment{{Filename: "purchase-link.png", Content: png}},
	}, nil
}

func PaymentLinkReceiptMessage(to string, d PaymentLinkReceipt) (Message, error) {
	html, err := render("linkPaid", d)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your recital access code", HTML: html}, nil
}

func PasswordResetMessage(to string, d PasswordReset) (Message, error) {
	html, err := render("reset", struct {
		URL       string
		ExpiresAt string
	}{d.URL, d.ExpiresAt.UTC().Format("January 2, 2006 15:04 MST")})
	if err != nil {
		return Message{}, err
	}
	text := "Reset your password: " + d.URL
	return Message{To: to, Subject: "Reset your password", HTML: html, Text: text}, nil
}

func templateEscape(s string) string { return template.HTMLEscapeString(s) }
