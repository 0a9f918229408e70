package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/recital-box-office/internal/logger"
	"github.com/iliyamo/recital-box-office/internal/mailer"
	"github.com/iliyamo/recital-box-office/internal/model"
	"github.com/iliyamo/recital-box-office/internal/queue"
)

// EmailMarker flags orders whose access code reached the customer.
type EmailMarker interface {
	MarkAccessCodeEmailed(ctx context.Context, orderID uint64) error
}

// Notifier turns order confirmations from the queue into customer mail.
type Notifier struct {
	mail   Mailer
	orders EmailMarker
	log    *logger.Logger
}

// NewNotifier returns a Notifier sending through mail.
func NewNotifier(mail Mailer, orders EmailMarker, log *logger.Logger) *Notifier {
	return &Notifier{mail: mail, orders: orders, log: loggerOrNop(log)}
}

// HandleOrderConfirmed matches queue.OrderConfirmedHandler.
func (n *Notifier) HandleOrderConfirmed(ctx context.Context, ev queue.OrderConfirmedEvent) error {
	var (
		msg mailer.Message
		err error
	)
	if ev.Source == string(model.SourcePaymentLink) {
		msg, err = mailer.PaymentLinkReceiptMessage(ev.CustomerEmail, mailer.PaymentLinkReceipt{
			Name:       ev.CustomerName,
			AccessCode: ev.AccessCode,
		})
	} else {
		msg, err = mailer.OrderConfirmationMessage(ev.CustomerEmail, mailer.OrderConfirmation{
			OrderID:    ev.OrderID,
			Name:       ev.CustomerName,
			Total:      ev.Total,
			Seats:      ev.Seats,
			DVDs:       ev.DVDs,
			AccessCode: ev.AccessCode,
		})
	}
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	if err := n.mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	if ev.AccessCode != "" {
		if err := n.orders.MarkAccessCodeEmailed(ctx, ev.OrderID); err != nil {
			n.log.Error(ctx, "marking access code emailed failed", err)
		}
	}
	n.log.Info(ctx, "order confirmation sent")
	return nil
}
