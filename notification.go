package main

import (
	"fmt"
)

// WSNotifier pushes ledger events to connected WebSocket clients.
// Events are broadcast to every connection so dashboards stay current
// without polling.
type WSNotifier struct {
	broadcast func(method string, params RPCDataParams)
	logger    Logger
}

func NewWSNotifier(broadcastFunc func(method string, params RPCDataParams), logger Logger) *WSNotifier {
	return &WSNotifier{
		broadcast: broadcastFunc,
		logger:    logger,
	}
}

func (n *WSNotifier) Notify(notifications ...*Notification) {
	for _, notification := range notifications {
		if notification != nil {
			n.broadcast(notification.eventType.String(), notification.data)
			if n.logger != nil {
				n.logger.Info(fmt.Sprintf("%s notification sent", notification.eventType), "data", notification.data)
			}
		}
	}
}

type Notification struct {
	eventType EventType
	data      any
}

type EventType string

const (
	VoucherPostedEventType   EventType = "voucher_posted"
	VoucherReversedEventType EventType = "voucher_reversed"
	AccountUpdateEventType   EventType = "account_updated"
	BackupCreatedEventType   EventType = "backup_created"
)

func (e EventType) String() string {
	return string(e)
}

// NewVoucherPostedNotification creates a notification for a freshly posted voucher
func NewVoucherPostedNotification(voucher Voucher, lines []VoucherLine) *Notification {
	return &Notification{
		eventType: VoucherPostedEventType,
		data:      toVoucherResponse(voucher, lines),
	}
}

// NewVoucherReversedNotification creates a notification for a reversal.
// It carries both the reversing voucher and the number it cancels out.
func NewVoucherReversedNotification(reversal Voucher, lines []VoucherLine) *Notification {
	return &Notification{
		eventType: VoucherReversedEventType,
		data:      toVoucherResponse(reversal, lines),
	}
}

// NewAccountNotification creates a notification for a chart of accounts change
func NewAccountNotification(account Account) *Notification {
	return &Notification{
		eventType: AccountUpdateEventType,
		data:      toAccountResponse(account),
	}
}

// NewBackupNotification creates a notification for a completed backup
func NewBackupNotification(backup Backup) *Notification {
	return &Notification{
		eventType: BackupCreatedEventType,
		data:      toBackupResponse(backup),
	}
}
