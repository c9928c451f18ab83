package store

import (
	"context"
	"time"

	"whatsapp-automation/internal/models"
)

// ListOrdersScheduledBetween returns appointment or booking orders, not cancelled or completed,
// with scheduled_at inside [from, to]
func (s *Store) ListOrdersScheduledBetween(ctx context.Context, workspaceID string, from, to time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.conn(ctx).
		Where("workspace_id = ?", workspaceID).
		Where("order_type IN ?", []string{models.OrderTypeAppointment, models.OrderTypeBooking}).
		Where("status NOT IN ?", []string{models.OrderStatusCancelled, models.OrderStatusCompleted}).
		Where("scheduled_at >= ? AND scheduled_at <= ?", utc(from), utc(to)).
		Order("scheduled_at ASC").
		Find(&orders).Error
	return orders, err
}

// ListOverdueOrders returns pending-payment orders due before the given day that are not cancelled
func (s *Store) ListOverdueOrders(ctx context.Context, workspaceID string, before time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.conn(ctx).
		Where("workspace_id = ? AND payment_status = ? AND status <> ?", workspaceID, models.PaymentPending, models.OrderStatusCancelled).
		Where("due_date IS NOT NULL AND due_date < ?", utc(before)).
		Order("due_date ASC").
		Find(&orders).Error
	return orders, err
}
