package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-raffle/internal/models"
)

var ErrNotFound = errors.New("invoice not found")

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	_, err := d.Bun.NewInsert().Model(invoice).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

func (d *DB) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := d.Bun.NewSelect().
		Model(&invoice).
		Where("order_number = ?", orderNumber).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &invoice, nil
}

// UpdateStatus flips an invoice's status and reports whether a row changed.
func (d *DB) UpdateStatus(ctx context.Context, orderNumber, status string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("status = ?", status).
		Where("order_number = ?", orderNumber).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	return affected > 0, nil
}

func (d *DB) List(ctx context.Context, limit, offset int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := d.Bun.NewSelect().
		Model(&invoices).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

func (d *DB) ListByParticipant(ctx context.Context, participantID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := d.Bun.NewSelect().
		Model(&invoices).
		Where("participant_id = ?", participantID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participant invoices: %w", err)
	}
	return invoices, nil
}
