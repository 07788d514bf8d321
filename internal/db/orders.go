package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mokametrics-ingest/internal/model"
)

// LoadOrderForPublish reads an order with its lots, the customer name and the
// facilities the lots are assigned to. It does not lock anything.
func (d *DBManager) LoadOrderForPublish(ctx context.Context, orderID int64) (*model.Order, string, map[int64]model.IndustrialFacility, error) {
	tx, err := d.Pool().BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, "", nil, fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u := &UnitOfWork{tx: tx, logger: d.logger}
	order, err := u.getOrderWithLots(ctx, orderID, false)
	if err != nil {
		return nil, "", nil, err
	}

	var customer string
	err = tx.QueryRow(ctx, `SELECT "Name" FROM "Customers" WHERE "Id" = $1`, order.CustomerID).Scan(&customer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil, &model.NotFoundError{Entity: "customer", Key: fmt.Sprint(order.CustomerID)}
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("select customer %d: %w", order.CustomerID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT DISTINCT f."Id", f."Name", COALESCE(f."Country", ''), COALESCE(f."City", '')
		FROM "IndustrialFacilities" f JOIN "Lots" l ON l."IndustrialFacilityId" = f."Id"
		WHERE l."OrderId" = $1
	`, orderID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("select facilities of order %d: %w", orderID, err)
	}
	defer rows.Close()

	facilities := make(map[int64]model.IndustrialFacility)
	for rows.Next() {
		var f model.IndustrialFacility
		if err := rows.Scan(&f.ID, &f.Name, &f.Country, &f.City); err != nil {
			return nil, "", nil, fmt.Errorf("scan facility: %w", err)
		}
		facilities[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, "", nil, fmt.Errorf("read facilities: %w", err)
	}
	return order, customer, facilities, nil
}
