package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mokametrics-ingest/internal/model"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// UnitOfWork is one transaction over the relational store. Lookups lock the
// rows they return; Update* calls stage changes that SaveChanges writes and
// commits together. It must not be shared across messages.
type UnitOfWork struct {
	tx     pgx.Tx
	logger *zap.SugaredLogger

	lots     []*model.Lot
	orders   []*model.Order
	machines []*model.Machine
	done     bool
}

// OpenUnitOfWork begins a transaction. The returned release func rolls back
// anything not saved and is safe to call after SaveChanges.
func (d *DBManager) OpenUnitOfWork(ctx context.Context) (*UnitOfWork, func(), error) {
	tx, err := d.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, func() {}, fmt.Errorf("begin transaction: %w", err)
	}
	u := &UnitOfWork{tx: tx, logger: d.logger}
	release := func() {
		if u.done {
			return
		}
		u.done = true
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tx.Rollback(rctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			d.logger.Warnw("rollback failed", "error", err)
		}
	}
	return u, release, nil
}

const lotColumns = `"Id", "OrderId", "IndustrialFacilityId", "LotCode", "TotalQuantity",
	"ManufacturedQuantity", "StartDate", "EndDate", "CreatedAt", "UpdatedAt"`

func scanLot(row pgx.Row) (*model.Lot, error) {
	var l model.Lot
	err := row.Scan(&l.ID, &l.OrderID, &l.IndustrialFacilityID, &l.LotCode, &l.TotalQuantity,
		&l.ManufacturedQuantity, &l.StartDate, &l.EndDate, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (u *UnitOfWork) GetLotByCode(ctx context.Context, code string) (*model.Lot, error) {
	row := u.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM "Lots" WHERE "LotCode" = $1 FOR UPDATE`, code)
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "lot", Key: code}
	}
	if err != nil {
		return nil, fmt.Errorf("select lot %q: %w", code, err)
	}
	return lot, nil
}

// GetOrderWithLots loads the order and all of its lots ordered by id.
func (u *UnitOfWork) GetOrderWithLots(ctx context.Context, orderID int64) (*model.Order, error) {
	return u.getOrderWithLots(ctx, orderID, true)
}

func (u *UnitOfWork) getOrderWithLots(ctx context.Context, orderID int64, lock bool) (*model.Order, error) {
	forUpdate := ""
	if lock {
		forUpdate = " FOR UPDATE"
	}

	var o model.Order
	err := u.tx.QueryRow(ctx, `
		SELECT "Id", "CustomerId", "QuantityMachines", "OrderDate", "Deadline",
			"FullfilledDate", "CreatedAt", "UpdatedAt"
		FROM "Orders" WHERE "Id" = $1`+forUpdate,
		orderID).Scan(&o.ID, &o.CustomerID, &o.QuantityMachines, &o.OrderDate, &o.Deadline,
		&o.FulfilledDate, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "order", Key: fmt.Sprint(orderID)}
	}
	if err != nil {
		return nil, fmt.Errorf("select order %d: %w", orderID, err)
	}

	rows, err := u.tx.Query(ctx, `SELECT `+lotColumns+` FROM "Lots" WHERE "OrderId" = $1 ORDER BY "Id"`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select lots of order %d: %w", orderID, err)
	}
	defer rows.Close()
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot of order %d: %w", orderID, err)
		}
		o.Lots = append(o.Lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read lots of order %d: %w", orderID, err)
	}
	return &o, nil
}

func (u *UnitOfWork) GetMachineByCode(ctx context.Context, code string) (*model.Machine, error) {
	var m model.Machine
	err := u.tx.QueryRow(ctx, `
		SELECT "Id", "Code", "Model", "Status", "IndustrialFacilityId", "CreatedAt", "UpdatedAt"
		FROM "Machines" WHERE "Code" = $1 FOR UPDATE
	`, code).Scan(&m.ID, &m.Code, &m.Model, &m.Status, &m.IndustrialFacilityID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "machine", Key: code}
	}
	if err != nil {
		return nil, fmt.Errorf("select machine %q: %w", code, err)
	}
	return &m, nil
}

func (u *UnitOfWork) UpdateLot(l *model.Lot)         { u.lots = append(u.lots, l) }
func (u *UnitOfWork) UpdateOrder(o *model.Order)     { u.orders = append(u.orders, o) }
func (u *UnitOfWork) UpdateMachine(m *model.Machine) { u.machines = append(u.machines, m) }

// SaveChanges writes every staged entity and commits. It returns the number
// of rows written.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if u.done {
		return 0, errors.New("unit of work already closed")
	}

	count := 0
	exec := func(sql string, args ...any) error {
		tag, err := u.tx.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		count += int(tag.RowsAffected())
		return nil
	}

	for _, l := range u.lots {
		if err := exec(`
			UPDATE "Lots" SET "ManufacturedQuantity" = $2, "EndDate" = $3, "UpdatedAt" = $4
			WHERE "Id" = $1
		`, l.ID, l.ManufacturedQuantity, l.EndDate, l.UpdatedAt); err != nil {
			return 0, fmt.Errorf("update lot %q: %w", l.LotCode, err)
		}
	}
	for _, o := range u.orders {
		if err := exec(`
			UPDATE "Orders" SET "FullfilledDate" = $2, "UpdatedAt" = $3
			WHERE "Id" = $1
		`, o.ID, o.FulfilledDate, o.UpdatedAt); err != nil {
			return 0, fmt.Errorf("update order %d: %w", o.ID, err)
		}
	}
	for _, m := range u.machines {
		if err := exec(`
			UPDATE "Machines" SET "Status" = $2, "UpdatedAt" = $3
			WHERE "Id" = $1
		`, m.ID, int(m.Status), m.UpdatedAt); err != nil {
			return 0, fmt.Errorf("update machine %q: %w", m.Code, err)
		}
	}

	if err := u.tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	u.done = true
	u.lots, u.orders, u.machines = nil, nil, nil
	return count, nil
}
