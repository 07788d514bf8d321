package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mokametrics-ingest/internal/config"
	"mokametrics-ingest/internal/model"
)

// setupDB connects to the database named by MOKAMETRICS_TEST_DB_URL and seeds
// one order with two lots and one machine. The schema is the one created by
// the API's migrations.
func setupDB(t *testing.T) (*DBManager, int64) {
	t.Helper()
	dsn := os.Getenv("MOKAMETRICS_TEST_DB_URL")
	if dsn == "" {
		t.Skip("MOKAMETRICS_TEST_DB_URL not set")
	}

	ctx := context.Background()
	mgr, err := NewDBManager(ctx, &config.Config{DBURL: dsn}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)

	pool := mgr.Pool()
	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('"Lots"') IS NOT NULL`).Scan(&exists))
	if !exists {
		t.Skip("missing tables; run migrations")
	}

	_, err = pool.Exec(ctx, `DELETE FROM "Lots" WHERE "LotCode" LIKE 'LOT-TEST-%'`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM "Machines" WHERE "Code" = 'TEST-M1'`)
	require.NoError(t, err)

	var customerID, facilityID, orderID int64
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO "Customers" ("Name", "Email", "FiscalId", "CreatedAt")
		VALUES ('Test', 'test@example.com', 'X', now()) RETURNING "Id"`).Scan(&customerID))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO "IndustrialFacilities" ("Name", "Country", "CreatedAt")
		VALUES ('Plant', 'Italy', now()) RETURNING "Id"`).Scan(&facilityID))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO "Orders" ("CustomerId", "QuantityMachines", "OrderDate", "CreatedAt")
		VALUES ($1, 15, now(), now()) RETURNING "Id"`, customerID).Scan(&orderID))
	_, err = pool.Exec(ctx, `
		INSERT INTO "Lots" ("OrderId", "IndustrialFacilityId", "LotCode", "TotalQuantity", "ManufacturedQuantity", "StartDate", "CreatedAt")
		VALUES ($1, $2, 'LOT-TEST-A', 10, 0, now(), now()), ($1, $2, 'LOT-TEST-B', 5, 0, now(), now())`,
		orderID, facilityID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO "Machines" ("Code", "Model", "Status", "IndustrialFacilityId", "CreatedAt")
		VALUES ('TEST-M1', 'CNC-5', 4, $1, now())`, facilityID)
	require.NoError(t, err)

	return mgr, orderID
}

func TestUnitOfWorkLookupsAndSave(t *testing.T) {
	mgr, orderID := setupDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	uow, release, err := mgr.OpenUnitOfWork(ctx)
	require.NoError(t, err)
	defer release()

	lot, err := uow.GetLotByCode(ctx, "LOT-TEST-A")
	require.NoError(t, err)
	assert.Equal(t, orderID, lot.OrderID)
	lot.RecordProduction(10, now)
	uow.UpdateLot(lot)

	order, err := uow.GetOrderWithLots(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, order.Lots, 2)
	assert.Equal(t, "LOT-TEST-A", order.Lots[0].LotCode)

	machine, err := uow.GetMachineByCode(ctx, "TEST-M1")
	require.NoError(t, err)
	machine.Status = model.MachineAlarm
	machine.Touch(now)
	uow.UpdateMachine(machine)

	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	uow2, release2, err := mgr.OpenUnitOfWork(ctx)
	require.NoError(t, err)
	defer release2()
	saved, err := uow2.GetLotByCode(ctx, "LOT-TEST-A")
	require.NoError(t, err)
	assert.Equal(t, 10, saved.ManufacturedQuantity)
	require.NotNil(t, saved.EndDate)
	m2, err := uow2.GetMachineByCode(ctx, "TEST-M1")
	require.NoError(t, err)
	assert.Equal(t, model.MachineAlarm, m2.Status)
}

func TestUnitOfWorkNotFound(t *testing.T) {
	mgr, _ := setupDB(t)
	ctx := context.Background()

	uow, release, err := mgr.OpenUnitOfWork(ctx)
	require.NoError(t, err)
	defer release()

	_, err = uow.GetLotByCode(ctx, "LOT-TEST-MISSING")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = uow.GetMachineByCode(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = uow.GetOrderWithLots(ctx, -1)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestReleaseRollsBackUnsavedChanges(t *testing.T) {
	mgr, _ := setupDB(t)
	ctx := context.Background()

	uow, release, err := mgr.OpenUnitOfWork(ctx)
	require.NoError(t, err)
	_, err = uow.tx.Exec(ctx, `UPDATE "Lots" SET "ManufacturedQuantity" = 3 WHERE "LotCode" = 'LOT-TEST-B'`)
	require.NoError(t, err)
	release()
	release()

	uow2, release2, err := mgr.OpenUnitOfWork(ctx)
	require.NoError(t, err)
	defer release2()
	lot, err := uow2.GetLotByCode(ctx, "LOT-TEST-B")
	require.NoError(t, err)
	assert.Equal(t, 0, lot.ManufacturedQuantity)
}

func TestLoadOrderForPublish(t *testing.T) {
	mgr, orderID := setupDB(t)
	ctx := context.Background()

	order, customer, facilities, err := mgr.LoadOrderForPublish(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "Test", customer)
	require.Len(t, order.Lots, 2)
	require.Len(t, facilities, 1)
	assert.Equal(t, "Plant", facilities[order.Lots[0].IndustrialFacilityID].Name)

	_, _, _, err = mgr.LoadOrderForPublish(ctx, -1)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
