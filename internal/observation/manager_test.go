package observation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oilwatch/priceintel/internal/model"
)

var priorID = uuid.MustParse("0a0a0a0a-2222-4c2a-9a55-0b5b1e6f0002")

func setupManager(t *testing.T) (*Manager, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	m := NewManager(mock, DefaultRules())
	m.nowFunc = func() time.Time { return t0 }
	return m, mock
}

func expectLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(supplierID.String() + "/heating_oil").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestIngest_SupersedesPriorValid(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	o := validObservation()

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectQuery(`SELECT id, observed_at FROM supplier_prices .* FOR UPDATE`).
		WithArgs(supplierID, "heating_oil", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}).AddRow(priorID, t0.Add(-26*time.Hour)))
	mock.ExpectExec(`UPDATE supplier_prices SET is_valid = false, superseded_at`).
		WithArgs([]string{priorID.String()}, t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WithArgs(pgxmock.AnyArg(), supplierID, pgxmock.AnyArg(), 100, "heating_oil", "scraped",
			pgxmock.AnyArg(), pgxmock.AnyArg(), t0.Add(-time.Hour), t0.Add(23*time.Hour), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := m.Ingest(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, []uuid.UUID{priorID}, res.Superseded)
	assert.True(t, res.Observation.IsValid)
	assert.Nil(t, res.Observation.SupersededAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_FirstObservation(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectQuery(`SELECT id, observed_at FROM supplier_prices`).
		WithArgs(supplierID, "heating_oil", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WithArgs(pgxmock.AnyArg(), supplierID, pgxmock.AnyArg(), 100, "heating_oil", "scraped",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := m.Ingest(context.Background(), validObservation())
	require.NoError(t, err)
	assert.Empty(t, res.Superseded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_OlderThanCurrentStoredSuperseded(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectQuery(`SELECT id, observed_at FROM supplier_prices`).
		WithArgs(supplierID, "heating_oil", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}).AddRow(priorID, t0.Add(-time.Minute)))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WithArgs(pgxmock.AnyArg(), supplierID, pgxmock.AnyArg(), 100, "heating_oil", "scraped",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), false, &t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := m.Ingest(context.Background(), validObservation())
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Observation.IsValid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_SignalOnlySupersedesSignals(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	o := validObservation()
	o.SourceType = model.SourceAggregatorSignal
	priorSignal := uuid.MustParse("0a0a0a0a-3333-4c2a-9a55-0b5b1e6f0003")

	mock.ExpectBegin()
	expectLock(mock)
	// Only the signal class is selected; the supplier's valid scraped row is
	// never a supersession candidate.
	mock.ExpectQuery(`AND \(source_type = 'aggregator_signal'\) = \$3`).
		WithArgs(supplierID, "heating_oil", true).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}).AddRow(priorSignal, t0.Add(-5*time.Hour)))
	mock.ExpectExec(`UPDATE supplier_prices SET is_valid = false, superseded_at`).
		WithArgs([]string{priorSignal.String()}, t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WithArgs(pgxmock.AnyArg(), supplierID, pgxmock.AnyArg(), 100, "heating_oil", "aggregator_signal",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := m.Ingest(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{priorSignal}, res.Superseded)
	assert.NotContains(t, res.Superseded, priorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_ScrapedSelectsConsumerFacingClass(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectQuery(`AND \(source_type = 'aggregator_signal'\) = \$3`).
		WithArgs(supplierID, "heating_oil", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	_, err := m.Ingest(context.Background(), validObservation())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_RejectsInvalidWithoutTouchingDB(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	o := validObservation()
	o.SourceType = "rumour"
	_, err := m.Ingest(context.Background(), o)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "source_type", ve.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_InsertFailureRollsBack(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectBegin()
	expectLock(mock)
	mock.ExpectQuery(`SELECT id, observed_at FROM supplier_prices`).
		WithArgs(supplierID, "heating_oil", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "observed_at"}))
	mock.ExpectExec(`INSERT INTO supplier_prices`).
		WillReturnError(errors.New("check constraint violated"))
	mock.ExpectRollback()

	_, err := m.Ingest(context.Background(), validObservation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observation: insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileExpired(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE supplier_prices\s+SET expires_at = LEAST`).
		WithArgs(t0, t0.Add(24*time.Hour), t0.Add(-72*time.Hour), float64(72*3600)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := m.ReconcileExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileExpired_SecondRunIsNoop(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	for _, affected := range []int64{2, 0} {
		mock.ExpectExec(`UPDATE supplier_prices`).
			WillReturnResult(pgxmock.NewResult("UPDATE", affected))
	}

	first, err := m.ReconcileExpired(context.Background())
	require.NoError(t, err)
	second, err := m.ReconcileExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first)
	assert.Zero(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE supplier_prices SET is_valid = false WHERE id`).
		WithArgs(priorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE supplier_prices SET is_valid = false WHERE id`).
		WithArgs(priorID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, m.Invalidate(context.Background(), priorID))
	assert.Error(t, m.Invalidate(context.Background(), priorID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge(t *testing.T) {
	m, mock := setupManager(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM supplier_prices WHERE NOT is_valid`).
		WithArgs(t0.Add(-400 * 24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := m.Purge(context.Background(), 400*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
