package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorack/gearsync/pkg/models"
)

func TestBuildUpdate_StatusStampsAuditInSameStatement(t *testing.T) {
	id := uuid.New()
	actor := models.Actor{ID: uuid.New(), Name: "dana"}
	now := time.Now().UTC()

	status := models.StatusChecked
	query, args, err := buildUpdate(id, &models.EquipmentPatch{Status: &status}, actor, now)
	require.NoError(t, err)

	assert.Contains(t, query, "status = ")
	assert.Contains(t, query, "last_checked = ")
	assert.Contains(t, query, "checked_by = ")
	assert.Contains(t, query, "checked_by_name = ")
	assert.Contains(t, query, "is_active = ")
	assert.Contains(t, query, "RETURNING")
	assert.Contains(t, args, actor.Name)
	assert.Contains(t, args, id)
}

func TestBuildUpdate_NonStatusLeavesAuditAlone(t *testing.T) {
	loc := "Rack 7"
	query, _, err := buildUpdate(uuid.New(), &models.EquipmentPatch{Location: &loc}, models.Actor{}, time.Now())
	require.NoError(t, err)

	assert.Contains(t, query, "location = ")
	assert.NotContains(t, query, "checked_by")
	assert.NotContains(t, query, "last_checked")
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), models.ErrNotFound)

	serialErr := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "equipment_serial_number_key"}
	assert.ErrorIs(t, mapError(serialErr), models.ErrDuplicateSerial)

	barcodeErr := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "equipment_barcode_key"}
	assert.ErrorIs(t, mapError(barcodeErr), models.ErrDuplicateBarcode)

	other := errors.New("broken pipe")
	assert.Equal(t, other, mapError(other))

	assert.NoError(t, mapError(nil))
}
