package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: payments.idempotency_key")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "payments_pkey"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}
