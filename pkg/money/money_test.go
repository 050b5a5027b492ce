package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 920.0, Round2(1000*0.92))
	assert.Equal(t, 1.01, Round2(1.005))
	assert.Equal(t, -1.01, Round2(-1.005))
	assert.Equal(t, 29.3, Round2(1000*0.029+0.30))
}

func TestMulAndSub(t *testing.T) {
	assert.Equal(t, 920.0, Mul(1000, 0.92))
	assert.Equal(t, 890.7, Sub(920, 29.3))
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1000.00, 1000.01))
	assert.False(t, Equal(1000.00, 1000.02))
}

func TestIsMultipleOf(t *testing.T) {
	assert.True(t, IsMultipleOf(1000, 100))
	assert.True(t, IsMultipleOf(2500, 100))
	assert.False(t, IsMultipleOf(1050.5, 100))
	assert.False(t, IsMultipleOf(10, 0))
}
