package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "select", operationOf("\n\t\tSELECT id FROM wallets"))
	assert.Equal(t, "insert", operationOf("INSERT INTO wallets VALUES ($1)"))
	assert.Equal(t, "unknown", operationOf("   "))
}
