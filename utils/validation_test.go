package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEVMAddress(t *testing.T) {
	assert.NoError(t, ValidateEVMAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.Error(t, ValidateEVMAddress(""))
	assert.Error(t, ValidateEVMAddress("833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.Error(t, ValidateEVMAddress("0x1234"))
	assert.Error(t, ValidateEVMAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA0291g"))
}

func TestValidateSolanaAddress(t *testing.T) {
	assert.NoError(t, ValidateSolanaAddress("11111111111111111111111111111111"))
	assert.NoError(t, ValidateSolanaAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"))
	assert.Error(t, ValidateSolanaAddress(""))
	assert.Error(t, ValidateSolanaAddress("not-base58-0OIl"))
}

func TestValidateAmount(t *testing.T) {
	dec, err := ValidateAmount("23.9")
	require.NoError(t, err)
	assert.True(t, dec.Equal(decimal.NewFromFloat(23.9)))

	_, err = ValidateAmount("")
	assert.Error(t, err)
	_, err = ValidateAmount("abc")
	assert.Error(t, err)
	_, err = ValidateAmount("-1")
	assert.Error(t, err)
}
