package utils

import (
	"fmt"
	"regexp"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateEVMAddress checks that a string is a 20-byte hex address with the
// 0x prefix. Checksum casing is not enforced.
func ValidateEVMAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !evmAddressRe.MatchString(address) {
		return fmt.Errorf("invalid EVM address: %s", address)
	}
	return nil
}

// ValidateSolanaAddress checks that a string is a base58-encoded 32-byte
// public key.
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}
	return nil
}

// ValidateAmount parses a decimal amount string and rejects negative values.
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be empty")
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be negative")
	}
	return dec, nil
}
