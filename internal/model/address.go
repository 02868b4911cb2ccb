package model

import "strings"

// ZeroAddress is the canonical form of the 20-byte zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress returns the canonical lowercase form used as a store key.
func NormalizeAddress(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if address != "" && !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return address
}

// NormalizeHash returns the canonical lowercase 0x form of a transaction or block hash.
func NormalizeHash(hash string) string { return NormalizeAddress(hash) }

// IsZeroAddress reports whether address is the zero address in any casing.
func IsZeroAddress(address string) bool {
	return NormalizeAddress(address) == ZeroAddress
}
