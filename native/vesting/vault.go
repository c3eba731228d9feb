package vesting

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleVaultAddress derives the module account that holds the deposited
// balance of a pool denominated in token. No private key exists for it.
func ModuleVaultAddress(token string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("vesting/vault/" + strings.ToUpper(strings.TrimSpace(token))))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
