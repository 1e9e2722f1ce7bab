package web3

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring holds local signing keys in load order.
type Keyring struct {
	order []common.Address
	keys  map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring builds a keyring from private keys.
func NewKeyring(keys ...*ecdsa.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(keys))}
	for _, key := range keys {
		if key == nil {
			continue
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := k.keys[addr]; dup {
			continue
		}
		k.keys[addr] = key
		k.order = append(k.order, addr)
	}
	return k
}

// ParseKeyring parses a comma or whitespace separated list of hex private keys.
func ParseKeyring(raw string) (*Keyring, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	keys := make([]*ecdsa.PrivateKey, 0, len(fields))
	for i, field := range fields {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(field), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signing key #%d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return NewKeyring(keys...), nil
}

// Addresses returns the key addresses in load order.
func (k *Keyring) Addresses() []common.Address {
	if k == nil {
		return nil
	}
	out := make([]common.Address, len(k.order))
	copy(out, k.order)
	return out
}

// Key returns the private key for addr.
func (k *Keyring) Key(addr common.Address) (*ecdsa.PrivateKey, bool) {
	if k == nil {
		return nil, false
	}
	key, ok := k.keys[addr]
	return key, ok
}

// Has reports whether a key for addr is loaded.
func (k *Keyring) Has(addr common.Address) bool {
	_, ok := k.Key(addr)
	return ok
}

// Export returns the hex encoded private key for addr.
func (k *Keyring) Export(addr common.Address) (string, bool) {
	key, ok := k.Key(addr)
	if !ok {
		return "", false
	}
	return hexutil.Encode(crypto.FromECDSA(key)), true
}

// Len returns the number of loaded keys.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.order)
}
