// Package web3 holds the chain access contract used by the tool provider:
// account listing, balances, native transfers, receipts, contract code checks
// and ENS resolution against a single EVM network.
package web3
