package domain

import "time"

// WalletIdentity represents a connected wallet identity.
type WalletIdentity struct {
	Address     string
	NetworkType NetworkType
	SessionID   string
	ConnectedAt time.Time
	Verified    bool
}

type NetworkType string

const (
	NetworkTypeEVM    NetworkType = "evm"
	NetworkTypeSolana NetworkType = "solana"
	NetworkTypeSui    NetworkType = "sui"
)
