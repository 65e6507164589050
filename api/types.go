package api

import (
	"github.com/veilpay/veilpay/types"
)

// StatusResponse reports the sync state of the node.
type StatusResponse struct {
	LastBlockScanned uint64        `json:"lastBlockScanned"`
	LeafCount        uint64        `json:"leafCount"`
	Root             *types.BigInt `json:"root"`
}

// RootResponse carries the current tree root.
type RootResponse struct {
	Root      *types.BigInt `json:"root"`
	LeafCount uint64        `json:"leafCount"`
}

// PathResponse is the Merkle sibling path for one commitment, in the layout
// the withdrawal circuit expects.
type PathResponse struct {
	LeafIndex    uint64          `json:"leafIndex"`
	Leaf         *types.BigInt   `json:"leaf"`
	Root         *types.BigInt   `json:"root"`
	PathElements []*types.BigInt `json:"pathElements"`
	PathIndices  []int           `json:"pathIndices"`
}

// NullifierResponse reports spent status for one nullifier hash, with the
// recorded withdrawal when spent.
type NullifierResponse struct {
	NullifierHash *types.BigInt          `json:"nullifierHash"`
	Used          bool                   `json:"used"`
	Withdrawal    *types.WithdrawalEvent `json:"withdrawal,omitempty"`
}

// AnnouncementsResponse is a page of stored stealth announcements.
type AnnouncementsResponse struct {
	Announcements []*types.AnnouncementEvent `json:"announcements"`
}
