package domain

import "time"

// Profile is the locally held representation of a wallet identity's state.
type Profile struct {
	Address      string
	DisplayName  string
	Stats        ProfileStats
	Collections  []NFTCollection
	Achievements []Achievement
	UpdatedAt    time.Time
	LastSyncAt   time.Time
}

// ProfileStats holds aggregate counters fetched from the ownership source.
type ProfileStats struct {
	TotalNFTs    int  `json:"total_nfts"`
	Collections  int  `json:"collections"`
	Achievements int  `json:"achievements"`
	Score        int  `json:"score"`
	Verified     bool `json:"verified"`
}

// NFTCollection groups owned items under one contract.
type NFTCollection struct {
	Contract string    `json:"contract"`
	Name     string    `json:"name"`
	Items    []NFTItem `json:"items"`
}

// NFTItem is a single owned token.
type NFTItem struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id"`
	Collection string `json:"collection,omitempty"`
	Name       string `json:"name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

// Key returns the canonical identity of an item within a wallet.
func (i NFTItem) Key() string {
	return i.Contract + ":" + i.TokenID
}

// Achievement is an unlocked milestone on a profile.
type Achievement struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
