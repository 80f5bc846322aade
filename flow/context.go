package flow

// Context is the mutable state carried through one check-in run. Place
// fields are seeded at machine construction and never change; everything
// else is populated step by step and discarded when the run resets.
type Context struct {
	PlaceID       string `json:"place_id"`
	LocationID    string `json:"location_id"`
	CollectibleID string `json:"collectible_id,omitempty"`
	Points        int    `json:"points"`

	UserID          string `json:"user_id,omitempty"`
	UserAddress     string `json:"user_address,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	NFTTokenID      string `json:"nft_token_id,omitempty"`
	Err             string `json:"error,omitempty"`
}

// reset discards everything run-scoped. The place identity survives; a
// machine instance stays pinned to one place/user pairing.
func (c *Context) reset() {
	c.UserID = ""
	c.UserAddress = ""
	c.TransactionHash = ""
	c.NFTTokenID = ""
	c.Err = ""
}

// Prepared is the TRANSACTION_PREPARED payload.
type Prepared struct {
	UserID      string
	UserAddress string
}

// Signed is the TRANSACTION_SIGNED payload.
type Signed struct {
	TxHash string
}

// Confirmed is the TRANSACTION_CONFIRMED payload.
type Confirmed struct {
	TokenID string
}
