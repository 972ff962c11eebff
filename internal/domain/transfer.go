package domain

// Transfer is one ledger movement of a token between two addresses.
type Transfer struct {
	Token  Address `json:"token"`
	From   Address `json:"from"`
	To     Address `json:"to"`
	Amount int64   `json:"amount"`
}

// Authorization is a party's signature over one exact operation payload.
type Authorization struct {
	Party     Address `json:"party"`
	Signature []byte  `json:"signature"`
}
