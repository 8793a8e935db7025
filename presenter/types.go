package presenter

// InitiateTransferRequest is the POST /transfers payload. Amount is a decimal
// string in the token's smallest unit.
type InitiateTransferRequest struct {
	SourceChain      string `json:"source_chain"`
	DestinationChain string `json:"destination_chain"`
	Amount           string `json:"amount"`
	Recipient        string `json:"recipient"`
}
