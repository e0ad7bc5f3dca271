package fundme

import "github.com/ethereum/go-ethereum/common"

// Event is a log record produced by a successful call.
type Event interface {
	EventName() string
}

// Funded is logged when a contribution is accepted.
type Funded struct {
	Funder common.Address `json:"funder"`
	Amount Wei            `json:"amount"`
}

// FundWithdrawn is logged when the owner settles a successful campaign.
type FundWithdrawn struct {
	Owner  common.Address `json:"owner"`
	Amount Wei            `json:"amount"`
}

// Refunded is logged when a funder reclaims a contribution.
type Refunded struct {
	Funder common.Address `json:"funder"`
	Amount Wei            `json:"amount"`
}

// OwnershipTransferred is logged when the owner hands over its rights.
type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

// IntegrationAddressSet is logged when the owner names the integration contract.
type IntegrationAddressSet struct {
	Address common.Address `json:"address"`
}

// FunderAmountSet is logged when the integration overwrites a contribution.
type FunderAmountSet struct {
	Funder common.Address `json:"funder"`
	Amount Wei            `json:"amount"`
}

func (Funded) EventName() string                { return "Funded" }
func (FundWithdrawn) EventName() string         { return "FundWithdrawn" }
func (Refunded) EventName() string              { return "Refunded" }
func (OwnershipTransferred) EventName() string  { return "OwnershipTransferred" }
func (IntegrationAddressSet) EventName() string { return "IntegrationAddressSet" }
func (FunderAmountSet) EventName() string       { return "FunderAmountSet" }
