package settlement

import (
	"encoding/json"
	"strconv"

	"github.com/0gfoundation/0g-pos-settlement/internal/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Reward is one reward entry paid to the submitter.
type Reward struct {
	AssetID *uint256.Int
	Amount  *uint256.Int
}

// Record describes a completed (or, from Preview, would-be) settlement.
// Amounts, Net, PlatformFees and AgentFees are parallel to AssetIDs; for
// native payments AssetIDs is empty and the slices hold one entry.
type Record struct {
	Digest    common.Hash
	Signer    common.Address
	Submitter common.Address
	Payee     common.Address
	Brand     common.Address
	Reference string

	Method       order.Kind
	AssetIDs     []*uint256.Int
	Amounts      []*uint256.Int
	Net          []*uint256.Int
	PlatformFees []*uint256.Int
	AgentFees    []*uint256.Int

	FeeReceiver common.Address
	Agent       common.Address
	FeesWaived  bool

	Rewards   []Reward
	SettledAt uint64
}

type rewardJSON struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type recordJSON struct {
	Digest       common.Hash    `json:"digest"`
	Signer       common.Address `json:"signer"`
	Submitter    common.Address `json:"submitter"`
	Payee        common.Address `json:"payee"`
	Brand        common.Address `json:"brand"`
	Reference    string         `json:"reference"`
	Method       string         `json:"method"`
	AssetIDs     []string       `json:"asset_ids"`
	Amounts      []string       `json:"amounts"`
	Net          []string       `json:"net"`
	PlatformFees []string       `json:"platform_fees"`
	AgentFees    []string       `json:"agent_fees"`
	FeeReceiver  common.Address `json:"fee_receiver"`
	Agent        common.Address `json:"agent"`
	FeesWaived   bool           `json:"fees_waived"`
	Rewards      []rewardJSON   `json:"rewards"`
	SettledAt    string         `json:"settled_at"`
}

// MarshalJSON renders amounts as decimal strings.
func (r *Record) MarshalJSON() ([]byte, error) {
	rewards := make([]rewardJSON, len(r.Rewards))
	for i, rw := range r.Rewards {
		rewards[i] = rewardJSON{AssetID: rw.AssetID.Dec(), Amount: rw.Amount.Dec()}
	}
	return json.Marshal(recordJSON{
		Digest:       r.Digest,
		Signer:       r.Signer,
		Submitter:    r.Submitter,
		Payee:        r.Payee,
		Brand:        r.Brand,
		Reference:    r.Reference,
		Method:       r.Method.String(),
		AssetIDs:     decimals(r.AssetIDs),
		Amounts:      decimals(r.Amounts),
		Net:          decimals(r.Net),
		PlatformFees: decimals(r.PlatformFees),
		AgentFees:    decimals(r.AgentFees),
		FeeReceiver:  r.FeeReceiver,
		Agent:        r.Agent,
		FeesWaived:   r.FeesWaived,
		Rewards:      rewards,
		SettledAt:    strconv.FormatUint(r.SettledAt, 10),
	})
}

func decimals(xs []*uint256.Int) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = x.Dec()
	}
	return out
}
