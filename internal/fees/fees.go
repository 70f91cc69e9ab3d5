// Package fees keeps the platform fee settings, fee agents and payer
// sponsorships, and splits payments between platform, agent and payee.
//
// Fees are expressed in parts per thousand of the payment. An agent's
// fraction is parts per thousand of the fee.
package fees

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	Denominator    = 1000
	MaxFraction    = Denominator - 1
	PPMDenominator = Denominator * Denominator
)

var (
	ErrInvalidFeeFraction = errors.New("fees: fee fraction must be in 1..999")
	ErrInvalidCustomFee   = errors.New("fees: custom fee must be in 1..fee limit")
	ErrInvalidDefaultFee  = errors.New("fees: default fee must be in 1..fee limit")
	ErrInvalidFeeLimit    = errors.New("fees: fee limit must be in 1..999 and not below the default fee")
	ErrAgentMismatch      = errors.New("fees: caller is not the payer's active agent")
	ErrAgentNotActive     = errors.New("fees: agent not active")
	ErrUnauthorized       = errors.New("fees: caller is not the settings manager")
	ErrZeroAddress        = errors.New("fees: zero address")
	ErrNoSponsorship      = errors.New("fees: payer has no sponsorship")
	ErrNotConfigured      = errors.New("fees: settings not initialised")
)

// Settings are the global fee parameters.
type Settings struct {
	DefaultFee  uint32         `json:"default_fee"`
	FeeLimit    uint32         `json:"fee_limit"`
	FeeReceiver common.Address `json:"fee_receiver"`
	Manager     common.Address `json:"manager"`
}

// Validate checks the ranges and required addresses.
func (s Settings) Validate() error {
	if s.FeeLimit == 0 || s.FeeLimit > MaxFraction {
		return ErrInvalidFeeLimit
	}
	if s.DefaultFee == 0 || s.DefaultFee > s.FeeLimit {
		return ErrInvalidDefaultFee
	}
	if s.FeeReceiver == (common.Address{}) || s.Manager == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}

// Agent is a fee agent. A deactivated agent keeps its last fraction.
type Agent struct {
	Address     common.Address `json:"address"`
	FeeFraction uint32         `json:"fee_fraction"`
	Active      bool           `json:"active"`
}

// Sponsorship assigns a payer to an agent at a negotiated fee.
type Sponsorship struct {
	Payer     common.Address `json:"payer"`
	Agent     common.Address `json:"agent"`
	CustomFee uint32         `json:"custom_fee"`
}

// Split is a fee split in parts per million of the payment.
type Split struct {
	PlatformPPM uint64         `json:"platform_ppm"`
	AgentPPM    uint64         `json:"agent_ppm"`
	Agent       common.Address `json:"agent"`
}

// Shares is a payment divided according to a Split.
type Shares struct {
	Platform *uint256.Int
	Agent    *uint256.Int
	Net      *uint256.Int
}

var ppmDenominator = uint256.NewInt(PPMDenominator)

// Apply divides amount with floor rounding. Net absorbs the remainder, so
// Platform + Agent + Net == amount.
func Apply(amount *uint256.Int, s Split) Shares {
	platform := mulPPM(amount, s.PlatformPPM)
	agent := mulPPM(amount, s.AgentPPM)
	net := new(uint256.Int).Sub(amount, platform)
	net.Sub(net, agent)
	return Shares{Platform: platform, Agent: agent, Net: net}
}

// mulPPM computes floor(x*ppm/1e6). ppm < 1e6, so the result never exceeds x.
func mulPPM(x *uint256.Int, ppm uint64) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(ppm), ppmDenominator)
	return z
}
