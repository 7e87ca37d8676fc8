package vault

import (
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	fpmath "Clawboard/internal/math"
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Storage layout (0x3x range of the shared store).
const (
	keyReserve       byte = 0x30
	keyTotalMinted   byte = 0x31
	keyTotalRedeemed byte = 0x32
	prefixNative     byte = 0x33 // 0x33 || account -> claimable reserve
)

const (
	// DefaultInitialRate is the bootstrap price: tokens per reserve unit.
	DefaultInitialRate = 1000

	// RedeemPayoutRate is the per-mille share of NAV paid out on redeem
	// (an 11.1% redeem tax stays in the reserve).
	RedeemPayoutRate = 889
)

// Token is the slice of the ledger the vault depends on.
type Token interface {
	Mint(call state.Call, to common.Address, amount *uint256.Int) error
	TransferFrom(call state.Call, from, to common.Address, amount *uint256.Int) error
	Burn(call state.Call, amount *uint256.Int) error
	CirculatingSupply() *uint256.Int
	MaxSupply() *uint256.Int
	TotalBurned() *uint256.Int
}

// Payer hands redeemed reserve to its recipient. It is the only point where
// the vault passes control outside itself, and it runs after every state
// change of the redemption.
type Payer interface {
	Pay(call state.Call, to common.Address, amount *uint256.Int) error
}

type Config struct {
	// Address is the vault's account on the token (the registered minter).
	Address common.Address
	// InitialRate applies while there is no circulating supply or no reserve.
	// Zero means DefaultInitialRate.
	InitialRate uint64
}

// Info is the aggregate read model of the vault.
type Info struct {
	ReserveBalance    *uint256.Int `json:"reserve_balance"`
	CirculatingSupply *uint256.Int `json:"circulating_supply"`
	MaxSupply         *uint256.Int `json:"max_supply"`
	TotalBurned       *uint256.Int `json:"total_burned"`
	NetValue          *uint256.Int `json:"net_value"`
	TotalMinted       *uint256.Int `json:"total_minted"`
	TotalRedeemed     *uint256.Int `json:"total_redeemed"`
}

// Vault issues tokens against reserve deposits and retires them at NAV.
type Vault struct {
	store       state.Store
	token       Token
	payer       Payer
	emitter     event.Emitter
	address     common.Address
	initialRate *uint256.Int

	// entered guards Mint and Redeem against re-entry through the payer.
	entered bool
}

func New(store state.Store, token Token, payer Payer, emitter event.Emitter, cfg Config) *Vault {
	rate := cfg.InitialRate
	if rate == 0 {
		rate = DefaultInitialRate
	}
	if emitter == nil {
		emitter = event.Discard
	}
	return &Vault{
		store:       store,
		token:       token,
		payer:       payer,
		emitter:     emitter,
		address:     cfg.Address,
		initialRate: uint256.NewInt(rate),
	}
}

func (v *Vault) Address() common.Address {
	return v.address
}

func (v *Vault) InitialRate() *uint256.Int {
	return v.initialRate.Clone()
}

// GetNetValue is the reserve held by the vault.
func (v *Vault) GetNetValue() *uint256.Int {
	return state.GetUint(v.store, []byte{keyReserve})
}

func (v *Vault) TotalMinted() *uint256.Int {
	return state.GetUint(v.store, []byte{keyTotalMinted})
}

func (v *Vault) TotalRedeemed() *uint256.Int {
	return state.GetUint(v.store, []byte{keyTotalRedeemed})
}

// NAVPerToken is reserve * 1e18 / circulating, zero while nothing circulates.
func (v *Vault) NAVPerToken() *uint256.Int {
	circ := v.token.CirculatingSupply()
	if circ.IsZero() {
		return new(uint256.Int)
	}
	nav, ok := fpmath.MulDiv(v.GetNetValue(), fpmath.TokenConfig.Scale, circ)
	if !ok {
		return fpmath.MaxUint256()
	}
	return nav
}

// CalculateMintOutput prices a deposit against the current state. With no
// circulating supply (or an empty reserve) the initial rate applies.
func (v *Vault) CalculateMintOutput(reserveIn *uint256.Int) (*uint256.Int, error) {
	return v.mintOutput(reserveIn, v.GetNetValue(), v.token.CirculatingSupply())
}

func (v *Vault) mintOutput(reserveIn, reserve, circ *uint256.Int) (*uint256.Int, error) {
	if circ.IsZero() || reserve.IsZero() {
		out, ok := fpmath.Mul(reserveIn, v.initialRate)
		if !ok {
			return nil, overflow("mint output", reserveIn)
		}
		return out, nil
	}
	out, ok := fpmath.MulDiv(reserveIn, circ, reserve)
	if !ok {
		return nil, overflow("mint output", reserveIn)
	}
	return out, nil
}

// CalculateRedeemOutput is (tokenIn * reserve / circulating) * 889 / 1000.
// It is zero while nothing circulates.
func (v *Vault) CalculateRedeemOutput(tokenIn *uint256.Int) (*uint256.Int, error) {
	return redeemOutput(tokenIn, v.GetNetValue(), v.token.CirculatingSupply())
}

func redeemOutput(tokenIn, reserve, circ *uint256.Int) (*uint256.Int, error) {
	if circ.IsZero() {
		return new(uint256.Int), nil
	}
	gross, ok := fpmath.MulDiv(tokenIn, reserve, circ)
	if !ok {
		return nil, overflow("redeem output", tokenIn)
	}
	return fpmath.PerMilleOf(gross, RedeemPayoutRate), nil
}

// Mint deposits the call's attached value and issues tokens to the caller.
// The price uses the reserve and supply from before the deposit.
func (v *Vault) Mint(call state.Call) (*uint256.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	reserveIn := call.AttachedValue()
	if reserveIn.IsZero() {
		return nil, cerrors.New(cerrors.CodeZeroDeposit, "")
	}

	reserve := v.GetNetValue()
	out, err := v.mintOutput(reserveIn, reserve, v.token.CirculatingSupply())
	if err != nil {
		return nil, err
	}
	// A deposit too small to buy one unit at the current NAV would be
	// absorbed into the reserve for nothing.
	if out.IsZero() {
		return nil, cerrors.New(cerrors.CodeZeroAmount, "deposit buys no tokens at current NAV",
			cerrors.WithMetadata("reserve_in", reserveIn.Dec()),
			cerrors.WithMetadata("reserve", reserve.Dec()))
	}
	newReserve, ok := fpmath.Add(reserve, reserveIn)
	if !ok {
		return nil, overflow("reserve", reserveIn)
	}
	minted, ok := fpmath.Add(v.TotalMinted(), out)
	if !ok {
		return nil, overflow("vault total minted", out)
	}

	if err := v.token.Mint(call.As(v.address), call.Sender, out); err != nil {
		return nil, err
	}
	state.PutUint(v.store, []byte{keyReserve}, newReserve)
	state.PutUint(v.store, []byte{keyTotalMinted}, minted)

	v.emitter.Emit(&event.VaultMinted{User: call.Sender, ReserveIn: reserveIn.Clone(), TokensOut: out.Clone()})
	return out, nil
}

// Redeem pulls tokenIn from the caller (who must have approved the vault),
// burns it and pays out reserve at NAV minus the redeem tax. All state is
// updated before the payer runs.
func (v *Vault) Redeem(call state.Call, tokenIn *uint256.Int) (*uint256.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	if tokenIn.IsZero() {
		return nil, cerrors.New(cerrors.CodeZeroAmount, "redeem amount is zero")
	}

	reserve := v.GetNetValue()
	out, err := redeemOutput(tokenIn, reserve, v.token.CirculatingSupply())
	if err != nil {
		return nil, err
	}
	if out.Gt(reserve) {
		return nil, cerrors.New(cerrors.CodeInsufficientReserve, "",
			cerrors.WithMetadata("reserve", reserve.Dec()),
			cerrors.WithMetadata("required", out.Dec()))
	}
	redeemed, ok := fpmath.Add(v.TotalRedeemed(), tokenIn)
	if !ok {
		return nil, overflow("total redeemed", tokenIn)
	}

	self := call.As(v.address)
	if err := v.token.TransferFrom(self, call.Sender, v.address, tokenIn); err != nil {
		return nil, err
	}
	if err := v.token.Burn(self, tokenIn); err != nil {
		return nil, err
	}
	state.PutUint(v.store, []byte{keyReserve}, reserve.Sub(reserve, out))
	state.PutUint(v.store, []byte{keyTotalRedeemed}, redeemed)

	v.emitter.Emit(&event.VaultRedeemed{User: call.Sender, TokensIn: tokenIn.Clone(), ReserveOut: out.Clone()})

	if !out.IsZero() {
		if err := v.payer.Pay(self, call.Sender, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetVaultInfo aggregates the vault and supply views.
func (v *Vault) GetVaultInfo() Info {
	reserve := v.GetNetValue()
	return Info{
		ReserveBalance:    reserve,
		CirculatingSupply: v.token.CirculatingSupply(),
		MaxSupply:         v.token.MaxSupply(),
		TotalBurned:       v.token.TotalBurned(),
		NetValue:          reserve.Clone(),
		TotalMinted:       v.TotalMinted(),
		TotalRedeemed:     v.TotalRedeemed(),
	}
}

func (v *Vault) enter() error {
	if v.entered {
		return cerrors.New(cerrors.CodeReentrantCall, "")
	}
	v.entered = true
	return nil
}

func (v *Vault) exit() {
	v.entered = false
}

func overflow(what string, amount *uint256.Int) error {
	return cerrors.New(cerrors.CodeOverflow, what+" overflows",
		cerrors.WithMetadata("amount", amount.Dec()))
}
