package ledger

import (
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	fpmath "Clawboard/internal/math"
	"Clawboard/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TokenName     = "ClawDoge"
	TokenSymbol   = "CLAWDOGE"
	TokenDecimals = 18

	// MaxSupplyTokens is the immutable issuance ceiling in whole tokens.
	MaxSupplyTokens = 2_100_000_000
)

// Config holds the immutable deployment parameters of the token.
type Config struct {
	// Owner may set the vault and manage the tax-excluded set.
	Owner common.Address
	// TeamWallet receives the team cut of every taxed transfer.
	TeamWallet common.Address
	// MaxSupply caps lifetime issuance; nil means MaxSupplyTokens whole tokens.
	MaxSupply *uint256.Int
}

// Ledger is the taxed fungible token. It exclusively owns balances,
// allowances, supply counters and the excluded set.
type Ledger struct {
	tracker   *BalanceTracker
	emitter   event.Emitter
	owner     common.Address
	team      common.Address
	maxSupply *uint256.Int
}

func New(store state.Store, emitter event.Emitter, cfg Config) *Ledger {
	maxSupply := cfg.MaxSupply
	if maxSupply == nil {
		maxSupply = fpmath.Units(MaxSupplyTokens)
	}
	if emitter == nil {
		emitter = event.Discard
	}
	return &Ledger{
		tracker:   NewBalanceTracker(store),
		emitter:   emitter,
		owner:     cfg.Owner,
		team:      cfg.TeamWallet,
		maxSupply: maxSupply.Clone(),
	}
}

// === Views ===

func (l *Ledger) Name() string { return TokenName }

func (l *Ledger) Symbol() string { return TokenSymbol }

func (l *Ledger) Decimals() uint8 { return TokenDecimals }

func (l *Ledger) Owner() common.Address { return l.owner }

func (l *Ledger) TeamWallet() common.Address { return l.team }

func (l *Ledger) MaxSupply() *uint256.Int { return l.maxSupply.Clone() }

func (l *Ledger) Vault() common.Address { return l.tracker.Vault() }

func (l *Ledger) TotalMinted() *uint256.Int { return l.tracker.TotalMinted() }

func (l *Ledger) TotalBurned() *uint256.Int { return l.tracker.TotalBurned() }

func (l *Ledger) Tracker() *BalanceTracker { return l.tracker }

func (l *Ledger) IsExcluded(account common.Address) bool { return l.tracker.IsExcluded(account) }

// CirculatingSupply is totalMinted - totalBurned.
func (l *Ledger) CirculatingSupply() *uint256.Int { return l.tracker.CirculatingSupply() }

// TotalSupply is the ERC-20 view of the circulating supply.
func (l *Ledger) TotalSupply() *uint256.Int { return l.tracker.CirculatingSupply() }

func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	return l.tracker.GetBalance(account)
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	return l.tracker.GetAllowance(owner, spender)
}

// === Transfers ===

// Transfer moves amount from the caller to `to`, applying the tax split
// unless either side is excluded or the caller transfers to itself.
func (l *Ledger) Transfer(call state.Call, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "transfer to the zero address")
	}
	_, err := l.move(call.Sender, to, amount)
	return err
}

// Approve sets the caller's allowance for spender. MaxUint256 means unlimited.
func (l *Ledger) Approve(call state.Call, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "approve to the zero address")
	}
	l.tracker.setAllowance(call.Sender, spender, amount)
	l.emitter.Emit(&event.Approval{Owner: call.Sender, Spender: spender, Amount: amount.Clone()})
	return nil
}

// TransferFrom moves amount from `from` to `to` on behalf of the caller
// (the spender), consuming the pre-tax amount from the allowance.
func (l *Ledger) TransferFrom(call state.Call, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "transfer to the zero address")
	}
	if err := l.checkAllowance(from, call.Sender, amount); err != nil {
		return err
	}
	if _, err := l.move(from, to, amount); err != nil {
		return err
	}
	l.spendAllowance(from, call.Sender, amount)
	return nil
}

// move applies one transfer. Every check happens before the first write.
func (l *Ledger) move(from, to common.Address, amount *uint256.Int) (TaxSplit, error) {
	bal := l.tracker.GetBalance(from)
	if bal.Lt(amount) {
		return TaxSplit{}, insufficientBalance(from, bal, amount)
	}

	if from == to {
		l.emitter.Emit(&event.Transfer{From: from, To: to, Amount: amount.Clone()})
		return NoTax(amount), nil
	}

	split := NoTax(amount)
	if !l.tracker.IsExcluded(from) && !l.tracker.IsExcluded(to) {
		split = SplitTax(amount)
	}

	l.tracker.debit(from, amount)
	l.tracker.credit(to, split.Net)
	l.tracker.credit(l.team, split.Team)
	l.tracker.addBurned(split.Burn)

	l.emitter.Emit(&event.Transfer{From: from, To: to, Amount: split.Net.Clone()})
	if !split.Team.IsZero() || !split.Burn.IsZero() {
		l.emitter.Emit(&event.TaxCollected{
			From:    from,
			Team:    l.team,
			TeamCut: split.Team.Clone(),
			BurnCut: split.Burn.Clone(),
		})
	}
	return split, nil
}

func (l *Ledger) checkAllowance(owner, spender common.Address, amount *uint256.Int) error {
	allowed := l.tracker.GetAllowance(owner, spender)
	if fpmath.IsUnlimited(allowed) || !allowed.Lt(amount) {
		return nil
	}
	return cerrors.New(cerrors.CodeInsufficientAllowance, "",
		cerrors.WithMetadata("owner", owner.Hex()),
		cerrors.WithMetadata("spender", spender.Hex()),
		cerrors.WithMetadata("allowance", allowed.Dec()),
		cerrors.WithMetadata("required", amount.Dec()),
	)
}

// spendAllowance decrements by amount unless the allowance is unlimited.
// checkAllowance has already guaranteed allowance >= amount.
func (l *Ledger) spendAllowance(owner, spender common.Address, amount *uint256.Int) {
	allowed := l.tracker.GetAllowance(owner, spender)
	if fpmath.IsUnlimited(allowed) {
		return
	}
	l.tracker.setAllowance(owner, spender, allowed.Sub(allowed, amount))
}

// === Supply ===

// Mint issues new supply. Only the registered vault may call it.
func (l *Ledger) Mint(call state.Call, to common.Address, amount *uint256.Int) error {
	vault := l.tracker.Vault()
	if vault == (common.Address{}) || call.Sender != vault {
		return cerrors.New(cerrors.CodeUnauthorized, "only vault can mint",
			cerrors.WithMetadata("caller", call.Sender.Hex()))
	}
	if to == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "mint to the zero address")
	}

	minted, ok := fpmath.Add(l.tracker.TotalMinted(), amount)
	if !ok || minted.Gt(l.maxSupply) {
		return cerrors.New(cerrors.CodeSupplyCeilingExceeded, "",
			cerrors.WithMetadata("total_minted", l.tracker.TotalMinted().Dec()),
			cerrors.WithMetadata("amount", amount.Dec()),
			cerrors.WithMetadata("max_supply", l.maxSupply.Dec()),
		)
	}

	l.tracker.credit(to, amount)
	l.tracker.setTotalMinted(minted)

	l.emitter.Emit(&event.Minted{To: to, Amount: amount.Clone()})
	l.emitter.Emit(&event.Transfer{From: common.Address{}, To: to, Amount: amount.Clone()})
	return nil
}

// Burn destroys amount from the caller's own balance.
func (l *Ledger) Burn(call state.Call, amount *uint256.Int) error {
	return l.burn(call.Sender, amount)
}

// BurnFrom destroys amount from `from`, consuming the caller's allowance
// unless the caller is `from`.
func (l *Ledger) BurnFrom(call state.Call, from common.Address, amount *uint256.Int) error {
	if call.Sender != from {
		if err := l.checkAllowance(from, call.Sender, amount); err != nil {
			return err
		}
	}
	if err := l.burn(from, amount); err != nil {
		return err
	}
	if call.Sender != from {
		l.spendAllowance(from, call.Sender, amount)
	}
	return nil
}

func (l *Ledger) burn(from common.Address, amount *uint256.Int) error {
	bal := l.tracker.GetBalance(from)
	if bal.Lt(amount) {
		return insufficientBalance(from, bal, amount)
	}
	l.tracker.debit(from, amount)
	l.tracker.addBurned(amount)

	l.emitter.Emit(&event.Burned{From: from, Amount: amount.Clone()})
	l.emitter.Emit(&event.Transfer{From: from, To: common.Address{}, Amount: amount.Clone()})
	return nil
}

// === Administration ===

// SetVault registers the only account allowed to mint and exempts it from
// the transfer tax. A replaced vault loses its exemption. Owner only.
func (l *Ledger) SetVault(call state.Call, vault common.Address) error {
	if call.Sender != l.owner {
		return cerrors.New(cerrors.CodeUnauthorized, "only owner can set vault")
	}
	if vault == (common.Address{}) {
		return cerrors.New(cerrors.CodeInvalidArgument, "vault is the zero address")
	}
	if prev := l.tracker.Vault(); prev != (common.Address{}) && prev != vault {
		l.tracker.setExcluded(prev, false)
		l.emitter.Emit(&event.ExclusionUpdated{Account: prev, Excluded: false})
	}
	l.tracker.setVault(vault)
	l.tracker.setExcluded(vault, true)
	l.emitter.Emit(&event.VaultSet{Vault: vault})
	l.emitter.Emit(&event.ExclusionUpdated{Account: vault, Excluded: true})
	return nil
}

// SetExcluded adds or removes an account from the tax-exempt set. Owner only.
func (l *Ledger) SetExcluded(call state.Call, account common.Address, excluded bool) error {
	if call.Sender != l.owner {
		return cerrors.New(cerrors.CodeUnauthorized, "only owner can change exclusions")
	}
	l.tracker.setExcluded(account, excluded)
	l.emitter.Emit(&event.ExclusionUpdated{Account: account, Excluded: excluded})
	return nil
}

func insufficientBalance(account common.Address, have, need *uint256.Int) error {
	return cerrors.New(cerrors.CodeInsufficientBalance, "",
		cerrors.WithMetadata("account", account.Hex()),
		cerrors.WithMetadata("balance", have.Dec()),
		cerrors.WithMetadata("required", need.Dec()),
	)
}
