package vault_test

import (
	"testing"
	"time"

	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/event"
	"Clawboard/internal/ledger"
	fpmath "Clawboard/internal/math"
	"Clawboard/internal/state"
	"Clawboard/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	team      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func call(sender common.Address) state.Call {
	return state.Call{Sender: sender, Value: new(uint256.Int), Time: time.Unix(1_700_000_000, 0)}
}

func deposit(sender common.Address, value *uint256.Int) state.Call {
	c := call(sender)
	c.Value = value
	return c
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func ether(n uint64) *uint256.Int { return fpmath.Units(n) }

type fixture struct {
	store  *state.MemoryStore
	events *event.Buffer
	token  *ledger.Ledger
	book   *vault.NativeBook
	vault  *vault.Vault
}

func newFixture(t *testing.T, maxSupply *uint256.Int) *fixture {
	t.Helper()
	f := &fixture{store: state.NewMemoryStore(), events: &event.Buffer{}}
	f.token = ledger.New(f.store, f.events, ledger.Config{Owner: owner, TeamWallet: team, MaxSupply: maxSupply})
	f.book = vault.NewNativeBook(f.store, f.events)
	f.vault = vault.New(f.store, f.token, f.book, f.events, vault.Config{Address: vaultAddr})
	require.NoError(t, f.token.SetVault(call(owner), vaultAddr))
	f.events.Reset()
	return f
}

func (f *fixture) approveAndRedeem(t *testing.T, who common.Address, amount *uint256.Int) (*uint256.Int, error) {
	t.Helper()
	require.NoError(t, f.token.Approve(call(who), vaultAddr, amount))
	return f.vault.Redeem(call(who), amount)
}

// ============================================================================
// Test: Mint
// ============================================================================

func TestMint_BootstrapRate(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.vault.Mint(deposit(alice, u(1)))
	require.NoError(t, err)
	require.Equal(t, u(1000), out)
	require.Equal(t, u(1000), f.token.BalanceOf(alice))
	require.Equal(t, u(1000), f.token.TotalMinted())
	require.Equal(t, u(1000), f.vault.TotalMinted())
	require.Equal(t, u(1), f.vault.GetNetValue())

	events := f.events.Drain()
	minted := events[len(events)-1].(*event.VaultMinted)
	require.Equal(t, u(1), minted.ReserveIn)
	require.Equal(t, u(1000), minted.TokensOut)
}

func TestMint_UsesPreDepositState(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)

	// circ = 1000e18, reserve = 1e18 -> 1000 tokens per reserve unit.
	out, err := f.vault.Mint(deposit(bob, ether(2)))
	require.NoError(t, err)
	require.Equal(t, ether(2000), out)
	require.Equal(t, ether(3), f.vault.GetNetValue())
}

func TestMint_ZeroDeposit(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(call(alice))
	require.ErrorIs(t, err, cerrors.ErrZeroDeposit)
	require.Equal(t, cerrors.KindInput, cerrors.KindOf(err))
	require.True(t, f.vault.GetNetValue().IsZero())
}

func TestMint_DustDepositRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, u(10)))
	require.NoError(t, err)
	// Burning all but one unit leaves 10 wei backing 1 unit.
	require.NoError(t, f.token.Burn(call(alice), u(9999)))
	f.events.Reset()

	_, err = f.vault.Mint(deposit(bob, u(1)))
	require.ErrorIs(t, err, cerrors.ErrZeroAmount)
	require.Equal(t, u(10), f.vault.GetNetValue())
	require.True(t, f.token.BalanceOf(bob).IsZero())
	require.Equal(t, u(10000), f.vault.TotalMinted())
	require.Empty(t, f.events.Drain())
}

func TestMint_SupplyCeilingPropagated(t *testing.T) {
	f := newFixture(t, u(1500))
	_, err := f.vault.Mint(deposit(alice, u(1)))
	require.NoError(t, err)

	_, err = f.vault.Mint(deposit(alice, u(1)))
	require.ErrorIs(t, err, cerrors.ErrSupplyCeilingExceeded)
	require.Equal(t, u(1), f.vault.GetNetValue(), "reserve untouched when the ledger refuses")
	require.Equal(t, u(1000), f.vault.TotalMinted())
}

func TestCalculateMintOutput_PureRead(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(5)))
	require.NoError(t, err)

	first, err := f.vault.CalculateMintOutput(ether(1))
	require.NoError(t, err)
	second, err := f.vault.CalculateMintOutput(ether(1))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, ether(5), f.vault.GetNetValue())
}

func TestCustomInitialRate(t *testing.T) {
	store := state.NewMemoryStore()
	token := ledger.New(store, nil, ledger.Config{Owner: owner})
	v := vault.New(store, token, vault.NewNativeBook(store, nil), nil, vault.Config{Address: vaultAddr, InitialRate: 7})
	require.Equal(t, u(7), v.InitialRate())

	out, err := v.CalculateMintOutput(u(3))
	require.NoError(t, err)
	require.Equal(t, u(21), out)
}

// ============================================================================
// Test: Redeem
// ============================================================================

func TestRedeem_PaysNAVMinusTax(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)

	// Redeem half: gross 0.5 ether, payout 0.4445 ether.
	half := ether(500)
	expected, err := f.vault.CalculateRedeemOutput(half)
	require.NoError(t, err)
	want, _ := fpmath.MulDiv(ether(1), u(4445), u(10_000))
	require.Equal(t, want, expected)

	out, err := f.approveAndRedeem(t, alice, half)
	require.NoError(t, err)
	require.Equal(t, expected, out)

	require.Equal(t, ether(500), f.token.BalanceOf(alice))
	require.True(t, f.token.BalanceOf(vaultAddr).IsZero())
	require.Equal(t, ether(500), f.token.CirculatingSupply())
	require.Equal(t, half, f.vault.TotalRedeemed())
	require.Equal(t, out, f.book.NativeBalanceOf(alice))

	reserve, _ := fpmath.Sub(ether(1), out)
	require.Equal(t, reserve, f.vault.GetNetValue())
	require.True(t, f.token.BalanceOf(team).IsZero(), "vault pull is untaxed")
}

func TestRedeem_RoundTripIsLossy(t *testing.T) {
	for _, x := range []*uint256.Int{u(1), u(999), ether(1), ether(12_345)} {
		f := newFixture(t, nil)
		// Seed supply so the second deposit is priced at NAV.
		_, err := f.vault.Mint(deposit(bob, ether(1)))
		require.NoError(t, err)

		tokens, err := f.vault.Mint(deposit(alice, x))
		require.NoError(t, err)
		back, err := f.approveAndRedeem(t, alice, tokens)
		require.NoError(t, err)
		require.True(t, back.Lt(x), "redeem(mint(%s)) = %s", x.Dec(), back.Dec())
	}
}

func TestRedeem_WithoutApproval(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)

	_, err = f.vault.Redeem(call(alice), ether(1))
	require.ErrorIs(t, err, cerrors.ErrInsufficientAllowance)
	require.Equal(t, ether(1000), f.token.BalanceOf(alice))
	require.Equal(t, ether(1), f.vault.GetNetValue())
	require.True(t, f.vault.TotalRedeemed().IsZero())
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)

	_, err = f.approveAndRedeem(t, bob, ether(1))
	require.ErrorIs(t, err, cerrors.ErrInsufficientBalance)
}

func TestRedeem_ZeroAmount(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Redeem(call(alice), new(uint256.Int))
	require.ErrorIs(t, err, cerrors.ErrZeroAmount)
}

func TestRedeem_AllSupplyReturnsToBootstrap(t *testing.T) {
	f := newFixture(t, nil)
	tokens, err := f.vault.Mint(deposit(alice, ether(2)))
	require.NoError(t, err)

	_, err = f.approveAndRedeem(t, alice, tokens)
	require.NoError(t, err)
	require.True(t, f.token.CirculatingSupply().IsZero())
	require.False(t, f.vault.GetNetValue().IsZero(), "redeem tax stays in the reserve")
	require.True(t, f.vault.NAVPerToken().IsZero())

	out, err := f.vault.CalculateMintOutput(u(1))
	require.NoError(t, err)
	require.Equal(t, u(1000), out)

	redeem, err := f.vault.CalculateRedeemOutput(u(1))
	require.NoError(t, err)
	require.True(t, redeem.IsZero())
}

// ============================================================================
// Test: NAV
// ============================================================================

func TestNAVPerToken_NonDecreasingUnderBurn(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)
	_, err = f.vault.Mint(deposit(bob, ether(3)))
	require.NoError(t, err)

	prev := f.vault.NAVPerToken()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.token.Burn(call(alice), ether(100)))
		nav := f.vault.NAVPerToken()
		require.False(t, nav.Lt(prev), "NAV dropped from %s to %s", prev.Dec(), nav.Dec())
		prev = nav
	}

	// Taxed transfers burn too.
	require.NoError(t, f.token.Transfer(call(bob), alice, ether(1000)))
	require.False(t, f.vault.NAVPerToken().Lt(prev))
}

func TestNAVPerToken_AfterRedeemNotLower(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(4)))
	require.NoError(t, err)
	before := f.vault.NAVPerToken()

	_, err = f.approveAndRedeem(t, alice, ether(1000))
	require.NoError(t, err)
	require.False(t, f.vault.NAVPerToken().Lt(before))
}

func TestGetVaultInfo(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.vault.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)
	require.NoError(t, f.token.Burn(call(alice), ether(10)))

	info := f.vault.GetVaultInfo()
	require.Equal(t, ether(1), info.ReserveBalance)
	require.Equal(t, ether(1), info.NetValue)
	require.Equal(t, ether(990), info.CirculatingSupply)
	require.Equal(t, ether(10), info.TotalBurned)
	require.Equal(t, ether(1000), info.TotalMinted)
	require.True(t, info.TotalRedeemed.IsZero())
	require.Equal(t, f.token.MaxSupply(), info.MaxSupply)
}

// ============================================================================
// Test: Reentrancy and reserve checks
// ============================================================================

// reentrantPayer calls back into the vault while being paid.
type reentrantPayer struct {
	vault *vault.Vault
	err   error
}

func (p *reentrantPayer) Pay(call state.Call, to common.Address, _ *uint256.Int) error {
	_, p.err = p.vault.Redeem(call.As(to), u(1))
	return nil
}

func TestRedeem_ReentryRejected(t *testing.T) {
	store := state.NewMemoryStore()
	token := ledger.New(store, nil, ledger.Config{Owner: owner, TeamWallet: team})
	payer := &reentrantPayer{}
	v := vault.New(store, token, payer, nil, vault.Config{Address: vaultAddr})
	payer.vault = v
	require.NoError(t, token.SetVault(call(owner), vaultAddr))

	_, err := v.Mint(deposit(alice, ether(1)))
	require.NoError(t, err)
	require.NoError(t, token.Approve(call(alice), vaultAddr, fpmath.MaxUint256()))

	_, err = v.Redeem(call(alice), ether(10))
	require.NoError(t, err)
	require.ErrorIs(t, payer.err, cerrors.ErrReentrantCall)

	// The guard is released afterwards.
	_, err = v.Redeem(call(alice), ether(10))
	require.NoError(t, err)
}

// stubToken reports a fixed circulating supply and accepts every call.
type stubToken struct {
	circ *uint256.Int
}

func (s *stubToken) Mint(state.Call, common.Address, *uint256.Int) error { return nil }

func (s *stubToken) TransferFrom(state.Call, common.Address, common.Address, *uint256.Int) error {
	return nil
}

func (s *stubToken) Burn(state.Call, *uint256.Int) error { return nil }

func (s *stubToken) CirculatingSupply() *uint256.Int { return s.circ.Clone() }

func (s *stubToken) MaxSupply() *uint256.Int { return fpmath.MaxUint256() }

func (s *stubToken) TotalBurned() *uint256.Int { return new(uint256.Int) }

func TestRedeem_InsufficientReserve(t *testing.T) {
	store := state.NewMemoryStore()
	token := &stubToken{circ: new(uint256.Int)}
	book := vault.NewNativeBook(store, nil)
	v := vault.New(store, token, book, nil, vault.Config{Address: vaultAddr})

	_, err := v.Mint(deposit(alice, u(100)))
	require.NoError(t, err)

	// Supply far below what is being redeemed: gross payout exceeds the reserve.
	token.circ = u(1)
	_, err = v.Redeem(call(alice), u(10))
	require.ErrorIs(t, err, cerrors.ErrInsufficientReserve)
	require.Equal(t, u(100), v.GetNetValue())
	require.True(t, book.NativeBalanceOf(alice).IsZero())
}
