package escrow

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htlc-escrow/internal/auth"
	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/events"
	"htlc-escrow/internal/idhash"
	"htlc-escrow/internal/storage/memory"
)

const deployedAt uint64 = 1_000_000

func addr(b byte) domain.Address {
	return domain.AddressFromBytes(bytes.Repeat([]byte{b}, 32))
}

func key(t *testing.T, b byte) auth.KeyPair {
	t.Helper()
	k, err := auth.KeyPairFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return k
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *memory.DB
	engine *Engine
	clock  *FixedClock
	sink   *events.Recorder

	maker   auth.KeyPair
	taker   auth.KeyPair
	relayer auth.KeyPair

	token        domain.Address
	depositToken domain.Address
	secret       domain.Secret
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		t:            t,
		ctx:          context.Background(),
		db:           memory.NewDB(),
		clock:        NewFixedClock(deployedAt),
		sink:         &events.Recorder{},
		maker:        key(t, 1),
		taker:        key(t, 2),
		relayer:      key(t, 3),
		token:        addr(0xA0),
		depositToken: addr(0xD0),
		secret:       domain.Secret{0x5E, 0xC2},
	}

	cfg := DefaultConfig(addr(0xFA))
	cfg.RescueDelay = 10_000
	for _, m := range mutate {
		m(&cfg)
	}

	engine, err := NewEngine(cfg, f.db, auth.NewEd25519Authorizer(), WithClock(f.clock), WithSink(f.sink))
	require.NoError(t, err)
	f.engine = engine

	f.mint(f.token, f.maker.Public, 10_000)
	f.mint(f.token, f.taker.Public, 10_000)
	f.mint(f.depositToken, f.taker.Public, 500)
	return f
}

func (f *fixture) mint(token, owner domain.Address, amount int64) {
	require.NoError(f.t, f.db.Balances().Mint(f.ctx, token, owner, amount))
}

func (f *fixture) balance(token, owner domain.Address) int64 {
	b, err := f.db.Balances().Balance(f.ctx, token, owner)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) terms(direction domain.Direction) domain.SwapTerms {
	return domain.SwapTerms{
		OrderHash:           domain.Hash32{0x0D},
		Hashlock:            f.secret.Hashlock(),
		Direction:           direction,
		Maker:               f.maker.Public,
		Token:               f.token,
		Amount:              domain.FlatAmount(1000),
		SafetyDepositToken:  f.depositToken,
		SafetyDepositAmount: 50,
		Timelocks: domain.Timelocks{
			Withdrawal:         300,
			PublicWithdrawal:   600,
			Cancellation:       900,
			PublicCancellation: 1200,
		},
	}
}

// signed builds a create request carrying taker and maker signatures.
func (f *fixture) signed(terms domain.SwapTerms) CreateRequest {
	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{
		f.taker.Sign(CreatePayload(req)),
		f.maker.Sign(OrderPayload(terms)),
	}
	return req
}

func (f *fixture) create(direction domain.Direction) *domain.Escrow {
	esc, err := f.engine.Create(f.ctx, f.signed(f.terms(direction)))
	require.NoError(f.t, err)
	return esc
}

func (f *fixture) withdraw(id string, secret domain.Secret, caller domain.Address) (*domain.Escrow, error) {
	return f.engine.Withdraw(f.ctx, WithdrawRequest{EscrowID: id, Secret: secret, Caller: caller})
}

func (f *fixture) cancel(id string, caller auth.KeyPair) (*domain.Escrow, error) {
	return f.engine.Cancel(f.ctx, CancelRequest{
		EscrowID:       id,
		Caller:         caller.Public,
		Authorizations: []domain.Authorization{caller.Sign(CancelPayload(id, caller.Public))},
	})
}

func (f *fixture) state(id string) domain.State {
	esc, err := f.engine.Get(f.ctx, id)
	require.NoError(f.t, err)
	return esc.State
}

func TestCreate_MakerToTaker(t *testing.T) {
	f := newFixture(t)

	esc := f.create(domain.DirectionMakerToTaker)

	assert.Equal(t, idhash.ComputeEscrowID(f.terms(domain.DirectionMakerToTaker)), esc.ID)
	assert.Equal(t, domain.StateActive, esc.State)
	assert.Equal(t, f.taker.Public, esc.Resolved.Taker)
	assert.Equal(t, int64(1000), esc.Resolved.Amount)
	assert.Equal(t, deployedAt, esc.Resolved.CreatedAt)
	assert.Equal(t, uint64(10_000), esc.Resolved.RescueDelay)
	assert.False(t, esc.Address.IsOnCurve())

	assert.Equal(t, int64(9_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(10_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(1000), f.balance(f.token, esc.Address))
	assert.Equal(t, int64(450), f.balance(f.depositToken, f.taker.Public))
	assert.Equal(t, int64(50), f.balance(f.depositToken, esc.Address))

	published := f.sink.Events()
	require.Len(t, published, 1)
	assert.Equal(t, domain.EventEscrowCreated, published[0].Type)
	assert.Equal(t, 0, published[0].Sequence)
	assert.Equal(t, esc.ID, published[0].EscrowID)
	assert.Equal(t, idhash.ComputeEventID(esc.ID, 0, domain.EventEscrowCreated), published[0].ID)

	id, address, err := f.engine.AddressOf(f.terms(domain.DirectionMakerToTaker))
	require.NoError(t, err)
	assert.Equal(t, esc.ID, id)
	assert.Equal(t, esc.Address, address)
}

func TestCreate_TakerToMaker_TakerPaysWithoutMakerSignature(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionTakerToMaker)

	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{f.taker.Sign(CreatePayload(req))}

	esc, err := f.engine.Create(f.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(9_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(1000), f.balance(f.token, esc.Address))
}

func TestCreate_AlreadyExists(t *testing.T) {
	f := newFixture(t)
	f.create(domain.DirectionMakerToTaker)

	_, err := f.engine.Create(f.ctx, f.signed(f.terms(domain.DirectionMakerToTaker)))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, ClassState, ClassOf(err))

	// second attempt moved nothing
	assert.Equal(t, int64(9_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(450), f.balance(f.depositToken, f.taker.Public))
}

func TestCreate_TakerNeverAuthorizes(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionMakerToTaker)

	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{f.maker.Sign(OrderPayload(terms))}

	_, err := f.engine.Create(f.ctx, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))

	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(10_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))
	_, err = f.engine.Get(f.ctx, idhash.ComputeEscrowID(terms))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.sink.Events())
}

func TestCreate_MakerMustAuthorizeWhenPaying(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionMakerToTaker)

	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{f.taker.Sign(CreatePayload(req))}

	_, err := f.engine.Create(f.ctx, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
}

func TestCreate_SignatureBindsExactTerms(t *testing.T) {
	f := newFixture(t)
	req := f.signed(f.terms(domain.DirectionMakerToTaker))

	// Raise the amount after both parties signed.
	req.Terms.Amount = domain.FlatAmount(5000)

	_, err := f.engine.Create(f.ctx, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
}

func TestCreate_TakerResolution(t *testing.T) {
	f := newFixture(t)
	stranger := key(t, 9)
	exp := deployedAt

	tests := []struct {
		name    string
		mutate  func(*domain.SwapTerms)
		wantErr error
	}{
		{"fixed taker mismatch", func(s *domain.SwapTerms) { s.Taker = stranger.Public }, ErrUnauthorized},
		{"sender not allowed", func(s *domain.SwapTerms) { s.MakerTraits.AllowedSender = stranger.Public }, ErrUnauthorized},
		{"order expired", func(s *domain.SwapTerms) { s.MakerTraits.Expiration = &exp }, ErrOrderExpired},
		{"bad direction", func(s *domain.SwapTerms) { s.Direction = "SIDEWAYS" }, ErrInvalidTerms},
		{"bad token", func(s *domain.SwapTerms) { s.Token = "0OIl" }, ErrInvalidTerms},
		{"negative deposit", func(s *domain.SwapTerms) { s.SafetyDepositAmount = -1 }, ErrInvalidAmount},
		{"negative amount", func(s *domain.SwapTerms) { s.Amount = domain.FlatAmount(-5) }, ErrInvalidAmount},
		{"auction window", func(s *domain.SwapTerms) {
			s.Amount = domain.LinearAmount(domain.DutchAuction{StartTime: 10, EndTime: 10, StartAmount: 1, EndAmount: 1})
		}, ErrInvalidAuctionWindow},
		{"unordered timelocks", func(s *domain.SwapTerms) { s.Timelocks.Cancellation = 100 }, ErrInvalidTimelocks},
		{"timelock overflow", func(s *domain.SwapTerms) { s.Timelocks.PublicCancellation = ^uint64(0) }, ErrArithmeticOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := f.terms(domain.DirectionMakerToTaker)
			tt.mutate(&terms)

			_, err := f.engine.Create(f.ctx, f.signed(terms))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
		})
	}
}

func TestCreate_FixedTakerMatches(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionMakerToTaker)
	terms.Taker = f.taker.Public
	terms.MakerTraits.AllowedSender = f.taker.Public

	_, err := f.engine.Create(f.ctx, f.signed(terms))
	require.NoError(t, err)
}

func TestCreate_DutchAuctionResolvesAmount(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(deployedAt + 500)

	terms := f.terms(domain.DirectionMakerToTaker)
	terms.Amount = domain.LinearAmount(domain.DutchAuction{
		StartTime:   deployedAt,
		EndTime:     deployedAt + 1000,
		StartAmount: 1000,
		EndAmount:   500,
	})

	esc, err := f.engine.Create(f.ctx, f.signed(terms))
	require.NoError(t, err)
	assert.Equal(t, int64(750), esc.Resolved.Amount)
	assert.Equal(t, deployedAt+500, esc.Resolved.CreatedAt)
	assert.Equal(t, int64(750), f.balance(f.token, esc.Address))
}

func TestCreate_ThresholdExceeded(t *testing.T) {
	f := newFixture(t)
	req := CreateRequest{
		Terms:       f.terms(domain.DirectionMakerToTaker),
		Taker:       f.taker.Public,
		TakerTraits: domain.TakerTraits{Threshold: 999},
	}
	req.Authorizations = []domain.Authorization{
		f.taker.Sign(CreatePayload(req)),
		f.maker.Sign(OrderPayload(req.Terms)),
	}

	_, err := f.engine.Create(f.ctx, req)
	assert.ErrorIs(t, err, ErrThresholdExceeded)
}

func TestCreate_SourceCancellationBound(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionTakerToMaker)

	build := func(src uint64) CreateRequest {
		req := CreateRequest{Terms: terms, Taker: f.taker.Public, SrcCancellationTimestamp: &src}
		req.Authorizations = []domain.Authorization{f.taker.Sign(CreatePayload(req))}
		return req
	}

	_, err := f.engine.Create(f.ctx, build(deployedAt+899))
	assert.ErrorIs(t, err, ErrInvalidCreationTime)

	_, err = f.engine.Create(f.ctx, build(deployedAt+900))
	assert.NoError(t, err)
}

func TestCreate_InsufficientBalanceMovesNothing(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionMakerToTaker)
	terms.SafetyDepositAmount = 501 // taker only holds 500

	_, err := f.engine.Create(f.ctx, f.signed(terms))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, ClassResource, ClassOf(err))

	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))
	_, err = f.engine.Get(f.ctx, idhash.ComputeEscrowID(terms))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScenario_WithdrawThenCancel(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)

	f.clock.Set(1_000_250)
	_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	assert.ErrorIs(t, err, ErrTooEarly)
	assert.Equal(t, domain.StateActive, f.state(esc.ID))

	f.clock.Set(1_000_300)
	got, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	require.NoError(t, err)
	assert.Equal(t, domain.StateWithdrawn, got.State)

	f.clock.Set(1_000_900)
	_, err = f.cancel(esc.ID, f.taker)
	assert.ErrorIs(t, err, ErrNotActive)

	assert.Equal(t, int64(11_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))
	assert.Equal(t, int64(0), f.balance(f.token, esc.Address))
	assert.Equal(t, int64(0), f.balance(f.depositToken, esc.Address))
}

func TestWithdraw_PublishesSecret(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	f.clock.Set(deployedAt + 300)

	_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	require.NoError(t, err)

	evs, err := f.engine.Events(f.ctx, esc.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventWithdrawn, evs[1].Type)
	assert.Equal(t, 1, evs[1].Sequence)
	require.NotNil(t, evs[1].Secret)
	assert.Equal(t, f.secret, *evs[1].Secret)

	published := f.sink.Events()
	require.Len(t, published, 2)
	assert.Equal(t, f.secret, *published[1].Secret)
	assert.Equal(t, esc.Terms.Hashlock, published[1].Hashlock)
}

func TestWithdraw_PublicWindow(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)

	// Inside the taker's private window a relayer is too early.
	f.clock.Set(deployedAt + 400)
	_, err := f.withdraw(esc.ID, f.secret, f.relayer.Public)
	assert.ErrorIs(t, err, ErrTooEarly)

	f.clock.Set(deployedAt + 600)
	_, err = f.withdraw(esc.ID, f.secret, f.relayer.Public)
	require.NoError(t, err)

	// Principal goes to the taker, the deposit to whoever executed.
	assert.Equal(t, int64(11_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(50), f.balance(f.depositToken, f.relayer.Public))
}

func TestWithdraw_TakerToMakerPaysMaker(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionTakerToMaker)
	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{f.taker.Sign(CreatePayload(req))}
	esc, err := f.engine.Create(f.ctx, req)
	require.NoError(t, err)

	f.clock.Set(deployedAt + 300)
	_, err = f.withdraw(esc.ID, f.secret, f.taker.Public)
	require.NoError(t, err)

	assert.Equal(t, int64(11_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(9_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))
}

func TestWithdraw_InvalidSecretKeepsActive(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	f.clock.Set(deployedAt + 700)

	for i := 0; i < 20; i++ {
		var wrong domain.Secret
		_, err := rand.Read(wrong[:])
		require.NoError(t, err)
		if wrong == f.secret {
			continue
		}
		for _, caller := range []domain.Address{f.taker.Public, f.relayer.Public, f.maker.Public} {
			_, err := f.withdraw(esc.ID, wrong, caller)
			assert.ErrorIs(t, err, ErrInvalidSecret)
			assert.Equal(t, ClassIntegrity, ClassOf(err))
		}
	}
	assert.Equal(t, domain.StateActive, f.state(esc.ID))
	assert.Equal(t, int64(1000), f.balance(f.token, esc.Address))

	// The right secret still works.
	_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	require.NoError(t, err)
}

func TestWithdraw_TooLate(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)

	f.clock.Set(deployedAt + 900)
	_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	assert.ErrorIs(t, err, ErrTooLate)
	assert.Equal(t, domain.StateActive, f.state(esc.ID))
}

func TestWithdraw_CheckOrder(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	wrong := domain.Secret{0xBA, 0xD0}

	// Too early wins over a wrong secret.
	_, err := f.withdraw(esc.ID, wrong, f.taker.Public)
	assert.ErrorIs(t, err, ErrTooEarly)

	// Too late wins over a wrong secret.
	f.clock.Set(deployedAt + 1000)
	_, err = f.withdraw(esc.ID, wrong, f.taker.Public)
	assert.ErrorIs(t, err, ErrTooLate)

	// Not active wins over everything.
	_, err = f.cancel(esc.ID, f.taker)
	require.NoError(t, err)
	_, err = f.withdraw(esc.ID, wrong, f.taker.Public)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = f.withdraw("missing", f.secret, f.taker.Public)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExclusivity(t *testing.T) {
	t.Run("withdraw first", func(t *testing.T) {
		f := newFixture(t)
		esc := f.create(domain.DirectionMakerToTaker)
		f.clock.Set(deployedAt + 300)
		_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
		require.NoError(t, err)

		_, err = f.withdraw(esc.ID, f.secret, f.taker.Public)
		assert.ErrorIs(t, err, ErrNotActive)

		f.clock.Set(deployedAt + 2000)
		_, err = f.cancel(esc.ID, f.taker)
		assert.ErrorIs(t, err, ErrNotActive)
		_, err = f.cancel(esc.ID, f.relayer)
		assert.ErrorIs(t, err, ErrNotActive)
		assert.Equal(t, domain.StateWithdrawn, f.state(esc.ID))
	})

	t.Run("cancel first", func(t *testing.T) {
		f := newFixture(t)
		esc := f.create(domain.DirectionMakerToTaker)
		f.clock.Set(deployedAt + 900)
		_, err := f.cancel(esc.ID, f.taker)
		require.NoError(t, err)

		_, err = f.cancel(esc.ID, f.taker)
		assert.ErrorIs(t, err, ErrNotActive)
		_, err = f.withdraw(esc.ID, f.secret, f.taker.Public)
		assert.ErrorIs(t, err, ErrNotActive)
		assert.Equal(t, domain.StateCancelled, f.state(esc.ID))
	})
}

func TestCancel_RefundsPayer(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)

	f.clock.Set(deployedAt + 899)
	_, err := f.cancel(esc.ID, f.taker)
	assert.ErrorIs(t, err, ErrTooEarly)

	f.clock.Set(deployedAt + 900)
	got, err := f.cancel(esc.ID, f.taker)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, got.State)

	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))

	evs := f.sink.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventEscrowCancelled, evs[1].Type)
	assert.Nil(t, evs[1].Secret)
}

func TestCancel_PublicWindowAndAuthorization(t *testing.T) {
	f := newFixture(t)
	terms := f.terms(domain.DirectionTakerToMaker)
	req := CreateRequest{Terms: terms, Taker: f.taker.Public}
	req.Authorizations = []domain.Authorization{f.taker.Sign(CreatePayload(req))}
	esc, err := f.engine.Create(f.ctx, req)
	require.NoError(t, err)

	f.clock.Set(deployedAt + 1000)
	_, err = f.cancel(esc.ID, f.relayer)
	assert.ErrorIs(t, err, ErrTooEarly)

	f.clock.Set(deployedAt + 1200)
	_, err = f.engine.Cancel(f.ctx, CancelRequest{EscrowID: esc.ID, Caller: f.relayer.Public})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A signature for another escrow does not count.
	_, err = f.engine.Cancel(f.ctx, CancelRequest{
		EscrowID:       esc.ID,
		Caller:         f.relayer.Public,
		Authorizations: []domain.Authorization{f.relayer.Sign(CancelPayload("other", f.relayer.Public))},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.cancel(esc.ID, f.relayer)
	require.NoError(t, err)

	// TakerToMaker refunds the taker; the relayer earns the deposit.
	assert.Equal(t, int64(10_000), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(50), f.balance(f.depositToken, f.relayer.Public))
}

func TestCancel_WithoutAuthorizationWhenDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RequireCancelAuth = false })
	esc := f.create(domain.DirectionMakerToTaker)

	f.clock.Set(deployedAt + 1200)
	_, err := f.engine.Cancel(f.ctx, CancelRequest{EscrowID: esc.ID, Caller: f.relayer.Public})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
}

func TestRescueFunds(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	stray := addr(0x57)
	f.mint(stray, esc.Address, 77)

	rescue := func(caller auth.KeyPair, amount int64) error {
		return f.engine.RescueFunds(f.ctx, RescueRequest{
			EscrowID:       esc.ID,
			Token:          stray,
			Amount:         amount,
			Caller:         caller.Public,
			Authorizations: []domain.Authorization{caller.Sign(RescuePayload(esc.ID, stray, amount, caller.Public))},
		})
	}

	assert.ErrorIs(t, rescue(f.taker, 0), ErrInvalidAmount)
	assert.ErrorIs(t, rescue(f.taker, 77), ErrTooEarly)
	assert.ErrorIs(t, rescue(f.maker, 77), ErrUnauthorized)

	f.clock.Set(deployedAt + 10_000)
	assert.ErrorIs(t, rescue(f.maker, 77), ErrUnauthorized)
	assert.ErrorIs(t, rescue(f.taker, 78), ErrInsufficientBalance)

	unsigned := f.engine.RescueFunds(f.ctx, RescueRequest{EscrowID: esc.ID, Token: stray, Amount: 77, Caller: f.taker.Public})
	assert.ErrorIs(t, unsigned, ErrUnauthorized)

	require.NoError(t, rescue(f.taker, 77))
	assert.Equal(t, int64(77), f.balance(stray, f.taker.Public))
	assert.Equal(t, int64(0), f.balance(stray, esc.Address))
	assert.Equal(t, domain.StateActive, f.state(esc.ID))

	evs, err := f.engine.Events(f.ctx, esc.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventFundsRescued, evs[1].Type)
	assert.Equal(t, stray, evs[1].Token)

	err = f.engine.RescueFunds(f.ctx, RescueRequest{EscrowID: "missing", Token: stray, Amount: 1, Caller: f.taker.Public})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRescueFunds_AfterTerminalState(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	f.clock.Set(deployedAt + 300)
	_, err := f.withdraw(esc.ID, f.secret, f.taker.Public)
	require.NoError(t, err)

	f.mint(f.token, esc.Address, 5)
	f.clock.Set(deployedAt + 10_000)
	err = f.engine.RescueFunds(f.ctx, RescueRequest{
		EscrowID:       esc.ID,
		Token:          f.token,
		Amount:         5,
		Caller:         f.taker.Public,
		Authorizations: []domain.Authorization{f.taker.Sign(RescuePayload(esc.ID, f.token, 5, f.taker.Public))},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateWithdrawn, f.state(esc.ID))
}

func TestRescueFunds_LockedFundsStayWithActiveEscrow(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	f.mint(f.token, esc.Address, 30)

	rescue := func(token domain.Address, amount int64) error {
		return f.engine.RescueFunds(f.ctx, RescueRequest{
			EscrowID:       esc.ID,
			Token:          token,
			Amount:         amount,
			Caller:         f.taker.Public,
			Authorizations: []domain.Authorization{f.taker.Sign(RescuePayload(esc.ID, token, amount, f.taker.Public))},
		})
	}

	f.clock.Set(deployedAt + 10_000)
	assert.ErrorIs(t, rescue(f.token, 1000), ErrInsufficientBalance)
	assert.ErrorIs(t, rescue(f.token, 31), ErrInsufficientBalance)
	assert.ErrorIs(t, rescue(f.depositToken, 1), ErrInsufficientBalance)
	assert.Equal(t, int64(1030), f.balance(f.token, esc.Address))

	require.NoError(t, rescue(f.token, 30))
	assert.Equal(t, int64(10_030), f.balance(f.token, f.taker.Public))
	assert.Equal(t, int64(1000), f.balance(f.token, esc.Address))

	// The maker's refund is still whole.
	_, err := f.cancel(esc.ID, f.maker)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(0), f.balance(f.token, esc.Address))
}

func TestRescueFunds_DelayFixedAtCreation(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	stray := addr(0x57)
	f.mint(stray, esc.Address, 10)

	// A restart with a shorter delay does not move existing escrows.
	cfg := f.engine.Config()
	cfg.RescueDelay = 2_000
	restarted, err := NewEngine(cfg, f.db, auth.NewEd25519Authorizer(), WithClock(f.clock))
	require.NoError(t, err)

	req := RescueRequest{
		EscrowID:       esc.ID,
		Token:          stray,
		Amount:         10,
		Caller:         f.taker.Public,
		Authorizations: []domain.Authorization{f.taker.Sign(RescuePayload(esc.ID, stray, 10, f.taker.Public))},
	}

	f.clock.Set(deployedAt + 2_000)
	assert.ErrorIs(t, restarted.RescueFunds(f.ctx, req), ErrTooEarly)

	f.clock.Set(deployedAt + 10_000)
	require.NoError(t, restarted.RescueFunds(f.ctx, req))
	assert.Equal(t, int64(10), f.balance(stray, f.taker.Public))
}

func TestCreate_RescueMustOpenAfterPublicCancellation(t *testing.T) {
	f := newFixture(t)

	for _, offset := range []uint64{10_000, 20_000} {
		terms := f.terms(domain.DirectionMakerToTaker)
		terms.Timelocks.Cancellation = offset
		terms.Timelocks.PublicCancellation = offset

		_, err := f.engine.Create(f.ctx, f.signed(terms))
		assert.ErrorIs(t, err, ErrInvalidTimelocks, "public cancellation %d", offset)
	}
	assert.Equal(t, int64(10_000), f.balance(f.token, f.maker.Public))
	assert.Equal(t, int64(500), f.balance(f.depositToken, f.taker.Public))
}

type ctxSink struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (s *ctxSink) Publish(ctx context.Context, _ ...*domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxs = append(s.ctxs, ctx)
}

func TestPublish_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	sink := &ctxSink{}
	engine, err := NewEngine(f.engine.Config(), f.db, auth.NewEd25519Authorizer(), WithClock(f.clock), WithSink(sink))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = engine.Create(ctx, f.signed(f.terms(domain.DirectionMakerToTaker)))
	require.NoError(t, err)
	cancel()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ctxs, 1)
	assert.NoError(t, sink.ctxs[0].Err())
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)

	byLock, err := f.engine.FindByHashlock(f.ctx, f.secret.Hashlock())
	require.NoError(t, err)
	require.Len(t, byLock, 1)
	assert.Equal(t, esc.ID, byLock[0].ID)

	active, err := f.engine.FindByState(f.ctx, domain.StateActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = f.engine.FindByState(f.ctx, "LIMBO")
	assert.ErrorIs(t, err, ErrInvalidTerms)

	_, err = f.engine.Events(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewEngine_RejectsBadFactory(t *testing.T) {
	_, err := NewEngine(DefaultConfig("bad"), memory.NewDB(), auth.AllowAll{})
	assert.Error(t, err)
}

func TestWithdraw_ConcurrentCallersSucceedOnce(t *testing.T) {
	f := newFixture(t)
	esc := f.create(domain.DirectionMakerToTaker)
	f.clock.Set(deployedAt + 600)

	var ok, notActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(caller domain.Address) {
			defer wg.Done()
			_, err := f.withdraw(esc.ID, f.secret, caller)
			switch {
			case err == nil:
				ok.Add(1)
			case CodeOf(err) == CodeNotActive:
				notActive.Add(1)
			}
		}(addr(byte(0x60 + i)))
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), notActive.Load())
	assert.Equal(t, int64(11_000), f.balance(f.token, f.taker.Public))
}
