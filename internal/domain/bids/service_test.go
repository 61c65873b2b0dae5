package bids

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eramirez/carbid/pkg/events"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "valid integer", raw: "100", want: "100"},
		{name: "valid decimal", raw: "99.95", want: "99.95"},
		{name: "surrounding whitespace", raw: " 42 ", want: "42"},
		{name: "zero is rejected", raw: "0", wantErr: ErrInvalidAmount},
		{name: "negative is rejected", raw: "-10", wantErr: ErrInvalidAmount},
		{name: "not a number", raw: "ten", wantErr: ErrInvalidAmount},
		{name: "empty string", raw: "", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := parseAmount(tt.raw)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, amount.String())
		})
	}
}

func TestValidateAgainstFloor(t *testing.T) {
	floor := &Bid{Amount: decimal.RequireFromString("50")}

	tests := []struct {
		name    string
		amount  string
		latest  *Bid
		wantErr bool
	}{
		{name: "first bid on fresh item", amount: "1", latest: nil, wantErr: false},
		{name: "strictly greater than floor", amount: "50.01", latest: floor, wantErr: false},
		{name: "equal to floor is rejected", amount: "50", latest: floor, wantErr: true},
		{name: "below floor is rejected", amount: "40", latest: floor, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAgainstFloor(decimal.RequireFromString(tt.amount), tt.latest)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var tooLow *BidTooLowError
			require.ErrorAs(t, err, &tooLow)
			assert.True(t, tooLow.MinRequired.Equal(floor.Amount))
		})
	}
}

// --- fakes ---

// stubTx satisfies pgx.Tx for the handful of methods the engine touches.
// Finishing the transaction (commit or rollback, whichever comes first)
// releases any item locks taken during it.
type stubTx struct {
	pgx.Tx
	mu     sync.Mutex
	done   bool
	onDone []func()
}

func (t *stubTx) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	for _, f := range t.onDone {
		f()
	}
}

func (t *stubTx) addOnDone(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDone = append(t.onDone, f)
}

func (t *stubTx) Commit(context.Context) error   { t.finish(); return nil }
func (t *stubTx) Rollback(context.Context) error { t.finish(); return nil }

type fakeTxManager struct{}

func (fakeTxManager) BeginTx(context.Context) (pgx.Tx, error) {
	return &stubTx{}, nil
}

// fakeLedger is an in-memory LedgerStore whose LockItem serializes per item,
// mirroring how the real store behaves.
type fakeLedger struct {
	mu      sync.Mutex
	byItem  map[string][]*Bid
	locks   map[string]*sync.Mutex
	appends int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byItem: make(map[string][]*Bid),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *fakeLedger) LockItem(_ context.Context, tx pgx.Tx, itemID string) error {
	l.mu.Lock()
	lock, ok := l.locks[itemID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[itemID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	tx.(*stubTx).addOnDone(lock.Unlock)
	return nil
}

func (l *fakeLedger) AppendBid(_ context.Context, _ pgx.Tx, itemID string, userID uuid.UUID, amount decimal.Decimal) (*Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bid := &Bid{
		ID:        uuid.New(),
		ItemID:    itemID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	l.byItem[itemID] = append(l.byItem[itemID], bid)
	l.appends++
	return bid, nil
}

func (l *fakeLedger) LatestBid(_ context.Context, itemID string) (*Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.byItem[itemID]
	if len(records) == 0 {
		return nil, nil
	}
	return records[len(records)-1], nil
}

func (l *fakeLedger) LatestBidTx(ctx context.Context, _ pgx.Tx, itemID string) (*Bid, error) {
	return l.LatestBid(ctx, itemID)
}

func (l *fakeLedger) BidsByItemID(_ context.Context, itemID string) ([]*Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.byItem[itemID]
	result := make([]*Bid, len(records))
	for i, bid := range records {
		result[len(records)-1-i] = bid // newest first
	}
	return result, nil
}

type fakeIdentity struct {
	names map[uuid.UUID]string
}

func (f *fakeIdentity) DisplayName(_ context.Context, userID uuid.UUID) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return name, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []*events.OutboxEvent
}

func (f *fakeOutbox) SaveEvent(_ context.Context, _ pgx.Tx, event *events.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func newTestEngine(bidders map[uuid.UUID]string) (*Engine, *fakeLedger, *fakeOutbox) {
	ledger := newFakeLedger()
	outbox := &fakeOutbox{}
	engine := NewEngine(fakeTxManager{}, ledger, &fakeIdentity{names: bidders}, outbox)
	return engine, ledger, outbox
}

// --- engine behaviour ---

func TestPlaceBid_AdmissionSequence(t *testing.T) {
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()
	engine, ledger, outbox := newTestEngine(map[uuid.UUID]string{alice: "alice", bob: "bob"})
	const item = "vintage-roadster"

	// Opening bid of 50 is admitted.
	first, err := engine.PlaceBid(ctx, PlaceBidCommand{ItemID: item, UserID: alice, Amount: "50"})
	require.NoError(t, err)
	assert.Equal(t, "alice", first.BidderName)
	assert.Equal(t, "50", first.Amount.String())

	// 40 is rejected and carries the floor.
	_, err = engine.PlaceBid(ctx, PlaceBidCommand{ItemID: item, UserID: bob, Amount: "40"})
	var tooLow *BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, "50", tooLow.MinRequired.String())

	// Equal amount is also too low.
	_, err = engine.PlaceBid(ctx, PlaceBidCommand{ItemID: item, UserID: bob, Amount: "50"})
	require.ErrorAs(t, err, &tooLow)

	// 75 is admitted on top.
	second, err := engine.PlaceBid(ctx, PlaceBidCommand{ItemID: item, UserID: bob, Amount: "75"})
	require.NoError(t, err)
	assert.Equal(t, "bob", second.BidderName)

	// Rejections never reached the ledger.
	assert.Equal(t, 2, ledger.appends)

	latest, err := engine.Latest(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, "75", latest.Amount.String())

	history, err := engine.History(ctx, item)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "75", history[0].Amount.String())
	assert.Equal(t, "bob", history[0].BidderName)
	assert.Equal(t, "50", history[1].Amount.String())
	assert.Equal(t, "alice", history[1].BidderName)

	// One outbox event per admitted bid, none for rejections.
	require.Len(t, outbox.events, 2)
	assert.Equal(t, events.TypeBidPlaced, outbox.events[0].EventType)
}

func TestPlaceBid_Validation(t *testing.T) {
	alice := uuid.New()

	tests := []struct {
		name    string
		cmd     PlaceBidCommand
		wantErr error
	}{
		{
			name:    "missing item id",
			cmd:     PlaceBidCommand{UserID: alice, Amount: "10"},
			wantErr: ErrMissingFields,
		},
		{
			name:    "missing amount",
			cmd:     PlaceBidCommand{ItemID: "item-1", UserID: alice},
			wantErr: ErrMissingFields,
		},
		{
			name:    "malformed amount",
			cmd:     PlaceBidCommand{ItemID: "item-1", UserID: alice, Amount: "lots"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "zero amount",
			cmd:     PlaceBidCommand{ItemID: "item-1", UserID: alice, Amount: "0"},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, ledger, _ := newTestEngine(map[uuid.UUID]string{alice: "alice"})

			_, err := engine.PlaceBid(context.Background(), tt.cmd)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, ledger.appends)
		})
	}
}

func TestPlaceBid_UnknownBidder(t *testing.T) {
	engine, ledger, _ := newTestEngine(map[uuid.UUID]string{})

	_, err := engine.PlaceBid(context.Background(), PlaceBidCommand{
		ItemID: "item-1",
		UserID: uuid.New(),
		Amount: "10",
	})

	assert.ErrorIs(t, err, ErrIdentityResolution)
	assert.Zero(t, ledger.appends)
}

func TestLatest_NoBids(t *testing.T) {
	engine, _, _ := newTestEngine(map[uuid.UUID]string{})

	_, err := engine.Latest(context.Background(), "untouched-item")

	assert.ErrorIs(t, err, ErrNoBids)
}

func TestHistory_DanglingUserFailsWholeCall(t *testing.T) {
	ctx := context.Background()
	alice := uuid.New()
	ghost := uuid.New()
	engine, ledger, _ := newTestEngine(map[uuid.UUID]string{alice: "alice"})

	_, err := ledger.AppendBid(ctx, nil, "item-1", alice, decimal.RequireFromString("10"))
	require.NoError(t, err)
	_, err = ledger.AppendBid(ctx, nil, "item-1", ghost, decimal.RequireFromString("20"))
	require.NoError(t, err)

	_, err = engine.History(ctx, "item-1")

	assert.ErrorIs(t, err, ErrIdentityResolution)
}

// TestPlaceBid_ConcurrentAdmissions races many bids on one item and checks
// that the admitted sequence is strictly increasing with no gaps between the
// ledger and the reported successes.
func TestPlaceBid_ConcurrentAdmissions(t *testing.T) {
	ctx := context.Background()
	alice := uuid.New()
	engine, _, _ := newTestEngine(map[uuid.UUID]string{alice: "alice"})
	const item = "contested-item"

	amounts := make([]string, 64)
	for i := range amounts {
		amounts[i] = fmt.Sprintf("%d", i+1)
	}
	rand.Shuffle(len(amounts), func(i, j int) { amounts[i], amounts[j] = amounts[j], amounts[i] })

	var wg sync.WaitGroup
	var admitted int64
	var admittedMu sync.Mutex
	for _, amount := range amounts {
		wg.Add(1)
		go func(amount string) {
			defer wg.Done()
			_, err := engine.PlaceBid(ctx, PlaceBidCommand{ItemID: item, UserID: alice, Amount: amount})
			if err == nil {
				admittedMu.Lock()
				admitted++
				admittedMu.Unlock()
				return
			}
			var tooLow *BidTooLowError
			assert.ErrorAs(t, err, &tooLow)
		}(amount)
	}
	wg.Wait()

	history, err := engine.History(ctx, item)
	require.NoError(t, err)
	require.EqualValues(t, admitted, len(history))

	// History is newest first; walking it backwards must be strictly
	// increasing.
	for i := len(history) - 1; i > 0; i-- {
		assert.True(t, history[i-1].Amount.GreaterThan(history[i].Amount),
			"bid %s admitted on top of %s", history[i-1].Amount, history[i].Amount)
	}
}
