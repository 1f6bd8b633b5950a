package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory Store with the same optimistic-version contract
// as the SQL adapter: writes must carry the version they were read with, and
// a transaction's writes are staged until fn returns nil.
type fakeStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*auction.Auction
	bids     map[uuid.UUID]*bid.Bid

	// conflict injection: the next N auction updates, or the next N updates
	// of a specific bid, fail with ErrVersionConflict
	auctionConflicts int
	bidConflicts     map[uuid.UUID]int

	// when set, bid timestamps are truncated on write, like a SQL timestamp
	// column that keeps only microseconds
	timestampPrecision time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		auctions:     make(map[uuid.UUID]*auction.Auction),
		bids:         make(map[uuid.UUID]*bid.Bid),
		bidConflicts: make(map[uuid.UUID]int),
	}
}

func copyAuction(a *auction.Auction) *auction.Auction {
	c := *a
	if a.HighestBidID != nil {
		id := *a.HighestBidID
		c.HighestBidID = &id
	}
	return &c
}

func copyBid(b *bid.Bid) *bid.Bid {
	c := *b
	if b.OutbidAt != nil {
		t := *b.OutbidAt
		c.OutbidAt = &t
	}
	if b.DeletedAt != nil {
		t := *b.DeletedAt
		c.DeletedAt = &t
	}
	if b.DeletedByID != nil {
		id := *b.DeletedByID
		c.DeletedByID = &id
	}
	return &c
}

func (s *fakeStore) putAuction(a *auction.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = copyAuction(a)
}

func (s *fakeStore) putBid(b *bid.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[b.ID] = s.roundBidTimes(copyBid(b))
}

func (s *fakeStore) roundBidTimes(b *bid.Bid) *bid.Bid {
	if s.timestampPrecision <= 0 {
		return b
	}
	b.CreatedAt = b.CreatedAt.Truncate(s.timestampPrecision)
	if b.OutbidAt != nil {
		t := b.OutbidAt.Truncate(s.timestampPrecision)
		b.OutbidAt = &t
	}
	if b.DeletedAt != nil {
		t := b.DeletedAt.Truncate(s.timestampPrecision)
		b.DeletedAt = &t
	}
	return b
}

func (s *fakeStore) auctionSnapshot(id uuid.UUID) *auction.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAuction(s.auctions[id])
}

func (s *fakeStore) bidSnapshot(id uuid.UUID) *bid.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBid(s.bids[id])
}

// fakeTx stages writes against the parent store; commit happens only when the
// transaction function returns nil.
type fakeTx struct {
	s           *fakeStore
	auctions    map[uuid.UUID]*auction.Auction
	bids        map[uuid.UUID]*bid.Bid
	deletedBids map[uuid.UUID]bool
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx outbound.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &fakeTx{
		s:           s,
		auctions:    make(map[uuid.UUID]*auction.Auction),
		bids:        make(map[uuid.UUID]*bid.Bid),
		deletedBids: make(map[uuid.UUID]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, a := range tx.auctions {
		s.auctions[id] = a
	}
	for id, b := range tx.bids {
		s.bids[id] = s.roundBidTimes(b)
	}
	for id := range tx.deletedBids {
		delete(s.bids, id)
	}
	return nil
}

func (tx *fakeTx) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	if a, ok := tx.auctions[id]; ok {
		return copyAuction(a), nil
	}
	a, ok := tx.s.auctions[id]
	if !ok {
		return nil, shared.ErrAuctionNotFound
	}
	return copyAuction(a), nil
}

func (tx *fakeTx) UpdateAuction(ctx context.Context, a *auction.Auction) error {
	if tx.s.auctionConflicts > 0 {
		tx.s.auctionConflicts--
		return shared.ErrVersionConflict
	}
	cur, ok := tx.auctions[a.ID]
	if !ok {
		cur, ok = tx.s.auctions[a.ID]
	}
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if cur.Version != a.Version {
		return shared.ErrVersionConflict
	}
	a.Version++
	tx.auctions[a.ID] = copyAuction(a)
	return nil
}

func (tx *fakeTx) InsertBid(ctx context.Context, b *bid.Bid) error {
	tx.bids[b.ID] = copyBid(b)
	return nil
}

func (tx *fakeTx) GetBid(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	if tx.deletedBids[id] {
		return nil, shared.ErrBidNotFound
	}
	if b, ok := tx.bids[id]; ok {
		return copyBid(b), nil
	}
	b, ok := tx.s.bids[id]
	if !ok {
		return nil, shared.ErrBidNotFound
	}
	return copyBid(b), nil
}

func (tx *fakeTx) UpdateBid(ctx context.Context, b *bid.Bid) error {
	if n := tx.s.bidConflicts[b.ID]; n > 0 {
		tx.s.bidConflicts[b.ID] = n - 1
		return shared.ErrVersionConflict
	}
	cur, ok := tx.bids[b.ID]
	if !ok {
		cur, ok = tx.s.bids[b.ID]
	}
	if !ok || tx.deletedBids[b.ID] {
		return shared.ErrBidNotFound
	}
	if cur.Version != b.Version {
		return shared.ErrVersionConflict
	}
	b.Version++
	tx.bids[b.ID] = copyBid(b)
	return nil
}

func (tx *fakeTx) DeleteBid(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	cur, ok := tx.bids[id]
	if !ok {
		cur, ok = tx.s.bids[id]
	}
	if !ok || tx.deletedBids[id] {
		return shared.ErrBidNotFound
	}
	if cur.Version != expectedVersion {
		return shared.ErrVersionConflict
	}
	tx.deletedBids[id] = true
	delete(tx.bids, id)
	return nil
}

func (tx *fakeTx) visibleBids(auctionID uuid.UUID) []*bid.Bid {
	seen := make(map[uuid.UUID]bool)
	var out []*bid.Bid
	for id, b := range tx.bids {
		seen[id] = true
		if b.AuctionID == auctionID {
			out = append(out, copyBid(b))
		}
	}
	for id, b := range tx.s.bids {
		if seen[id] || tx.deletedBids[id] {
			continue
		}
		if b.AuctionID == auctionID {
			out = append(out, copyBid(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Beats(out[j]) })
	return out
}

func (tx *fakeTx) HighestActiveBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	for _, b := range tx.visibleBids(auctionID) {
		if b.IsActive() {
			return b, nil
		}
	}
	return nil, nil
}

func (tx *fakeTx) ActiveBidsBelow(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, excludeBidder uuid.UUID) ([]*bid.Bid, error) {
	var out []*bid.Bid
	for _, b := range tx.visibleBids(auctionID) {
		if b.IsActive() && b.Amount.LessThan(amount) && b.BidderID != excludeBidder {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *fakeTx) HasActiveBidAt(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (bool, error) {
	for _, b := range tx.visibleBids(auctionID) {
		if b.IsActive() && b.BidderID == bidderID && b.Amount.Equal(amount) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *fakeTx) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	count := 0
	for _, b := range tx.visibleBids(auctionID) {
		if !b.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (tx *fakeTx) CountSelfCancellations(ctx context.Context, auctionID, bidderID uuid.UUID) (int, error) {
	count := 0
	for _, b := range tx.visibleBids(auctionID) {
		if b.IsDeleted && b.BidderID == bidderID && b.DeletedByID != nil && *b.DeletedByID == bidderID {
			count++
		}
	}
	return count, nil
}

// The non-transactional reads run one-shot transactions against committed
// state, which is exactly what the SQL adapter does.

func (s *fakeStore) GetAuction(ctx context.Context, id uuid.UUID) (a *auction.Auction, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		a, err = tx.GetAuction(ctx, id)
		return err
	})
	return a, err
}

func (s *fakeStore) UpdateAuction(ctx context.Context, a *auction.Auction) error {
	return s.WithinTx(ctx, func(tx outbound.TxStore) error {
		return tx.UpdateAuction(ctx, a)
	})
}

func (s *fakeStore) InsertBid(ctx context.Context, b *bid.Bid) error {
	return s.WithinTx(ctx, func(tx outbound.TxStore) error {
		return tx.InsertBid(ctx, b)
	})
}

func (s *fakeStore) GetBid(ctx context.Context, id uuid.UUID) (b *bid.Bid, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		b, err = tx.GetBid(ctx, id)
		return err
	})
	return b, err
}

func (s *fakeStore) UpdateBid(ctx context.Context, b *bid.Bid) error {
	return s.WithinTx(ctx, func(tx outbound.TxStore) error {
		return tx.UpdateBid(ctx, b)
	})
}

func (s *fakeStore) DeleteBid(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	return s.WithinTx(ctx, func(tx outbound.TxStore) error {
		return tx.DeleteBid(ctx, id, expectedVersion)
	})
}

func (s *fakeStore) HighestActiveBid(ctx context.Context, auctionID uuid.UUID) (b *bid.Bid, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		b, err = tx.HighestActiveBid(ctx, auctionID)
		return err
	})
	return b, err
}

func (s *fakeStore) ActiveBidsBelow(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, excludeBidder uuid.UUID) (bids []*bid.Bid, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		bids, err = tx.ActiveBidsBelow(ctx, auctionID, amount, excludeBidder)
		return err
	})
	return bids, err
}

func (s *fakeStore) HasActiveBidAt(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (ok bool, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		ok, err = tx.HasActiveBidAt(ctx, auctionID, bidderID, amount)
		return err
	})
	return ok, err
}

func (s *fakeStore) CountBids(ctx context.Context, auctionID uuid.UUID) (n int, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		n, err = tx.CountBids(ctx, auctionID)
		return err
	})
	return n, err
}

func (s *fakeStore) CountSelfCancellations(ctx context.Context, auctionID, bidderID uuid.UUID) (n int, err error) {
	err = s.WithinTx(ctx, func(tx outbound.TxStore) error {
		n, err = tx.CountSelfCancellations(ctx, auctionID, bidderID)
		return err
	})
	return n, err
}

// fakeLocker hands out real per-key mutexes so concurrent test goroutines
// actually serialize. acquireErr forces every acquisition to fail.
type fakeLocker struct {
	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	acquireErr error
	acquired   int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string) (outbound.Lease, error) {
	l.mu.Lock()
	if l.acquireErr != nil {
		defer l.mu.Unlock()
		return nil, l.acquireErr
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.acquired++
	l.mu.Unlock()

	m.Lock()
	return &fakeLease{m: m}, nil
}

type fakeLease struct {
	m    *sync.Mutex
	once sync.Once
}

func (le *fakeLease) Release(ctx context.Context) error {
	le.once.Do(le.m.Unlock)
	return nil
}

// fakeBroadcaster records published events
type fakeBroadcaster struct {
	mu         sync.Mutex
	events     []outbound.Event
	userEvents map[uuid.UUID][]outbound.Event
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{userEvents: make(map[uuid.UUID][]outbound.Event)}
}

func (b *fakeBroadcaster) Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	return nil
}

func (b *fakeBroadcaster) SubscribeUser(ctx context.Context, userID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	return nil
}

func (b *fakeBroadcaster) Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error {
	return nil
}

func (b *fakeBroadcaster) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBroadcaster) PublishToUser(ctx context.Context, userID uuid.UUID, event outbound.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userEvents[userID] = append(b.userEvents[userID], event)
	return nil
}

func (b *fakeBroadcaster) IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool {
	return false
}

func (b *fakeBroadcaster) eventsOfType(t outbound.EventType) []outbound.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []outbound.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) userEventsOf(userID uuid.UUID) []outbound.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]outbound.Event(nil), b.userEvents[userID]...)
}

// fakeQueue records enqueued notifications
type fakeQueue struct {
	mu            sync.Mutex
	notifications []outbound.Notification
}

func (q *fakeQueue) Enqueue(ctx context.Context, n outbound.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifications = append(q.notifications, n)
	return nil
}

func (q *fakeQueue) all() []outbound.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]outbound.Notification(nil), q.notifications...)
}

// fakeScheduler records schedule calls
type fakeScheduler struct {
	mu          sync.Mutex
	ends        map[uuid.UUID]time.Time
	activations map[uuid.UUID]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		ends:        make(map[uuid.UUID]time.Time),
		activations: make(map[uuid.UUID]time.Time),
	}
}

func (s *fakeScheduler) ScheduleEnd(auctionID uuid.UUID, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends[auctionID] = endTime
	return nil
}

func (s *fakeScheduler) ScheduleActivation(auctionID uuid.UUID, startTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[auctionID] = startTime
	return nil
}

func (s *fakeScheduler) scheduledEnd(auctionID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ends[auctionID]
	return t, ok
}

// fakeUserRepo holds users keyed by ID
type fakeUserRepo struct {
	users map[uuid.UUID]*shared.User
}

func newFakeUserRepo(users ...*shared.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[uuid.UUID]*shared.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*shared.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, u *shared.User) error {
	r.users[u.ID] = u
	return nil
}

// fakeAuctionRepo serves auction CRUD off the fake store
type fakeAuctionRepo struct {
	store *fakeStore
}

func (r *fakeAuctionRepo) Create(ctx context.Context, a *auction.Auction) error {
	r.store.putAuction(a)
	return nil
}

func (r *fakeAuctionRepo) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	return r.store.GetAuction(ctx, id)
}

func (r *fakeAuctionRepo) List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*auction.Auction
	for _, a := range r.store.auctions {
		if status == nil || a.Status == *status {
			out = append(out, copyAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	start := (page - 1) * pageSize
	if start >= len(out) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (r *fakeAuctionRepo) Update(ctx context.Context, a *auction.Auction) error {
	return r.store.UpdateAuction(ctx, a)
}

// fakeBidRepo serves the read-side queries off the fake store
type fakeBidRepo struct {
	store *fakeStore
}

func (r *fakeBidRepo) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	return r.store.GetBid(ctx, id)
}

func (r *fakeBidRepo) GetByAuctionID(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	var out []*bid.Bid
	err := r.store.WithinTx(ctx, func(tx outbound.TxStore) error {
		ftx := tx.(*fakeTx)
		out = ftx.visibleBids(auctionID)
		return nil
	})
	return out, err
}

func (r *fakeBidRepo) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	b, err := r.store.HighestActiveBid(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, shared.ErrNoBidsFound
	}
	return b, nil
}
