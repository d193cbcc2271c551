package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/redisclient"
	"pickup-service/internal/store"
)

// fakeStore keeps lots, reservations, baskets and profiles in memory and
// applies the same guarded updates the Postgres store does.
type fakeStore struct {
	mu           sync.Mutex
	lots         map[string]*models.Lot
	reservations map[string]*models.Reservation
	baskets      map[string]*models.SuspendedBasket
	profiles     map[string]*models.Profile

	completeErr error
	claimErr    map[string]error
	completes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lots:         map[string]*models.Lot{},
		reservations: map[string]*models.Reservation{},
		baskets:      map[string]*models.SuspendedBasket{},
		profiles:     map[string]*models.Profile{},
		claimErr:     map[string]error{},
	}
}

func (f *fakeStore) addLot(id, merchantID string, total, reserved, sold int) {
	f.lots[id] = &models.Lot{
		ID:               id,
		MerchantID:       merchantID,
		Title:            "lot " + id,
		QuantityTotal:    total,
		QuantityReserved: reserved,
		QuantitySold:     sold,
		Status:           models.LotStatusAvailable,
	}
}

func (f *fakeStore) addReservation(id, lotID, userID string, qty int, pin string, status models.ReservationStatus) {
	f.reservations[id] = &models.Reservation{
		ID:        id,
		LotID:     lotID,
		UserID:    userID,
		Quantity:  qty,
		PickupPin: pin,
		Status:    status,
		CreatedAt: time.Date(2026, 1, 1, 9, 0, len(f.reservations), 0, time.UTC),
	}
}

func (f *fakeStore) addBasket(id, merchantID, lotID string) {
	lot := lotID
	f.baskets[id] = &models.SuspendedBasket{
		ID:         id,
		MerchantID: merchantID,
		LotID:      &lot,
		Amount:     500,
		Status:     models.BasketStatusAvailable,
		CreatedAt:  time.Date(2026, 1, 1, 8, 0, len(f.baskets), 0, time.UTC),
	}
}

func (f *fakeStore) addProfile(id string, role models.Role) {
	code := "code-" + id
	f.profiles[id] = &models.Profile{ID: id, Role: role, DisplayName: id, BeneficiaryCode: &code}
}

func (f *fakeStore) lot(id string) models.Lot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.lots[id]
}

func (f *fakeStore) status(id string) models.ReservationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reservations[id].Status
}

func (f *fakeStore) detail(r *models.Reservation) models.ReservationDetail {
	d := models.ReservationDetail{Reservation: *r}
	if lot, ok := f.lots[r.LotID]; ok {
		d.MerchantID = lot.MerchantID
		d.LotTitle = lot.Title
	}
	return d
}

func (f *fakeStore) GetReservationDetail(ctx context.Context, id string) (*models.ReservationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, &models.ItemError{ID: id, Err: models.ErrNotFound}
	}
	d := f.detail(r)
	return &d, nil
}

func (f *fakeStore) GetReservationDetails(ctx context.Context, ids []string) ([]models.ReservationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReservationDetail
	for _, id := range ids {
		if r, ok := f.reservations[id]; ok {
			out = append(out, f.detail(r))
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveReservations(ctx context.Context, userID, merchantID string) ([]models.ReservationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReservationDetail
	for _, r := range f.reservations {
		d := f.detail(r)
		if r.UserID == userID && d.MerchantID == merchantID && r.Status.Active() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) CompleteReservations(ctx context.Context, merchantID string, ids []string, at time.Time) ([]models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	if f.completeErr != nil {
		return nil, f.completeErr
	}

	// Validate the whole batch first so a failure leaves nothing applied.
	for _, id := range ids {
		if err := f.checkCompletable(merchantID, id); err != nil {
			return nil, err
		}
	}

	completed := make([]models.Reservation, 0, len(ids))
	for _, id := range ids {
		completed = append(completed, f.complete(id, at))
	}
	return completed, nil
}

func (f *fakeStore) checkCompletable(merchantID, id string) error {
	r, ok := f.reservations[id]
	if !ok {
		return &models.ItemError{ID: id, Err: models.ErrNotFound}
	}
	lot := f.lots[r.LotID]
	switch {
	case lot == nil || lot.MerchantID != merchantID:
		return &models.ItemError{ID: id, Err: models.ErrForbidden}
	case r.Status == models.ReservationStatusCancelled:
		return &models.ItemError{ID: id, Err: models.ErrCancelled}
	case r.Status == models.ReservationStatusCompleted:
		return &models.ItemError{ID: id, Err: models.ErrAlreadyRedeemed}
	case lot.QuantityReserved < r.Quantity:
		return &models.ItemError{ID: id, Err: models.ErrLedgerConflict}
	}
	return nil
}

func (f *fakeStore) complete(id string, at time.Time) models.Reservation {
	r := f.reservations[id]
	lot := f.lots[r.LotID]
	r.Status = models.ReservationStatusCompleted
	completedAt := at
	r.CompletedAt = &completedAt
	r.UpdatedAt = at
	lot.QuantityReserved -= r.Quantity
	lot.QuantitySold += r.Quantity
	return *r
}

func (f *fakeStore) GetProfileByScanCode(ctx context.Context, code string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[code]; ok {
		cp := *p
		return &cp, nil
	}
	for _, p := range f.profiles {
		if p.BeneficiaryCode != nil && *p.BeneficiaryCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) ListUnclaimedBaskets(ctx context.Context, merchantID string) ([]models.BasketDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BasketDetail
	for _, b := range f.baskets {
		if b.MerchantID != merchantID || b.Status != models.BasketStatusAvailable || b.ClaimedBy != nil {
			continue
		}
		d := models.BasketDetail{SuspendedBasket: *b}
		if b.LotID != nil {
			if lot, ok := f.lots[*b.LotID]; ok {
				cp := *lot
				d.Lot = &cp
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ClaimBasket(ctx context.Context, p store.ClaimBasketParams) (models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claimErr[p.BasketID]; err != nil {
		return models.Reservation{}, err
	}

	b, ok := f.baskets[p.BasketID]
	switch {
	case !ok:
		return models.Reservation{}, &models.ItemError{ID: p.BasketID, Err: models.ErrNotFound}
	case b.MerchantID != p.MerchantID:
		return models.Reservation{}, &models.ItemError{ID: p.BasketID, Err: models.ErrForbidden}
	case b.ClaimedBy != nil:
		return models.Reservation{}, &models.ItemError{ID: p.BasketID, Err: models.ErrAlreadyClaimed}
	case b.LotID == nil:
		return models.Reservation{}, &models.ItemError{ID: p.BasketID, Err: models.ErrLotUnavailable}
	}

	lot := f.lots[*b.LotID]
	if lot == nil || lot.Status != models.LotStatusAvailable || lot.QuantityAvailable() < 1 {
		return models.Reservation{}, &models.ItemError{ID: p.BasketID, Err: models.ErrLotUnavailable}
	}

	claimedBy := p.BeneficiaryID
	at := p.At
	b.ClaimedBy = &claimedBy
	b.ClaimedAt = &at
	b.Status = models.BasketStatusClaimed

	lot.QuantityReserved++
	f.reservations[p.ReservationID] = &models.Reservation{
		ID:         p.ReservationID,
		LotID:      lot.ID,
		UserID:     p.BeneficiaryID,
		Quantity:   1,
		PickupPin:  p.Pin,
		Status:     models.ReservationStatusConfirmed,
		IsDonation: true,
		CreatedAt:  p.At,
	}
	r := f.complete(p.ReservationID, p.At)
	if lot.QuantityAvailable() == 0 {
		lot.Status = models.LotStatusSoldOut
	}
	return r, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	redeemed []*models.ReservationRedeemedEvent
	claimed  []*models.BasketClaimedEvent
	partial  []*models.PartialBatchFailureEvent
	err      error
}

func (p *fakePublisher) PublishReservationRedeemed(ctx context.Context, event *models.ReservationRedeemedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redeemed = append(p.redeemed, event)
	return p.err
}

func (p *fakePublisher) PublishBasketClaimed(ctx context.Context, event *models.BasketClaimedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimed = append(p.claimed, event)
	return p.err
}

func (p *fakePublisher) PublishPartialBatchFailure(ctx context.Context, event *models.PartialBatchFailureEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial = append(p.partial, event)
	return p.err
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string][]byte{}}
}

func (c *fakeCache) GetIdempotentResult(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) SetIdempotentResult(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.values[key] = value
	}
	return nil
}

type storedSession struct {
	payload []byte
	version int64
}

// fakeSessions mirrors the versioned compare-and-set of the Redis session store.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]storedSession
	loadErr  error
	// saveErrs fail upcoming saves in order; a nil entry lets that save through.
	saveErrs []error
	saves    int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]storedSession{}}
}

func (s *fakeSessions) LoadSession(ctx context.Context, stationID string) ([]byte, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, 0, false, s.loadErr
	}
	stored, ok := s.sessions[stationID]
	return stored.payload, stored.version, ok, nil
}

func (s *fakeSessions) SaveSession(ctx context.Context, stationID string, expectedVersion int64, payload []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	current := s.sessions[stationID]
	if current.version != expectedVersion {
		return 0, redisclient.ErrVersionConflict
	}
	next := current.version + 1
	s.sessions[stationID] = storedSession{payload: payload, version: next}
	return next, nil
}

// bump simulates another writer saving the station's session.
func (s *fakeSessions) bump(stationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.sessions[stationID]
	stored.version++
	s.sessions[stationID] = stored
}

var errStoreDown = errors.New("connection refused")
