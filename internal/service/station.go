package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pickup-service/internal/clock"
	"pickup-service/internal/models"
	"pickup-service/internal/redisclient"
	"pickup-service/internal/scan"
	"pickup-service/internal/session"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

// commitSaveAttempts bounds the saves of a session whose redemption already ran.
const commitSaveAttempts = 3

// PickupCore is the redemption surface a station drives
type PickupCore interface {
	ResolveScan(ctx context.Context, raw string) (scan.Intent, error)
	LoadReservationContext(ctx context.Context, ref scan.ReservationRef, merchantID string) (*ReservationContext, error)
	LoadSuspendedBaskets(ctx context.Context, beneficiaryID, merchantID string) (*BasketSet, error)
	Redeem(ctx context.Context, req RedeemRequest) (models.RedemptionResult, error)
	ClaimAndRedeemBaskets(ctx context.Context, req ClaimRequest) (models.RedemptionResult, error)
}

// StationService runs the pickup state machine for counter stations,
// persisting each station's session between requests
type StationService struct {
	core       PickupCore
	sessions   SessionStore
	clock      clock.Clock
	resetAfter time.Duration
	ttl        time.Duration
	logger     *zap.Logger
}

// NewStationService creates a new station service
func NewStationService(core PickupCore, sessions SessionStore, clk clock.Clock, resetAfter, ttl time.Duration) *StationService {
	return &StationService{
		core:       core,
		sessions:   sessions,
		clock:      clk,
		resetAfter: resetAfter,
		ttl:        ttl,
		logger:     util.GetLogger(),
	}
}

// Get returns the station's current session, applying any pending reset
func (s *StationService) Get(ctx context.Context, stationID, merchantID string) (*session.Session, error) {
	sess, err := s.load(ctx, stationID, merchantID)
	if err != nil {
		return nil, err
	}
	if sess.Refresh(s.clock.Now()) {
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Scan starts a new flow from a scanned string and loads what the counter shows
func (s *StationService) Scan(ctx context.Context, stationID, merchantID, raw string) (*session.Session, error) {
	sess, err := s.load(ctx, stationID, merchantID)
	if err != nil {
		return nil, err
	}

	intent, err := s.core.ResolveScan(ctx, raw)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sess.Refresh(now)
	if err := sess.Scan(intent, now); err != nil {
		return nil, err
	}

	switch intent.Kind {
	case scan.KindReservation:
		rc, lookupErr := s.core.LoadReservationContext(ctx, *intent.Reservation, merchantID)
		if lookupErr == nil {
			err = sess.PresentReservations(rc.Reservations, rc.Scanned.ID, now)
		} else {
			err = sess.Reject(lookupErr, now)
		}
	case scan.KindBeneficiary:
		set, lookupErr := s.core.LoadSuspendedBaskets(ctx, intent.BeneficiaryID, merchantID)
		if lookupErr == nil {
			err = sess.PresentBaskets(set.Baskets, now)
		} else {
			err = sess.Reject(lookupErr, now)
		}
	default:
		err = sess.Reject(models.ErrInvalidPayload, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Toggle adds or removes a candidate from the station's selection
func (s *StationService) Toggle(ctx context.Context, stationID, merchantID, id string) (*session.Session, error) {
	return s.mutate(ctx, stationID, merchantID, func(sess *session.Session, now time.Time) error {
		return sess.Toggle(id, now)
	})
}

// EnterPin moves a reservation flow to PIN entry
func (s *StationService) EnterPin(ctx context.Context, stationID, merchantID string) (*session.Session, error) {
	return s.mutate(ctx, stationID, merchantID, func(sess *session.Session, now time.Time) error {
		return sess.EnterPin(now)
	})
}

// Recover leaves the error state
func (s *StationService) Recover(ctx context.Context, stationID, merchantID string) (*session.Session, error) {
	return s.mutate(ctx, stationID, merchantID, func(sess *session.Session, now time.Time) error {
		return sess.Recover(now)
	})
}

// Abort abandons the station's flow
func (s *StationService) Abort(ctx context.Context, stationID, merchantID string) (*session.Session, error) {
	return s.mutate(ctx, stationID, merchantID, func(sess *session.Session, now time.Time) error {
		return sess.Abort(now)
	})
}

// Confirm commits the frozen selection. The Validating state is persisted
// before any write, so a concurrent confirm on the same station loses the
// version race instead of redeeming twice. Redemption failures are recorded
// on the session rather than returned. If the outcome cannot be saved the
// session stays Validating until session.ValidatingTimeout, after which
// Refresh moves it to the error state.
func (s *StationService) Confirm(ctx context.Context, stationID, merchantID, pin, idempotencyKey string) (*session.Session, error) {
	sess, err := s.load(ctx, stationID, merchantID)
	if err != nil {
		return nil, err
	}
	sess.Refresh(s.clock.Now())

	selection, err := sess.BeginValidation(s.clock.Now())
	if err != nil {
		if errors.Is(err, models.ErrEmptySelection) {
			if saveErr := s.save(ctx, sess); saveErr != nil {
				return nil, saveErr
			}
		}
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, sess, selection, pin, idempotencyKey)

	now := s.clock.Now()
	var batchErr *models.BatchError
	if err == nil || errors.As(err, &batchErr) {
		err = sess.Complete(result, now, s.resetAfter)
	} else {
		s.logger.Warn("Station redemption failed",
			zap.String("station_id", stationID),
			zap.String("merchant_id", merchantID),
			zap.Error(err))
		err = sess.Fail(err, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.saveOutcome(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// saveOutcome retries the save that follows a redemption. A version conflict
// is not retried: another writer owns the session now.
func (s *StationService) saveOutcome(ctx context.Context, sess *session.Session) error {
	var err error
	for attempt := 1; attempt <= commitSaveAttempts; attempt++ {
		if err = s.save(ctx, sess); err == nil {
			return nil
		}
		if errors.Is(err, models.ErrInvalidTransition) || ctx.Err() != nil {
			break
		}
		s.logger.Warn("Retrying station session save",
			zap.String("station_id", sess.StationID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	var redeemed []string
	if sess.Result != nil {
		redeemed = sess.Result.RedeemedIDs()
	}
	s.logger.Error("Redemption ran but station session not saved",
		zap.String("station_id", sess.StationID),
		zap.String("merchant_id", sess.MerchantID),
		zap.String("state", string(sess.State)),
		zap.Strings("redeemed_ids", redeemed),
		zap.Error(err))
	return err
}

func (s *StationService) execute(ctx context.Context, sess *session.Session, selection []string, pin, idempotencyKey string) (models.RedemptionResult, error) {
	if sess.Intent == nil {
		return models.RedemptionResult{}, models.ErrInvalidPayload
	}
	switch sess.Intent.Kind {
	case scan.KindReservation:
		return s.core.Redeem(ctx, RedeemRequest{
			MerchantID:     sess.MerchantID,
			ReservationIDs: selection,
			Pin:            pin,
			IdempotencyKey: idempotencyKey,
		})
	case scan.KindBeneficiary:
		return s.core.ClaimAndRedeemBaskets(ctx, ClaimRequest{
			MerchantID:    sess.MerchantID,
			BeneficiaryID: sess.Intent.BeneficiaryID,
			BasketIDs:     selection,
		})
	default:
		return models.RedemptionResult{}, models.ErrInvalidPayload
	}
}

func (s *StationService) mutate(ctx context.Context, stationID, merchantID string, fn func(*session.Session, time.Time) error) (*session.Session, error) {
	sess, err := s.load(ctx, stationID, merchantID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess.Refresh(now)
	if err := fn(sess, now); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *StationService) load(ctx context.Context, stationID, merchantID string) (*session.Session, error) {
	payload, version, found, err := s.sessions.LoadSession(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found {
		return session.New(stationID, merchantID, s.clock.Now()), nil
	}

	var sess session.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.Version = version

	if sess.MerchantID != merchantID {
		return nil, &models.ItemError{ID: stationID, Err: models.ErrForbidden}
	}
	return &sess, nil
}

func (s *StationService) save(ctx context.Context, sess *session.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	version, err := s.sessions.SaveSession(ctx, sess.StationID, sess.Version, payload, s.ttl)
	if err != nil {
		if errors.Is(err, redisclient.ErrVersionConflict) {
			util.SessionConflictsTotal.Inc()
			s.logger.Warn("Station session changed concurrently",
				zap.String("station_id", sess.StationID),
				zap.Int64("version", sess.Version))
			return fmt.Errorf("station %s: %w", sess.StationID, models.ErrInvalidTransition)
		}
		return fmt.Errorf("failed to save session: %w", err)
	}
	sess.Version = version
	return nil
}
