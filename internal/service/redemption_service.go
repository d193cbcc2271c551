package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pickup-service/config"
	"pickup-service/internal/clock"
	"pickup-service/internal/models"
	"pickup-service/internal/scan"
	"pickup-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultIdempotencyTTL = 24 * time.Hour

// RedemptionService is the pickup counter's entry point into the redemption core
type RedemptionService struct {
	store          ReservationStore
	matcher        *ReservationMatcher
	locator        *BasketLocator
	reconciler     *InventoryReconciler
	claimer        *BasketClaimer
	cache          IdempotencyCache
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

type RedemptionServiceOption func(*RedemptionService)

// WithIdempotencyCache remembers successful redemptions by client key
func WithIdempotencyCache(cache IdempotencyCache, ttl time.Duration) RedemptionServiceOption {
	return func(s *RedemptionService) {
		s.cache = cache
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(
	store RedemptionStore,
	publisher EventPublisher,
	clk clock.Clock,
	batchMode string,
	opts ...RedemptionServiceOption,
) *RedemptionService {
	svc := &RedemptionService{
		store:          store,
		matcher:        NewReservationMatcher(store),
		locator:        NewBasketLocator(store),
		reconciler:     NewInventoryReconciler(store, publisher, clk, batchMode),
		claimer:        NewBasketClaimer(store, publisher, clk),
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         util.GetLogger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewRedemptionServiceFromConfig wires the service with the configured batch mode and cache TTL
func NewRedemptionServiceFromConfig(cfg config.BusinessConfig, store RedemptionStore, publisher EventPublisher, cache IdempotencyCache, clk clock.Clock) *RedemptionService {
	return NewRedemptionService(store, publisher, clk, cfg.BatchMode,
		WithIdempotencyCache(cache, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second))
}

// ResolveScan classifies a scanned string
func (s *RedemptionService) ResolveScan(ctx context.Context, raw string) (scan.Intent, error) {
	intent, err := scan.Resolve(raw)
	if err != nil {
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		return scan.Intent{}, err
	}
	util.ScansResolvedTotal.WithLabelValues(string(intent.Kind)).Inc()
	return intent, nil
}

// LoadReservationContext returns the scanned reservation and its multi-pickup siblings
func (s *RedemptionService) LoadReservationContext(ctx context.Context, ref scan.ReservationRef, merchantID string) (*ReservationContext, error) {
	return s.matcher.LoadReservationContext(ctx, ref, merchantID)
}

// LoadSuspendedBaskets returns the baskets a beneficiary may claim at the merchant
func (s *RedemptionService) LoadSuspendedBaskets(ctx context.Context, beneficiaryID, merchantID string) (*BasketSet, error) {
	return s.locator.LoadSuspendedBaskets(ctx, beneficiaryID, merchantID)
}

// RedeemRequest is a confirmed selection of reservations with the entered PIN
type RedeemRequest struct {
	MerchantID     string   `json:"-"`
	ReservationIDs []string `json:"reservation_ids" binding:"required,min=1"`
	Pin            string   `json:"pin" binding:"required"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// Redeem validates the selection and PIN, then completes every selected reservation
func (s *RedemptionService) Redeem(ctx context.Context, req RedeemRequest) (_ models.RedemptionResult, err error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Redeem", req.MerchantID,
		attribute.Int("selection.size", len(req.ReservationIDs)))
	defer func() { util.EndSpan(span, err) }()

	if cached, ok := s.cachedResult(ctx, req); ok {
		s.logger.Info("Duplicate redemption request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Strings("reservation_ids", cached.RedeemedIDs()))
		return cached, nil
	}

	ids, err := NormalizeSelection(req.ReservationIDs)
	if err != nil {
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		return models.RedemptionResult{}, err
	}

	selection, err := s.loadSelection(ctx, ids)
	if err != nil {
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		return models.RedemptionResult{}, err
	}

	if err := ValidateRedemption(selection, req.MerchantID, req.Pin); err != nil {
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()
		s.logger.Warn("Redemption rejected",
			zap.String("merchant_id", req.MerchantID),
			zap.Strings("reservation_ids", ids),
			zap.Error(err))
		return models.RedemptionResult{}, err
	}

	result, err := s.reconciler.Reconcile(ctx, req.MerchantID, ids)
	if err == nil {
		s.storeResult(ctx, req, result)
	}
	return result, err
}

// ClaimRequest is a beneficiary's confirmed basket selection
type ClaimRequest struct {
	MerchantID    string   `json:"-"`
	BeneficiaryID string   `json:"-"`
	BasketIDs     []string `json:"basket_ids" binding:"required,min=1"`
}

// ClaimAndRedeemBaskets claims and redeems the selected suspended baskets
func (s *RedemptionService) ClaimAndRedeemBaskets(ctx context.Context, req ClaimRequest) (models.RedemptionResult, error) {
	return s.claimer.ClaimAndRedeem(ctx, req.MerchantID, req.BeneficiaryID, req.BasketIDs)
}

// loadSelection fetches every selected reservation in selection order
func (s *RedemptionService) loadSelection(ctx context.Context, ids []string) ([]models.ReservationDetail, error) {
	details, err := s.store.GetReservationDetails(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load selection: %w", err)
	}

	byID := make(map[string]models.ReservationDetail, len(details))
	for _, d := range details {
		byID[d.ID] = d
	}

	selection := make([]models.ReservationDetail, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, &models.ItemError{ID: id, Err: models.ErrNotFound}
		}
		selection = append(selection, d)
	}
	return selection, nil
}

func idempotencyKey(req RedeemRequest) string {
	return req.MerchantID + ":" + req.IdempotencyKey
}

func (s *RedemptionService) cachedResult(ctx context.Context, req RedeemRequest) (models.RedemptionResult, bool) {
	if s.cache == nil || req.IdempotencyKey == "" {
		return models.RedemptionResult{}, false
	}

	raw, found, err := s.cache.GetIdempotentResult(ctx, idempotencyKey(req))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return models.RedemptionResult{}, false
	}
	if !found {
		return models.RedemptionResult{}, false
	}

	var result models.RedemptionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("Discarding unreadable idempotent result", zap.Error(err))
		return models.RedemptionResult{}, false
	}
	return result, true
}

func (s *RedemptionService) storeResult(ctx context.Context, req RedeemRequest, result models.RedemptionResult) {
	if s.cache == nil || req.IdempotencyKey == "" {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to encode redemption result", zap.Error(err))
		return
	}
	if err := s.cache.SetIdempotentResult(ctx, idempotencyKey(req), raw, s.idempotencyTTL); err != nil {
		s.logger.Error("Failed to store idempotent result", zap.Error(err))
	}
}
