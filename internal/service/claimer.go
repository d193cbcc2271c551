package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"pickup-service/internal/clock"
	"pickup-service/internal/models"
	"pickup-service/internal/store"
	"pickup-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BasketClaimer turns claimed suspended baskets into redeemed donation reservations
type BasketClaimer struct {
	store     BasketStore
	publisher EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewBasketClaimer creates a new basket claimer
func NewBasketClaimer(store BasketStore, publisher EventPublisher, clk clock.Clock) *BasketClaimer {
	return &BasketClaimer{
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    util.GetLogger(),
	}
}

// ClaimAndRedeem claims each basket for the beneficiary and redeems it.
//
// Baskets lost to another claimer, or whose lot sold out, are dropped and
// listed in the result's failures while the rest proceed. Ownership and store
// errors stop the batch. Baskets already redeemed stay redeemed: if any were,
// the stop is returned as a *models.BatchError alongside the result.
func (c *BasketClaimer) ClaimAndRedeem(ctx context.Context, merchantID, beneficiaryCode string, basketIDs []string) (_ models.RedemptionResult, err error) {
	ctx, span := util.StartSpan(ctx, "BasketClaimer.ClaimAndRedeem", merchantID,
		attribute.Int("selection.size", len(basketIDs)))
	defer func() { util.EndSpan(span, err) }()

	ids, err := NormalizeSelection(basketIDs)
	if err != nil {
		return models.RedemptionResult{}, err
	}

	beneficiary, err := resolveBeneficiary(ctx, c.store, beneficiaryCode)
	if err != nil {
		return models.RedemptionResult{}, err
	}

	var result models.RedemptionResult
	var claimed []string
	var firstErr error

	for _, basketID := range ids {
		reservation, err := c.claimOne(ctx, merchantID, beneficiary.ID, basketID)
		if err == nil {
			result.Redeemed = append(result.Redeemed, reservation)
			claimed = append(claimed, basketID)
			c.publishClaimed(ctx, merchantID, beneficiary.ID, basketID, reservation)
			continue
		}

		result.Failed = append(result.Failed, models.NewItemFailure(basketID, err))
		util.RedemptionFailuresTotal.WithLabelValues(models.ErrorCode(err)).Inc()

		if errors.Is(err, models.ErrAlreadyClaimed) || errors.Is(err, models.ErrLotUnavailable) {
			if errors.Is(err, models.ErrAlreadyClaimed) {
				util.BasketClaimConflictsTotal.Inc()
			}
			c.logger.Warn("Basket dropped from claim",
				zap.String("basket_id", basketID),
				zap.String("beneficiary_id", beneficiary.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		c.logger.Error("Basket claim stopped",
			zap.String("basket_id", basketID),
			zap.String("beneficiary_id", beneficiary.ID),
			zap.Strings("redeemed", result.RedeemedIDs()),
			zap.Error(err))
		if len(result.Redeemed) == 0 {
			return result, err
		}
		util.RedemptionsTotal.WithLabelValues("basket").Inc()
		return result, c.partial(ctx, merchantID, claimed, result.Failed)
	}

	c.logger.Info("Basket claim finished",
		zap.String("beneficiary_id", beneficiary.ID),
		zap.Int("redeemed", len(result.Redeemed)),
		zap.Int("dropped", len(result.Failed)))

	if len(result.Redeemed) == 0 {
		return result, firstErr
	}
	util.RedemptionsTotal.WithLabelValues("basket").Inc()
	return result, nil
}

func (c *BasketClaimer) claimOne(ctx context.Context, merchantID, beneficiaryID, basketID string) (models.Reservation, error) {
	pin, err := generatePin()
	if err != nil {
		return models.Reservation{}, err
	}

	return c.store.ClaimBasket(ctx, store.ClaimBasketParams{
		BasketID:      basketID,
		MerchantID:    merchantID,
		BeneficiaryID: beneficiaryID,
		ReservationID: uuid.New().String(),
		Pin:           pin,
		At:            c.clock.Now(),
	})
}

func (c *BasketClaimer) publishClaimed(ctx context.Context, merchantID, beneficiaryID, basketID string, reservation models.Reservation) {
	util.BasketsClaimedTotal.Inc()
	util.ReservationsCompletedTotal.Inc()
	util.UnitsHandedOverTotal.Add(float64(reservation.Quantity))

	now := c.clock.Now()
	event := &models.BasketClaimedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeBasketClaimed, now),
		BasketID:      basketID,
		BeneficiaryID: beneficiaryID,
		ReservationID: reservation.ID,
		LotID:         reservation.LotID,
		MerchantID:    merchantID,
	}
	if err := c.publisher.PublishBasketClaimed(ctx, event); err != nil {
		c.logger.Error("Failed to publish BasketClaimed event",
			zap.String("basket_id", basketID),
			zap.Error(err))
	}
	publishRedeemed(ctx, c.publisher, c.logger, merchantID, reservation, now)
}

// partial reports a stopped batch by basket id, matching the ids in failed.
func (c *BasketClaimer) partial(ctx context.Context, merchantID string, claimed []string, failed []models.ItemFailure) error {
	util.PartialBatchesTotal.Inc()
	batchErr := &models.BatchError{Succeeded: claimed, Failed: failed}

	event := &models.PartialBatchFailureEvent{
		BaseEvent:  newBaseEvent(models.EventTypePartialBatchFailure, c.clock.Now()),
		MerchantID: merchantID,
		Succeeded:  batchErr.Succeeded,
		Failed:     batchErr.Failed,
	}
	if err := c.publisher.PublishPartialBatchFailure(ctx, event); err != nil {
		c.logger.Error("Failed to publish PartialBatchFailure event", zap.Error(err))
	}
	return batchErr
}

// generatePin returns a random six-digit pickup PIN
func generatePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
