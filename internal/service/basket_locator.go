package service

import (
	"context"
	"errors"
	"fmt"

	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

// BasketSet is the set of suspended baskets a beneficiary can take at a merchant
type BasketSet struct {
	Beneficiary models.Profile        `json:"beneficiary"`
	Baskets     []models.BasketDetail `json:"baskets"`
}

// BasketLocator finds claimable suspended baskets for a beneficiary scan
type BasketLocator struct {
	store  BasketStore
	logger *zap.Logger
}

// NewBasketLocator creates a new basket locator
func NewBasketLocator(store BasketStore) *BasketLocator {
	return &BasketLocator{
		store:  store,
		logger: util.GetLogger(),
	}
}

// LoadSuspendedBaskets checks the code belongs to a beneficiary and lists baskets whose lot still has stock
func (l *BasketLocator) LoadSuspendedBaskets(ctx context.Context, beneficiaryCode, merchantID string) (_ *BasketSet, err error) {
	ctx, span := util.StartSpan(ctx, "BasketLocator.LoadSuspendedBaskets", merchantID)
	defer func() { util.EndSpan(span, err) }()

	beneficiary, err := resolveBeneficiary(ctx, l.store, beneficiaryCode)
	if err != nil {
		return nil, err
	}

	all, err := l.store.ListUnclaimedBaskets(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list baskets: %w", err)
	}

	baskets := make([]models.BasketDetail, 0, len(all))
	for _, b := range all {
		if b.Claimable() {
			baskets = append(baskets, b)
		}
	}

	l.logger.Info("Suspended baskets located",
		zap.String("beneficiary_id", beneficiary.ID),
		zap.String("merchant_id", merchantID),
		zap.Int("unclaimed", len(all)),
		zap.Int("claimable", len(baskets)))

	if len(baskets) == 0 {
		return nil, models.ErrNoAvailableBaskets
	}

	return &BasketSet{Beneficiary: *beneficiary, Baskets: baskets}, nil
}

// resolveBeneficiary maps a scan code to a profile that may claim baskets.
// Any other role is reported as not found.
func resolveBeneficiary(ctx context.Context, store BasketStore, code string) (*models.Profile, error) {
	profile, err := store.GetProfileByScanCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.ItemError{ID: code, Err: models.ErrNotFound}
		}
		return nil, fmt.Errorf("failed to resolve beneficiary: %w", err)
	}
	if !profile.Role.CanClaimBaskets() {
		return nil, &models.ItemError{ID: code, Err: models.ErrNotFound}
	}
	return profile, nil
}
