package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pickup-service/internal/models"
	"pickup-service/internal/scan"
	"pickup-service/internal/service"
	"pickup-service/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePickup struct {
	redeemReq   service.RedeemRequest
	claimReq    service.ClaimRequest
	contextErr  error
	redeemRes   models.RedemptionResult
	redeemErr   error
	basketsErr  error
	lastMerchID string
}

func (f *fakePickup) ResolveScan(ctx context.Context, raw string) (scan.Intent, error) {
	return scan.Resolve(raw)
}

func (f *fakePickup) LoadReservationContext(ctx context.Context, ref scan.ReservationRef, merchantID string) (*service.ReservationContext, error) {
	f.lastMerchID = merchantID
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	d := models.ReservationDetail{Reservation: models.Reservation{ID: ref.ReservationID}, MerchantID: merchantID}
	return &service.ReservationContext{
		Mode:         service.PickupModeSingle,
		Scanned:      d,
		Reservations: []models.ReservationDetail{d},
		Selected:     []string{ref.ReservationID},
	}, nil
}

func (f *fakePickup) LoadSuspendedBaskets(ctx context.Context, beneficiaryID, merchantID string) (*service.BasketSet, error) {
	if f.basketsErr != nil {
		return nil, f.basketsErr
	}
	return &service.BasketSet{Beneficiary: models.Profile{ID: beneficiaryID, Role: models.RoleBeneficiary}}, nil
}

func (f *fakePickup) Redeem(ctx context.Context, req service.RedeemRequest) (models.RedemptionResult, error) {
	f.redeemReq = req
	return f.redeemRes, f.redeemErr
}

func (f *fakePickup) ClaimAndRedeemBaskets(ctx context.Context, req service.ClaimRequest) (models.RedemptionResult, error) {
	f.claimReq = req
	return f.redeemRes, f.redeemErr
}

type fakeStations struct {
	confirmPin string
	confirmKey string
	err        error
}

func (f *fakeStations) result(station, merchant string, state session.State) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{StationID: station, MerchantID: merchant, State: state}, nil
}

func (f *fakeStations) Get(ctx context.Context, station, merchant string) (*session.Session, error) {
	return f.result(station, merchant, session.StateIdle)
}

func (f *fakeStations) Scan(ctx context.Context, station, merchant, raw string) (*session.Session, error) {
	return f.result(station, merchant, session.StateSingleReservation)
}

func (f *fakeStations) Toggle(ctx context.Context, station, merchant, id string) (*session.Session, error) {
	return f.result(station, merchant, session.StateMultiReservation)
}

func (f *fakeStations) EnterPin(ctx context.Context, station, merchant string) (*session.Session, error) {
	return f.result(station, merchant, session.StatePinEntry)
}

func (f *fakeStations) Confirm(ctx context.Context, station, merchant, pin, key string) (*session.Session, error) {
	f.confirmPin, f.confirmKey = pin, key
	return f.result(station, merchant, session.StateCompleted)
}

func (f *fakeStations) Recover(ctx context.Context, station, merchant string) (*session.Session, error) {
	return f.result(station, merchant, session.StateMultiReservation)
}

func (f *fakeStations) Abort(ctx context.Context, station, merchant string) (*session.Session, error) {
	return f.result(station, merchant, session.StateIdle)
}

func newRouter(pickup *fakePickup, stations *fakeStations, checks map[string]ReadinessCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(pickup, stations, checks).SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var merchant = map[string]string{merchantHeader: "m1"}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthAndReady(t *testing.T) {
	router := newRouter(&fakePickup{}, &fakeStations{}, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", "", nil).Code)

	router = newRouter(&fakePickup{}, &fakeStations{}, map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	})
	w := do(router, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

func TestMerchantHeaderRequired(t *testing.T) {
	router := newRouter(&fakePickup{}, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/scans", `{"raw":"ben-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestResolveScan(t *testing.T) {
	router := newRouter(&fakePickup{}, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/scans", `{"raw":"{\"reservationId\":\"r1\"}"}`, merchant)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reservation", decode(t, w)["kind"])

	w = do(router, http.MethodPost, "/api/v1/scans", `{"raw":"  "}`, merchant)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_payload", decode(t, w)["error"])
}

func TestReservationContext(t *testing.T) {
	pickup := &fakePickup{}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodGet, "/api/v1/reservations/r1/context", "", merchant)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m1", pickup.lastMerchID)
	assert.Equal(t, "single", decode(t, w)["mode"])

	pickup.contextErr = &models.ItemError{ID: "r1", Err: models.ErrForbidden}
	w = do(router, http.MethodGet, "/api/v1/reservations/r1/context", "", merchant)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSuspendedBaskets(t *testing.T) {
	pickup := &fakePickup{basketsErr: models.ErrNoAvailableBaskets}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodGet, "/api/v1/beneficiaries/b-1/baskets", "", merchant)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_available_baskets", decode(t, w)["error"])
}

func TestRedeem(t *testing.T) {
	pickup := &fakePickup{redeemRes: models.RedemptionResult{Redeemed: []models.Reservation{{ID: "r1"}}}}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/redemptions", `{"reservation_ids":["r1"],"pin":"123456"}`,
		map[string]string{merchantHeader: "m1", idempotencyHeader: "k-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m1", pickup.redeemReq.MerchantID)
	assert.Equal(t, "k-1", pickup.redeemReq.IdempotencyKey)
	assert.Equal(t, []string{"r1"}, pickup.redeemReq.ReservationIDs)

	w = do(router, http.MethodPost, "/api/v1/redemptions", `{"reservation_ids":[],"pin":"123456"}`, merchant)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRedeem_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: models.ErrPinMismatch, status: http.StatusUnauthorized, code: "pin_mismatch"},
		{err: &models.ItemError{ID: "r1", Err: models.ErrAlreadyRedeemed}, status: http.StatusConflict, code: "already_redeemed"},
		{err: &models.ItemError{ID: "r1", Err: models.ErrCancelled}, status: http.StatusConflict, code: "cancelled"},
		{err: &models.ItemError{ID: "r1", Err: models.ErrNotFound}, status: http.StatusNotFound, code: "not_found"},
		{err: models.ErrEmptySelection, status: http.StatusBadRequest, code: "empty_selection"},
		{err: errors.New("pq: connection refused"), status: http.StatusInternalServerError, code: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			router := newRouter(&fakePickup{redeemErr: tt.err}, &fakeStations{}, nil)
			w := do(router, http.MethodPost, "/api/v1/redemptions", `{"reservation_ids":["r1"],"pin":"1"}`, merchant)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body["error"])
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body["details"], "pq")
			}
		})
	}
}

func TestRedeem_PartialBatch(t *testing.T) {
	result := models.RedemptionResult{
		Redeemed: []models.Reservation{{ID: "r1"}},
		Failed:   []models.ItemFailure{{ID: "r2", Code: "cancelled"}},
	}
	pickup := &fakePickup{
		redeemRes: result,
		redeemErr: &models.BatchError{Succeeded: []string{"r1"}, Failed: result.Failed},
	}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/redemptions", `{"reservation_ids":["r1","r2"],"pin":"1"}`, merchant)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	body := decode(t, w)
	assert.Equal(t, "partial_batch_failure", body["error"])
	require.Contains(t, body, "result")
}

func TestClaimBaskets(t *testing.T) {
	pickup := &fakePickup{redeemRes: models.RedemptionResult{
		Redeemed: []models.Reservation{{ID: "d1", IsDonation: true}},
		Failed:   []models.ItemFailure{{ID: "bk2", Code: "already_claimed"}},
	}}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/beneficiaries/b-1/claims", `{"basket_ids":["bk1","bk2"]}`, merchant)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b-1", pickup.claimReq.BeneficiaryID)
	assert.Equal(t, "m1", pickup.claimReq.MerchantID)
	assert.Len(t, decode(t, w)["failed"], 1)
}

func TestClaimBaskets_StoppedBatchReportsRedeemed(t *testing.T) {
	failed := []models.ItemFailure{{ID: "bk2", Code: "forbidden"}}
	pickup := &fakePickup{
		redeemRes: models.RedemptionResult{Redeemed: []models.Reservation{{ID: "d1", IsDonation: true}}, Failed: failed},
		redeemErr: &models.BatchError{Succeeded: []string{"bk1"}, Failed: failed},
	}
	router := newRouter(pickup, &fakeStations{}, nil)

	w := do(router, http.MethodPost, "/api/v1/beneficiaries/b-1/claims", `{"basket_ids":["bk1","bk2"]}`, merchant)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	body := decode(t, w)
	assert.Equal(t, "partial_batch_failure", body["error"])
	assert.Contains(t, body["details"], "bk2=forbidden")

	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, result["redeemed"], 1)
	assert.Len(t, result["failed"], 1)
}

func TestStationRoutes(t *testing.T) {
	stations := &fakeStations{}
	router := newRouter(&fakePickup{}, stations, nil)

	routes := []struct {
		method string
		path   string
		body   string
		state  session.State
	}{
		{http.MethodGet, "/api/v1/stations/st-1", "", session.StateIdle},
		{http.MethodPost, "/api/v1/stations/st-1/scan", `{"raw":"ben-1"}`, session.StateSingleReservation},
		{http.MethodPost, "/api/v1/stations/st-1/toggle", `{"id":"r2"}`, session.StateMultiReservation},
		{http.MethodPost, "/api/v1/stations/st-1/pin", "", session.StatePinEntry},
		{http.MethodPost, "/api/v1/stations/st-1/confirm", `{"pin":"123456"}`, session.StateCompleted},
		{http.MethodPost, "/api/v1/stations/st-1/recover", "", session.StateMultiReservation},
		{http.MethodPost, "/api/v1/stations/st-1/abort", "", session.StateIdle},
	}

	for _, r := range routes {
		t.Run(r.path, func(t *testing.T) {
			w := do(router, r.method, r.path, r.body, merchant)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, string(r.state), body["state"])
			assert.Equal(t, "st-1", body["station_id"])
		})
	}
	assert.Equal(t, "123456", stations.confirmPin)

	w := do(router, http.MethodPost, "/api/v1/stations/st-1/toggle", `{}`, merchant)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStationInvalidTransition(t *testing.T) {
	router := newRouter(&fakePickup{}, &fakeStations{err: models.ErrInvalidTransition}, nil)

	w := do(router, http.MethodPost, "/api/v1/stations/st-1/pin", "", merchant)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode(t, w)["error"])
}
