// Package modules implements the command/query HTTP surface mounted by
// rpc/server: one JSON handler per spec §6 operation, translating
// native/market.Engine's typed returns and error taxonomy into JSON
// responses and ModuleError status codes.
package modules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"marketd/crypto"
	"marketd/native/market"
	"marketd/observability"
)

const moduleName = "market"

// MarketModule mounts the command/query surface for every configured
// market, keyed by its symbol (e.g. "BTC-USD").
type MarketModule struct {
	engines map[string]*market.Engine
	archive map[string]*market.Archive
	metrics *observability.MarketdMetrics
}

// NewMarketModule constructs a module over the given symbol -> engine set.
func NewMarketModule(engines map[string]*market.Engine, archives map[string]*market.Archive) *MarketModule {
	return &MarketModule{engines: engines, archive: archives, metrics: observability.Marketd()}
}

// Routes returns the chi router to mount under e.g. "/markets". requireScope
// returns middleware enforcing the named JWT scope (rpc/server/auth.go),
// gating the two privileged commands SetPrice and SetShutdown. eventsHandler
// serves the optional live event websocket (rpc/server/events.go); a nil
// eventsHandler simply omits the route.
func (m *MarketModule) Routes(requireScope func(scope string) func(http.Handler) http.Handler, eventsHandler http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Route("/{symbol}", func(r chi.Router) {
		r.Post("/positions", m.openPosition)
		r.Get("/positions", m.positionsByOwner)
		r.Get("/positions/{id}", m.getPosition)
		r.Post("/positions/{id}/update", m.updatePosition)
		r.Post("/positions/{id}/close", m.closePosition)
		r.Post("/orders/{id}/cancel", m.cancelLimitOrder)
		r.Post("/liquidity/deposit", m.depositLiquidity)
		r.Post("/liquidity/withdraw", m.withdrawLp)
		r.Post("/liquidity/stake", m.stakeLp)
		r.Post("/liquidity/unstake", m.unstakeXlp)
		r.Post("/liquidity/collect-unstaked", m.collectUnstaked)
		r.Post("/liquidity/collect-yield", m.collectYield)
		r.Post("/crank", m.crank)
		r.Get("/crank/available", m.crankAvailable)
		r.Get("/status", m.status)
		r.Get("/lp/{holder}", m.lpInfo)
		r.Get("/price", m.priceAt)
		r.Get("/price/trigger", m.priceTrigger)
		r.With(requireScope("price:write")).Post("/price", m.setPrice)
		r.With(requireScope("admin:shutdown")).Post("/shutdown", m.setShutdown)
		if eventsHandler != nil {
			r.Get("/events", eventsHandler)
		}
	})
	return r
}

func (m *MarketModule) engine(symbol string) (*market.Engine, *ModuleError) {
	e, ok := m.engines[symbol]
	if !ok {
		return nil, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeInvalidParams, Message: "unknown market " + symbol}
	}
	return e, nil
}

func now() int64 { return time.Now().Unix() }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, method string, err error) {
	status, code := errorStatus(err)
	observability.ModuleMetrics().Observe(moduleName, method, status, 0)
	writeJSON(w, status, &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()})
}

// errorStatus maps the engine's error taxonomy (spec §7) onto HTTP status
// codes: validation/admission failures are 400s the caller can fix by
// resubmitting, staleness and shutdown are 409s describing transient
// protocol state, and anything unrecognized is a 500.
func errorStatus(err error) (int, int) {
	var shutdownErr *market.ErrShutdownActive
	switch {
	case errors.As(err, &shutdownErr):
		return http.StatusConflict, codeServerError
	case errors.Is(err, market.ErrPriceTooOld), errors.Is(err, market.ErrProtocolStale):
		return http.StatusConflict, codeServerError
	case errors.Is(err, market.ErrPositionNotFound):
		return http.StatusNotFound, codeInvalidParams
	case errors.Is(err, market.ErrNotPositionOwner):
		return http.StatusForbidden, codeInvalidParams
	case errors.Is(err, market.ErrInsufficientUnlockedLiquidity),
		errors.Is(err, market.ErrInsufficientCollateral),
		errors.Is(err, market.ErrLiquidationMargin),
		errors.Is(err, market.ErrLeverageOutOfRange),
		errors.Is(err, market.ErrBelowMinDeposit),
		errors.Is(err, market.ErrSlippageExceeded),
		errors.Is(err, market.ErrDeltaNeutralityCap),
		errors.Is(err, market.ErrPositionAlreadyClosed),
		errors.Is(err, market.ErrResetEpochMismatch),
		errors.Is(err, errInvalidDecimal):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

var errInvalidDecimal = errors.New("invalid decimal")

func parseDecimal(s string) (market.Decimal, error) {
	if s == "" {
		return market.Zero(), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return market.Decimal{}, fmt.Errorf("%w: %s", errInvalidDecimal, s)
	}
	return market.DecimalFromRat(r)
}

func parseOwner(s string) (crypto.Address, error) { return crypto.DecodeAddress(s) }

type openPositionRequest struct {
	Owner          string  `json:"owner"`
	Collateral     string  `json:"collateral"`
	Leverage       string  `json:"leverage"`
	Direction      string  `json:"direction"` // "long" or "short"
	MaxGains       string  `json:"maxGains"`
	StopLoss       *string `json:"stopLoss"`
	SlippageAssert string  `json:"slippageAssert"`
	LimitTrigger   *string `json:"limitTrigger"`
	LimitExpiry    *int64  `json:"limitExpiry"`
}

type openPositionResponse struct {
	PositionID string `json:"positionId"`
	Pending    bool   `json:"pending"` // true when staged as a limit order, not yet open
}

func (m *MarketModule) openPosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	collateral, err := parseDecimal(req.Collateral)
	if err != nil {
		writeError(w, "OpenPosition", err)
		return
	}
	leverage, err := parseDecimal(req.Leverage)
	if err != nil {
		writeError(w, "OpenPosition", err)
		return
	}
	maxGains, err := parseDecimal(req.MaxGains)
	if err != nil {
		writeError(w, "OpenPosition", err)
		return
	}
	slippage, err := parseDecimal(req.SlippageAssert)
	if err != nil {
		writeError(w, "OpenPosition", err)
		return
	}
	direction := market.Long
	if req.Direction == "short" {
		direction = market.Short
	}
	params := market.OpenPositionParams{
		Owner:          owner,
		Collateral:     collateral,
		Leverage:       leverage,
		Direction:      direction,
		MaxGains:       maxGains,
		SlippageAssert: slippage,
	}
	if req.StopLoss != nil {
		v, err := parseDecimal(*req.StopLoss)
		if err != nil {
			writeError(w, "OpenPosition", err)
			return
		}
		params.StopLoss = &v
	}
	if req.LimitTrigger != nil {
		v, err := parseDecimal(*req.LimitTrigger)
		if err != nil {
			writeError(w, "OpenPosition", err)
			return
		}
		params.LimitTrigger = &v
		params.LimitExpiry = req.LimitExpiry
	}
	pos, id, err := e.OpenPosition(params, now())
	if err != nil {
		writeError(w, "OpenPosition", err)
		return
	}
	observability.ModuleMetrics().Observe(moduleName, "OpenPosition", http.StatusOK, 0)
	writeJSON(w, http.StatusOK, openPositionResponse{PositionID: string(id), Pending: pos == nil})
}

type updatePositionRequest struct {
	Owner       string  `json:"owner"`
	Action      string  `json:"action"`
	Amount      string  `json:"amount"`
	MaxSlippage string  `json:"maxSlippage"`
	Price       *string `json:"price"`
}

var updateActionNames = map[string]market.UpdateAction{
	"addCollateral":    market.UpdateAddCollateral,
	"removeCollateral": market.UpdateRemoveCollateral,
	"resizeLeverage":   market.UpdateResizeLeverage,
	"setMaxGains":      market.UpdateSetMaxGains,
	"setStopLoss":      market.UpdateSetStopLoss,
	"setTakeProfit":    market.UpdateSetTakeProfit,
}

func (m *MarketModule) updatePosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	id := chi.URLParam(r, "id")
	var req updatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	action, ok := updateActionNames[req.Action]
	if !ok {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "unknown action " + req.Action})
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, "UpdatePosition", err)
		return
	}
	maxSlippage, err := parseDecimal(req.MaxSlippage)
	if err != nil {
		writeError(w, "UpdatePosition", err)
		return
	}
	updateReq := market.UpdatePositionRequest{
		Owner: owner, ID: market.PositionID(id), Action: action, Amount: amount, MaxSlippage: maxSlippage,
	}
	if req.Price != nil {
		v, err := parseDecimal(*req.Price)
		if err != nil {
			writeError(w, "UpdatePosition", err)
			return
		}
		updateReq.Price = &v
	}
	pos, err := e.UpdatePosition(updateReq, now())
	if err != nil {
		writeError(w, "UpdatePosition", err)
		return
	}
	observability.ModuleMetrics().Observe(moduleName, "UpdatePosition", http.StatusOK, 0)
	writeJSON(w, http.StatusOK, pos)
}

type closePositionRequest struct {
	Owner string `json:"owner"`
}

func (m *MarketModule) closePosition(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	id := chi.URLParam(r, "id")
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	payout, err := e.ClosePosition(owner, market.PositionID(id))
	if err != nil {
		writeError(w, "ClosePosition", err)
		return
	}
	observability.ModuleMetrics().Observe(moduleName, "ClosePosition", http.StatusOK, 0)
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

func (m *MarketModule) cancelLimitOrder(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	id := chi.URLParam(r, "id")
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	owner, err := parseOwner(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	if err := e.CancelLimitOrder(owner, market.PositionID(id)); err != nil {
		writeError(w, "CancelLimitOrder", err)
		return
	}
	observability.ModuleMetrics().Observe(moduleName, "CancelLimitOrder", http.StatusOK, 0)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type liquidityRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
	ToXLP  bool   `json:"toXlp"`
}

func (m *MarketModule) depositLiquidity(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	amount, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, "DepositLiquidity", err)
		return
	}
	shares, err := e.DepositLiquidity(holder, amount, req.ToXLP)
	if err != nil {
		writeError(w, "DepositLiquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (m *MarketModule) withdrawLp(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	shares, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, "WithdrawLp", err)
		return
	}
	payout, err := e.WithdrawLp(holder, shares)
	if err != nil {
		writeError(w, "WithdrawLp", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

func (m *MarketModule) stakeLp(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	shares, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, "StakeLp", err)
		return
	}
	if err := e.StakeLp(holder, shares); err != nil {
		writeError(w, "StakeLp", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"staked": true})
}

func (m *MarketModule) unstakeXlp(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	shares, err := parseDecimal(req.Amount)
	if err != nil {
		writeError(w, "UnstakeXlp", err)
		return
	}
	if err := e.UnstakeXlp(holder, shares, now()); err != nil {
		writeError(w, "UnstakeXlp", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (m *MarketModule) collectUnstaked(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	amount, err := e.CollectUnstaked(holder, now())
	if err != nil {
		writeError(w, "CollectUnstaked", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (m *MarketModule) collectYield(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req liquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	holder, err := parseOwner(req.Holder)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	amount, err := e.CollectYield(holder)
	if err != nil {
		writeError(w, "CollectYield", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type setPriceRequest struct {
	Timestamp int64  `json:"timestamp"`
	PriceBase string `json:"priceBase"`
	PriceUSD  string `json:"priceUsd"`
}

// setPrice is the oracle feed entry point; rpc/server's auth middleware
// restricts it to the feeder's bearer token before this handler ever runs.
func (m *MarketModule) setPrice(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	priceBase, err := parseDecimal(req.PriceBase)
	if err != nil {
		writeError(w, "SetPrice", err)
		return
	}
	priceUSD, err := parseDecimal(req.PriceUSD)
	if err != nil {
		writeError(w, "SetPrice", err)
		return
	}
	point, err := e.SetPrice(req.Timestamp, priceBase, priceUSD)
	if err != nil {
		writeError(w, "SetPrice", err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

// crank is the endpoint (no JWT scope required) a crank-reward-seeking caller hits to
// execute one unit of deterministic background work.
func (m *MarketModule) crank(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	result, err := e.Crank(now())
	if err != nil {
		writeError(w, "Crank", err)
		return
	}
	m.metrics.RecordCrank(symbol, result.Step, result.Processed)
	writeJSON(w, http.StatusOK, result)
}

func (m *MarketModule) crankAvailable(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": e.CrankWorkAvailable(now())})
}

func (m *MarketModule) status(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	st, err := e.Status()
	if err != nil {
		writeError(w, "Status", err)
		return
	}
	m.metrics.SetOpenPositions(symbol, st.OpenPositions)
	writeJSON(w, http.StatusOK, st)
}

func (m *MarketModule) getPosition(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	pos, err := e.Position(market.PositionID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, "Position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// positionsByOwner serves paginated closed-position history from the sqlite
// archive plus the live open-position ids from the engine itself.
func (m *MarketModule) positionsByOwner(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	e, merr := m.engine(symbol)
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	ownerParam := r.URL.Query().Get("owner")
	owner, err := parseOwner(ownerParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	openIDs := e.PositionsByOwner(owner)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	var closedRows []market.ClosedPositionRow
	if archive, ok := m.archive[symbol]; ok && archive != nil {
		closedRows, _ = archive.PositionsByOwner(string(owner.Bytes()), limit, offset)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open":   openIDs,
		"closed": closedRows,
	})
}

func (m *MarketModule) lpInfo(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	holder, err := parseOwner(chi.URLParam(r, "holder"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e.LpInfo(holder))
}

func (m *MarketModule) priceAt(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	at := now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid at: " + err.Error()})
			return
		}
		at = parsed
	}
	point, ok := e.PriceAt(at)
	if !ok {
		writeJSON(w, http.StatusNotFound, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeInvalidParams, Message: "no price recorded at or before " + raw(r)})
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func raw(r *http.Request) string { return r.URL.Query().Get("at") }

func (m *MarketModule) priceTrigger(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	price, err := parseDecimal(r.URL.Query().Get("price_base"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"willTrigger": e.PriceWillTrigger(price)})
}

func (m *MarketModule) setShutdown(w http.ResponseWriter, r *http.Request) {
	e, merr := m.engine(chi.URLParam(r, "symbol"))
	if merr != nil {
		writeJSON(w, merr.HTTPStatus, merr)
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()})
		return
	}
	if err := e.SetShutdown(req.On); err != nil {
		writeError(w, "SetShutdown", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shutdown": req.On})
}
