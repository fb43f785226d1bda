package market

import (
	"strconv"

	"marketd/core/types"
)

// Event type strings (spec §6 "Events").
const (
	TypePositionOpen          = "market.position_open"
	TypePositionUpdate        = "market.position_update"
	TypePositionClose         = "market.position_close"
	TypeLiquifunding          = "market.liquifunding"
	TypeCrankExec             = "market.crank_exec"
	TypePricePointAppended    = "market.price_point_appended"
	TypeLpMint                = "market.lp_mint"
	TypeLpBurn                = "market.lp_burn"
	TypeYieldAccrued          = "market.yield_accrued"
	TypeXlpUnstakeStarted     = "market.xlp_unstake_started"
	TypeXlpUnstakeCollected   = "market.xlp_unstake_collected"
	TypeBalanceResetStarted   = "market.balance_reset_started"
	TypeBalanceResetCompleted = "market.balance_reset_completed"
	TypeLimitOrderPlaced      = "market.limit_order_placed"
	TypeLimitOrderCancelled   = "market.limit_order_cancelled"
	TypeLimitOrderFilled      = "market.limit_order_filled"
)

// PositionOpenEvent is emitted when OpenPosition commits.
type PositionOpenEvent struct {
	ID                PositionID
	Owner             string
	NotionalSize      string
	DepositCollateral string
	CounterCollateral string
}

func (PositionOpenEvent) EventType() string { return TypePositionOpen }
func (e PositionOpenEvent) Event() *types.Event {
	return &types.Event{Type: TypePositionOpen, Attributes: map[string]string{
		"id":                string(e.ID),
		"owner":             e.Owner,
		"notionalSize":      e.NotionalSize,
		"depositCollateral": e.DepositCollateral,
		"counterCollateral": e.CounterCollateral,
	}}
}

// PositionUpdateEvent is emitted when UpdatePosition commits.
type PositionUpdateEvent struct {
	ID     PositionID
	Action string
}

func (PositionUpdateEvent) EventType() string { return TypePositionUpdate }
func (e PositionUpdateEvent) Event() *types.Event {
	return &types.Event{Type: TypePositionUpdate, Attributes: map[string]string{
		"id":     string(e.ID),
		"action": e.Action,
	}}
}

// PositionCloseEvent is emitted whenever a position leaves the open set.
type PositionCloseEvent struct {
	ID            PositionID
	Owner         string
	NotionalSize  string
	Reason        CloseReason
	PayoutToOwner string
	PoolReceived  string
}

func (PositionCloseEvent) EventType() string { return TypePositionClose }
func (e PositionCloseEvent) Event() *types.Event {
	return &types.Event{Type: TypePositionClose, Attributes: map[string]string{
		"id":            string(e.ID),
		"owner":         e.Owner,
		"notionalSize":  e.NotionalSize,
		"reason":        closeReasonString(e.Reason),
		"payoutToOwner": e.PayoutToOwner,
		"poolReceived":  e.PoolReceived,
	}}
}

func closeReasonString(r CloseReason) string {
	switch r {
	case CloseTrader:
		return "Trader"
	case CloseLiquidation:
		return "Liquidation"
	case CloseTakeProfit:
		return "TakeProfit"
	case CloseStopLoss:
		return "StopLoss"
	case CloseWindDown:
		return "WindDown"
	default:
		return "Unknown"
	}
}

// LiquifundingEvent is emitted after every liquifunding pass.
type LiquifundingEvent struct {
	ID            PositionID
	BorrowCharged string
	FundingPaid   string
	CrankCharged  string
	PriceGainLoss string
	Outcome       string
}

func (LiquifundingEvent) EventType() string { return TypeLiquifunding }
func (e LiquifundingEvent) Event() *types.Event {
	return &types.Event{Type: TypeLiquifunding, Attributes: map[string]string{
		"id":            string(e.ID),
		"borrowCharged": e.BorrowCharged,
		"fundingPaid":   e.FundingPaid,
		"crankCharged":  e.CrankCharged,
		"priceGainLoss": e.PriceGainLoss,
		"outcome":       e.Outcome,
	}}
}

// CrankExecEvent reports one crank batch's progress.
type CrankExecEvent struct {
	ItemsProcessed int
	Kind           string
}

func (CrankExecEvent) EventType() string { return TypeCrankExec }
func (e CrankExecEvent) Event() *types.Event {
	return &types.Event{Type: TypeCrankExec, Attributes: map[string]string{
		"itemsProcessed": strconv.Itoa(e.ItemsProcessed),
		"kind":           e.Kind,
	}}
}

// PricePointAppendedEvent is emitted on every SetPrice.
type PricePointAppendedEvent struct {
	Ordinal   uint64
	Timestamp int64
	PriceBase string
}

func (PricePointAppendedEvent) EventType() string { return TypePricePointAppended }
func (e PricePointAppendedEvent) Event() *types.Event {
	return &types.Event{Type: TypePricePointAppended, Attributes: map[string]string{
		"ordinal":   strconv.FormatUint(e.Ordinal, 10),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
		"priceBase": e.PriceBase,
	}}
}

// LpMintEvent / LpBurnEvent report LP/xLP share mint and burn.
type LpMintEvent struct {
	Holder string
	Shares string
	ToXLP  bool
}

func (LpMintEvent) EventType() string { return TypeLpMint }
func (e LpMintEvent) Event() *types.Event {
	return &types.Event{Type: TypeLpMint, Attributes: map[string]string{
		"holder": e.Holder,
		"shares": e.Shares,
		"toXlp":  strconv.FormatBool(e.ToXLP),
	}}
}

type LpBurnEvent struct {
	Holder string
	Shares string
	Payout string
}

func (LpBurnEvent) EventType() string { return TypeLpBurn }
func (e LpBurnEvent) Event() *types.Event {
	return &types.Event{Type: TypeLpBurn, Attributes: map[string]string{
		"holder": e.Holder,
		"shares": e.Shares,
		"payout": e.Payout,
	}}
}

// YieldAccruedEvent reports a per-share yield accrual.
type YieldAccruedEvent struct {
	Amount string
}

func (YieldAccruedEvent) EventType() string { return TypeYieldAccrued }
func (e YieldAccruedEvent) Event() *types.Event {
	return &types.Event{Type: TypeYieldAccrued, Attributes: map[string]string{"amount": e.Amount}}
}

// XlpUnstakeStartedEvent / XlpUnstakeCollectedEvent track the 21-day linear
// xLP unwind schedule.
type XlpUnstakeStartedEvent struct {
	Holder string
	Amount string
	Start  int64
	End    int64
}

func (XlpUnstakeStartedEvent) EventType() string { return TypeXlpUnstakeStarted }
func (e XlpUnstakeStartedEvent) Event() *types.Event {
	return &types.Event{Type: TypeXlpUnstakeStarted, Attributes: map[string]string{
		"holder": e.Holder,
		"amount": e.Amount,
		"start":  strconv.FormatInt(e.Start, 10),
		"end":    strconv.FormatInt(e.End, 10),
	}}
}

type XlpUnstakeCollectedEvent struct {
	Holder string
	Amount string
}

func (XlpUnstakeCollectedEvent) EventType() string { return TypeXlpUnstakeCollected }
func (e XlpUnstakeCollectedEvent) Event() *types.Event {
	return &types.Event{Type: TypeXlpUnstakeCollected, Attributes: map[string]string{
		"holder": e.Holder,
		"amount": e.Amount,
	}}
}

// BalanceResetStartedEvent / BalanceResetCompletedEvent bracket a pool's
// reset-mode episode.
type BalanceResetStartedEvent struct{ Epoch uint64 }

func (BalanceResetStartedEvent) EventType() string { return TypeBalanceResetStarted }
func (e BalanceResetStartedEvent) Event() *types.Event {
	return &types.Event{Type: TypeBalanceResetStarted, Attributes: map[string]string{
		"epoch": strconv.FormatUint(e.Epoch, 10),
	}}
}

type BalanceResetCompletedEvent struct {
	Epoch     uint64
	Processed int
}

func (BalanceResetCompletedEvent) EventType() string { return TypeBalanceResetCompleted }
func (e BalanceResetCompletedEvent) Event() *types.Event {
	return &types.Event{Type: TypeBalanceResetCompleted, Attributes: map[string]string{
		"epoch":     strconv.FormatUint(e.Epoch, 10),
		"processed": strconv.Itoa(e.Processed),
	}}
}

// LimitOrderPlacedEvent / LimitOrderCancelledEvent / LimitOrderFilledEvent
// track a limit order's lifetime from staging to fill or withdrawal.
type LimitOrderPlacedEvent struct {
	ID        PositionID
	Owner     string
	Direction string
	Price     string
}

func (LimitOrderPlacedEvent) EventType() string { return TypeLimitOrderPlaced }
func (e LimitOrderPlacedEvent) Event() *types.Event {
	return &types.Event{Type: TypeLimitOrderPlaced, Attributes: map[string]string{
		"id":        string(e.ID),
		"owner":     e.Owner,
		"direction": e.Direction,
		"price":     e.Price,
	}}
}

type LimitOrderCancelledEvent struct {
	ID    PositionID
	Owner string
}

func (LimitOrderCancelledEvent) EventType() string { return TypeLimitOrderCancelled }
func (e LimitOrderCancelledEvent) Event() *types.Event {
	return &types.Event{Type: TypeLimitOrderCancelled, Attributes: map[string]string{
		"id":    string(e.ID),
		"owner": e.Owner,
	}}
}

type LimitOrderFilledEvent struct {
	ID         PositionID
	PositionID PositionID
}

func (LimitOrderFilledEvent) EventType() string { return TypeLimitOrderFilled }
func (e LimitOrderFilledEvent) Event() *types.Event {
	return &types.Event{Type: TypeLimitOrderFilled, Attributes: map[string]string{
		"id":         string(e.ID),
		"positionId": string(e.PositionID),
	}}
}
