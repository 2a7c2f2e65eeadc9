package types

type Side string

type OrderType string

type TradeStatus string

type ClosedBy string

type AccountStatus string

type ChargeLevel string

type SpreadType string

type CommissionType string

type SwapType string

type CopyMode string

type CopyStatus string

type CopyTradeStatus string

type CommissionStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeBuyLimit  OrderType = "BUY_LIMIT"
	OrderTypeBuyStop   OrderType = "BUY_STOP"
	OrderTypeSellLimit OrderType = "SELL_LIMIT"
	OrderTypeSellStop  OrderType = "SELL_STOP"
)

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusOpen      TradeStatus = "OPEN"
	TradeStatusClosed    TradeStatus = "CLOSED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
)

const (
	ClosedByUser      ClosedBy = "USER"
	ClosedBySL        ClosedBy = "SL"
	ClosedByTP        ClosedBy = "TP"
	ClosedByStopOut   ClosedBy = "STOP_OUT"
	ClosedByAdmin     ClosedBy = "ADMIN"
	ClosedByDemoReset ClosedBy = "DEMO_RESET"
)

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusFrozen    AccountStatus = "FROZEN"
	AccountStatusArchived  AccountStatus = "ARCHIVED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

const (
	ChargeLevelUser        ChargeLevel = "USER"
	ChargeLevelInstrument  ChargeLevel = "INSTRUMENT"
	ChargeLevelAccountType ChargeLevel = "ACCOUNT_TYPE"
	ChargeLevelSegment     ChargeLevel = "SEGMENT"
	ChargeLevelGlobal      ChargeLevel = "GLOBAL"
)

const (
	SpreadTypeFixed      SpreadType = "FIXED"
	SpreadTypePercentage SpreadType = "PERCENTAGE"
)

const (
	CommissionTypePerLot     CommissionType = "PER_LOT"
	CommissionTypePerTrade   CommissionType = "PER_TRADE"
	CommissionTypePercentage CommissionType = "PERCENTAGE"
)

const (
	SwapTypePoints     SwapType = "POINTS"
	SwapTypePercentage SwapType = "PERCENTAGE"
)

const (
	CopyModeFixedLot     CopyMode = "FIXED_LOT"
	CopyModeBalanceBased CopyMode = "BALANCE_BASED"
	CopyModeEquityBased  CopyMode = "EQUITY_BASED"
	CopyModeMultiplier   CopyMode = "MULTIPLIER"
	// Legacy alias still present in old follower rows.
	CopyModeLotMultiplier CopyMode = "LOT_MULTIPLIER"
	CopyModeAuto          CopyMode = "AUTO"
)

const (
	CopyStatusActive  CopyStatus = "ACTIVE"
	CopyStatusPaused  CopyStatus = "PAUSED"
	CopyStatusStopped CopyStatus = "STOPPED"
)

const (
	CopyTradeStatusOpen   CopyTradeStatus = "OPEN"
	CopyTradeStatusClosed CopyTradeStatus = "CLOSED"
	CopyTradeStatusFailed CopyTradeStatus = "FAILED"
)

const (
	CommissionStatusPending  CommissionStatus = "PENDING"
	CommissionStatusDeducted CommissionStatus = "DEDUCTED"
	CommissionStatusSettled  CommissionStatus = "SETTLED"
	CommissionStatusFailed   CommissionStatus = "FAILED"
)
