package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting        string
	ConfigLoaded    string
	UsingDBPath     string
	ServerListening string
	ShuttingDown    string
	DBInitFailed    string
	APIServerError  string
	MarketSeeded    string

	// Order rejections
	InvalidQuantity   string
	InvalidSide       string
	InvalidType       string
	UnknownSymbol     string
	MissingLimitPrice string
	MissingStopPrice  string
	InvalidStopLimit  string
	InsufficientFunds string
	QuantityDecrease  string
	QuantityPrecision string
	PriceUnavailable  string

	// Order modification
	NothingToModify string
	NoLimitPrice    string
	NoStopPrice     string

	// Order lifecycle
	OrderNotFound     string
	OrderNotLive      string
	PortfolioNotFound string
	PositionNotFound  string
	PositionClosed    string

	// Risk levels
	InvalidStopLoss   string
	InvalidTakeProfit string
	StopLossTriggered string
	TakeProfitHit     string

	// Conflicts and infrastructure
	Conflict           string
	StorageUnavailable string
}

var (
	mu          sync.RWMutex
	currentLang = LangEN
	messages    *Messages
)

var messagesEN = Messages{
	Starting:        "Starting paper trading core",
	ConfigLoaded:    "Configuration loaded",
	UsingDBPath:     "Using database",
	ServerListening: "API server listening",
	ShuttingDown:    "Shutting down",
	DBInitFailed:    "Database initialization failed",
	APIServerError:  "API server error",
	MarketSeeded:    "Simulated market seeded",

	InvalidQuantity:   "quantity must be greater than zero",
	InvalidSide:       "side must be BUY or SELL",
	InvalidType:       "type must be MARKET, LIMIT, STOP or STOP_LIMIT",
	UnknownSymbol:     "symbol is not traded",
	MissingLimitPrice: "limit price is required and must be positive",
	MissingStopPrice:  "stop price is required and must be positive",
	InvalidStopLimit:  "stop price is inconsistent with limit price for this side",
	InsufficientFunds: "insufficient cash for order notional plus commission",
	QuantityDecrease:  "quantity may only be increased",
	QuantityPrecision: "quantity has more than 8 decimal places",
	PriceUnavailable:  "no price available for symbol",

	NothingToModify: "nothing to modify",
	NoLimitPrice:    "order type has no limit price",
	NoStopPrice:     "order type has no stop price",

	OrderNotFound:     "order not found",
	OrderNotLive:      "order is no longer pending",
	PortfolioNotFound: "portfolio not found",
	PositionNotFound:  "position not found",
	PositionClosed:    "position is already closed",

	InvalidStopLoss:   "stop loss must be a worse price than the current price",
	InvalidTakeProfit: "take profit must be a better price than the current price",
	StopLossTriggered: "stop loss triggered",
	TakeProfitHit:     "take profit triggered",

	Conflict:           "record was modified concurrently, retry",
	StorageUnavailable: "storage unavailable",
}

var messagesZH = Messages{
	Starting:        "啟動模擬交易核心",
	ConfigLoaded:    "設定已載入",
	UsingDBPath:     "使用資料庫",
	ServerListening: "API 伺服器監聽中",
	ShuttingDown:    "正在關閉",
	DBInitFailed:    "資料庫初始化失敗",
	APIServerError:  "API 伺服器錯誤",
	MarketSeeded:    "模擬行情已初始化",

	InvalidQuantity:   "數量必須大於零",
	InvalidSide:       "方向必須為 BUY 或 SELL",
	InvalidType:       "類型必須為 MARKET、LIMIT、STOP 或 STOP_LIMIT",
	UnknownSymbol:     "不支援的交易標的",
	MissingLimitPrice: "必須提供正數限價",
	MissingStopPrice:  "必須提供正數觸發價",
	InvalidStopLimit:  "觸發價與限價的方向不一致",
	InsufficientFunds: "現金不足以支付訂單金額與手續費",
	QuantityDecrease:  "數量只能增加",
	QuantityPrecision: "數量小數位數不可超過 8 位",
	PriceUnavailable:  "無法取得該標的價格",

	NothingToModify: "沒有要修改的欄位",
	NoLimitPrice:    "此訂單類型沒有限價",
	NoStopPrice:     "此訂單類型沒有觸發價",

	OrderNotFound:     "找不到訂單",
	OrderNotLive:      "訂單已不在掛單狀態",
	PortfolioNotFound: "找不到投資組合",
	PositionNotFound:  "找不到持倉",
	PositionClosed:    "持倉已平倉",

	InvalidStopLoss:   "停損價必須比目前價格更差",
	InvalidTakeProfit: "停利價必須比目前價格更好",
	StopLossTriggered: "觸發停損",
	TakeProfitHit:     "觸發停利",

	Conflict:           "資料同時被修改，請重試",
	StorageUnavailable: "儲存服務無法使用",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
