package model

import "time"

// TradeRecord is the database row for one executed trade, the archive behind
// the trade-history view.
type TradeRecord struct {
	ID          uint      `gorm:"primaryKey"`
	Time        time.Time `gorm:"index"`
	Account     string    `gorm:"index"`
	Symbol      string    `gorm:"index"`
	Side        string
	Price       float64
	Quantity    float64
	FeeCurrency string
	FeeAmount   float64
	RealizedPnl float64
	RealizedPct float64
	CreatedAt   time.Time
}

// NewTradeRecord converts an in-memory executed trade into its archive row.
func NewTradeRecord(t ExecutedTrade) *TradeRecord {
	return &TradeRecord{
		Time:        t.Time,
		Account:     string(t.Account),
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Price:       t.Price,
		Quantity:    t.Quantity,
		FeeCurrency: t.FeeCurrency,
		FeeAmount:   t.FeeAmount,
		RealizedPnl: t.RealizedPnl,
		RealizedPct: t.RealizedPct,
	}
}
