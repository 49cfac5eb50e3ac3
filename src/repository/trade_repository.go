package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeterm/src/database"
	"tradeterm/src/model"
)

// TradeRepository handles persistence for TradeRecord entities.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main database.
func NewTradeRepository() *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Info("Creating new TradeRepository with MainDB")

	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	logger.WithField("component", "TradeRepository").
		Debug("Creating TradeRepository with custom DB instance")

	return &TradeRepository{db: db}
}

// Append archives one executed trade. It satisfies the position engine's
// TradeSink so the archive can sit next to the journal.
func (r *TradeRepository) Append(trade model.ExecutedTrade) error {
	return r.Create(context.Background(), model.NewTradeRecord(trade))
}

// Create inserts a new trade record into the database.
func (r *TradeRepository) Create(ctx context.Context, record *model.TradeRecord) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "Create",
		"symbol": record.Symbol,
		"side":   record.Side,
		"qty":    record.Quantity,
	}).Debug("Archiving executed trade")

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to archive executed trade")
		return err
	}

	return nil
}

// FindLatest returns the latest archived trades ordered from newest to oldest.
func (r *TradeRepository) FindLatest(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "TradeRepository",
		"op":    "FindLatest",
		"limit": limit,
	}).Debug("Fetching latest archived trades")

	var records []model.TradeRecord
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "TradeRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest archived trades")
		return nil, err
	}

	return records, nil
}

// FindLatestBySymbol returns the latest archived trades for a given symbol.
func (r *TradeRepository) FindLatestBySymbol(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "FindLatestBySymbol",
		"symbol": symbol,
		"limit":  limit,
	}).Debug("Fetching latest archived trades by symbol")

	var records []model.TradeRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "FindLatestBySymbol",
			"symbol": symbol,
			"limit":  limit,
		}).WithError(err).Error("Failed to fetch latest archived trades by symbol")
		return nil, err
	}

	return records, nil
}

// RealizedByAccount sums the archived realized P&L per account.
func (r *TradeRepository) RealizedByAccount(ctx context.Context) (map[string]float64, error) {
	type row struct {
		Account  string
		Realized float64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.TradeRecord{}).
		Select("account, SUM(realized_pnl) AS realized").
		Group("account").
		Scan(&rows).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "RealizedByAccount",
		}).WithError(err).Error("Failed to sum realized P&L")
		return nil, err
	}

	totals := make(map[string]float64, len(rows))
	for _, r := range rows {
		totals[r.Account] = r.Realized
	}
	return totals, nil
}
