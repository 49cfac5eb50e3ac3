package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"tradeterm/src/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm over sqlmock: %v", err)
	}
	return db, mock
}

func TestTradeRepositoryCreateAndQueries(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&TradeRepository{}).WithDB(db)

	record := &model.TradeRecord{
		Time:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Account:     "phemex-futures",
		Symbol:      "BTCUSDT",
		Side:        "buy",
		Price:       50000,
		Quantity:    2,
		FeeCurrency: "USDT",
		FeeAmount:   0.5,
		RealizedPnl: 120,
		RealizedPct: 1.2,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "trade_records" (`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}

	latestRows := sqlmock.NewRows([]string{"id", "symbol"}).AddRow(2, "BTCUSDT").AddRow(1, "BTCUSDT")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_records" ORDER BY id DESC LIMIT $1`)).
		WithArgs(20).
		WillReturnRows(latestRows)

	if _, err := repo.FindLatest(context.Background(), 0); err != nil {
		t.Fatalf("expected FindLatest to succeed, got %v", err)
	}

	symbolRows := sqlmock.NewRows([]string{"id", "symbol"}).AddRow(1, "ETHUSDT")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trade_records" WHERE symbol = $1 ORDER BY id DESC LIMIT $2`)).
		WithArgs("ETHUSDT", 5).
		WillReturnRows(symbolRows)

	bySymbol, err := repo.FindLatestBySymbol(context.Background(), "ETHUSDT", 5)
	if err != nil || len(bySymbol) != 1 {
		t.Fatalf("expected one record by symbol, got %d err=%v", len(bySymbol), err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryRealizedByAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&TradeRepository{}).WithDB(db)

	rows := sqlmock.NewRows([]string{"account", "realized"}).
		AddRow("phemex-futures", 120.5).
		AddRow("mexc-futures", -33.0)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT account, SUM(realized_pnl) AS realized FROM "trade_records" GROUP BY "account"`)).
		WillReturnRows(rows)

	totals, err := repo.RealizedByAccount(context.Background())
	if err != nil {
		t.Fatalf("expected query to succeed, got %v", err)
	}
	if totals["phemex-futures"] != 120.5 || totals["mexc-futures"] != -33.0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryAppendConverts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&TradeRepository{}).WithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "trade_records" (`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	trade := model.ExecutedTrade{
		Time:     time.Now(),
		Account:  model.ProfileHydraPerp,
		Symbol:   "ETH-PERP",
		Side:     model.SideSell,
		Price:    3000,
		Quantity: 1,
	}
	if err := repo.Append(trade); err != nil {
		t.Fatalf("expected append to succeed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
