package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"riskgate/internal/risk"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tradeRecordModel struct {
	RowID       int64          `gorm:"column:row_id;primaryKey;autoIncrement"`
	TradeID     string         `gorm:"column:trade_id;uniqueIndex"`
	Strategy    string         `gorm:"column:strategy"`
	Symbol      string         `gorm:"column:symbol;index"`
	Side        string         `gorm:"column:side"`
	NotionalUSD string         `gorm:"column:notional_usd"`
	EntryPrice  string         `gorm:"column:entry_price"`
	StopLossBps float64        `gorm:"column:stop_loss_bps"`
	Status      string         `gorm:"column:status;index"`
	RealizedPnL string         `gorm:"column:realized_pnl"`
	WasLoss     bool           `gorm:"column:was_loss"`
	OpenedAt    int64          `gorm:"column:opened_at;index"`
	ClosedAt    int64          `gorm:"column:closed_at"`
	Extra       datatypes.JSON `gorm:"column:extra"`
}

func (tradeRecordModel) TableName() string { return "trade_records" }

// GormStore persists session trade records in SQLite, one row per trade,
// updated in place on close.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	if err := db.AutoMigrate(&tradeRecordModel{}); err != nil {
		return nil, fmt.Errorf("migrating session store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveOpen(ctx context.Context, rec TradeRecord) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) SaveClose(ctx context.Context, rec TradeRecord) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&tradeRecordModel{}).
		Where("trade_id = ?", rec.ID).
		Updates(map[string]any{
			"status":       m.Status,
			"realized_pnl": m.RealizedPnL,
			"was_loss":     m.WasLoss,
			"closed_at":    m.ClosedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s not in store", risk.ErrUnknownTrade, rec.ID)
	}
	return nil
}

// LoadActive returns all open records plus records closed at or after since.
func (s *GormStore) LoadActive(ctx context.Context, since time.Time) ([]TradeRecord, error) {
	var rows []tradeRecordModel
	err := s.db.WithContext(ctx).
		Where("status = ? OR closed_at >= ?", string(StatusOpen), since.UnixMilli()).
		Order("opened_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadRecentCloses returns the most recently closed records, newest first.
func (s *GormStore) LoadRecentCloses(ctx context.Context, limit int) ([]TradeRecord, error) {
	var rows []tradeRecordModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(StatusClosed)).
		Order("closed_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toModel(rec TradeRecord) (tradeRecordModel, error) {
	extra, err := json.Marshal(map[string]any{"stop_loss_bps": rec.StopLossBps})
	if err != nil {
		return tradeRecordModel{}, err
	}
	m := tradeRecordModel{
		TradeID:     rec.ID,
		Strategy:    rec.Strategy,
		Symbol:      rec.Symbol,
		Side:        string(rec.Side),
		NotionalUSD: rec.NotionalUSD.String(),
		EntryPrice:  rec.EntryPrice.String(),
		StopLossBps: rec.StopLossBps,
		Status:      string(rec.Status),
		RealizedPnL: rec.RealizedPnL.String(),
		WasLoss:     rec.WasLoss,
		OpenedAt:    rec.OpenedAt.UnixMilli(),
		Extra:       datatypes.JSON(extra),
	}
	if !rec.ClosedAt.IsZero() {
		m.ClosedAt = rec.ClosedAt.UnixMilli()
	}
	return m, nil
}

func fromModel(m tradeRecordModel) (TradeRecord, error) {
	notional, err := decimal.NewFromString(m.NotionalUSD)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("record %s: bad notional %q", m.TradeID, m.NotionalUSD)
	}
	entry, err := decimal.NewFromString(m.EntryPrice)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("record %s: bad entry price %q", m.TradeID, m.EntryPrice)
	}
	pnl := decimal.Zero
	if m.RealizedPnL != "" {
		pnl, err = decimal.NewFromString(m.RealizedPnL)
		if err != nil {
			return TradeRecord{}, fmt.Errorf("record %s: bad pnl %q", m.TradeID, m.RealizedPnL)
		}
	}
	rec := TradeRecord{
		ID:          m.TradeID,
		Strategy:    m.Strategy,
		Symbol:      m.Symbol,
		Side:        risk.Side(m.Side),
		NotionalUSD: notional,
		EntryPrice:  entry,
		StopLossBps: m.StopLossBps,
		Status:      TradeStatus(m.Status),
		RealizedPnL: pnl,
		WasLoss:     m.WasLoss,
		OpenedAt:    time.UnixMilli(m.OpenedAt),
	}
	if m.ClosedAt > 0 {
		rec.ClosedAt = time.UnixMilli(m.ClosedAt)
	}
	return rec, nil
}
