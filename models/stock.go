package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QuoteSnapshot is a persisted Quote used by the historical query
type QuoteSnapshot struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"index;not null" json:"symbol"`
	Price         decimal.Decimal `gorm:"type:decimal(15,4)" json:"price"`
	High          decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Open          decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	PreviousClose decimal.Decimal `gorm:"type:decimal(15,4)" json:"previous_close"`
	ObservedAt    time.Time       `gorm:"index" json:"observed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewQuoteSnapshot converts a live quote into its stored form
func NewQuoteSnapshot(q Quote) QuoteSnapshot {
	return QuoteSnapshot{
		Symbol:        q.Symbol,
		Price:         decimal.NewFromFloat(q.Price),
		High:          decimal.NewFromFloat(q.High),
		Low:           decimal.NewFromFloat(q.Low),
		Open:          decimal.NewFromFloat(q.Open),
		PreviousClose: decimal.NewFromFloat(q.PreviousClose),
		ObservedAt:    q.ObservedAt.UTC(),
	}
}

// Quote converts the stored form back into a live quote
func (s QuoteSnapshot) Quote() Quote {
	return Quote{
		Symbol:        s.Symbol,
		Price:         s.Price.InexactFloat64(),
		High:          s.High.InexactFloat64(),
		Low:           s.Low.InexactFloat64(),
		Open:          s.Open.InexactFloat64(),
		PreviousClose: s.PreviousClose.InexactFloat64(),
		ObservedAt:    s.ObservedAt,
	}
}

// MigrateSnapshotModels runs database migrations for snapshot models
func MigrateSnapshotModels(db *gorm.DB) error {
	return db.AutoMigrate(&QuoteSnapshot{})
}
