package dispatch

import (
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres-backed stores for deployments that keep durable dispatch state
// in a database instead of local JSON files. Both stores write through a
// transaction, so a crash mid-save leaves the previous rows intact.

type dailyOrderCountRow struct {
	Date  string `gorm:"primaryKey;column:date"`
	Count int    `gorm:"column:count"`
}

func (dailyOrderCountRow) TableName() string { return "daily_order_counts" }

type orderMappingRow struct {
	OrderID  int64     `gorm:"primaryKey;column:order_id"`
	Symbol   string    `gorm:"column:symbol"`
	SignalID string    `gorm:"column:signal_id"`
	Tag      string    `gorm:"column:tag"`
	PlacedAt time.Time `gorm:"column:placed_at"`
}

func (orderMappingRow) TableName() string { return "order_mappings" }

// PGCounterStore persists daily counts in Postgres.
type PGCounterStore struct {
	db *gorm.DB
}

// NewPGCounterStore migrates and returns a Postgres counter store.
func NewPGCounterStore(db *gorm.DB) (*PGCounterStore, error) {
	if err := db.AutoMigrate(&dailyOrderCountRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate daily_order_counts")
	}
	return &PGCounterStore{db: db}, nil
}

func (s *PGCounterStore) Load() (map[string]int, error) {
	var rows []dailyOrderCountRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load daily_order_counts")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Date] = row.Count
	}
	return counts, nil
}

func (s *PGCounterStore) Save(counts map[string]int) error {
	rows := make([]dailyOrderCountRow, 0, len(counts))
	for date, count := range counts {
		rows = append(rows, dailyOrderCountRow{Date: date, Count: count})
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
	if err != nil {
		return errors.Wrap(err, "save daily_order_counts")
	}
	return nil
}

// PGMappingStore persists recovery mappings in Postgres.
type PGMappingStore struct {
	db *gorm.DB
}

// NewPGMappingStore migrates and returns a Postgres mapping store.
func NewPGMappingStore(db *gorm.DB) (*PGMappingStore, error) {
	if err := db.AutoMigrate(&orderMappingRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate order_mappings")
	}
	return &PGMappingStore{db: db}, nil
}

func (s *PGMappingStore) Load() (map[int64]Mapping, error) {
	var rows []orderMappingRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load order_mappings")
	}
	out := make(map[int64]Mapping, len(rows))
	for _, row := range rows {
		out[row.OrderID] = Mapping{
			Symbol:   row.Symbol,
			SignalID: row.SignalID,
			Tag:      row.Tag,
			PlacedAt: row.PlacedAt,
		}
	}
	return out, nil
}

func (s *PGMappingStore) Save(mappings map[int64]Mapping) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&orderMappingRow{}).Error; err != nil {
			return err
		}
		if len(mappings) == 0 {
			return nil
		}
		rows := make([]orderMappingRow, 0, len(mappings))
		for id, m := range mappings {
			rows = append(rows, orderMappingRow{
				OrderID:  id,
				Symbol:   m.Symbol,
				SignalID: m.SignalID,
				Tag:      m.Tag,
				PlacedAt: m.PlacedAt,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return errors.Wrap(err, "save order_mappings")
	}
	return nil
}
