package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type record struct {
	ID    uint      `gorm:"primaryKey"`
	At    time.Time `gorm:"index;not null"`
	Lobby string    `gorm:"index;size:64;not null"`
	User  string    `gorm:"size:64"`
	Event string    `gorm:"size:32;not null"`
	Team  string    `gorm:"size:64"`
	Value int
	Score int
}

func (record) TableName() string { return "journal_entries" }

// Postgres stores entries in the journal_entries table.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&record{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate journal: %w", err), closeDB(db))
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Write(ctx context.Context, entries []Entry) error {
	rows := make([]record, len(entries))
	for i, e := range entries {
		rows[i] = record{
			At:    e.At,
			Lobby: e.Lobby,
			User:  e.User,
			Event: e.Event,
			Team:  e.Team,
			Value: e.Value,
			Score: e.Score,
		}
	}
	return p.db.WithContext(ctx).Create(&rows).Error
}

func (p *Postgres) Close() error { return closeDB(p.db) }

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
