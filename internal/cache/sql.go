package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// entry is one row of the key/value table.
type entry struct {
	Key       string `gorm:"primaryKey;size:512"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "cache_entries" }

// SQLCache keeps entries in a single table through gorm. It backs sessions
// when a shared database is easier to run than blob storage.
type SQLCache struct {
	db *gorm.DB
}

var _ ListCache = (*SQLCache)(nil)

func OpenSQLite(dsn string) (*SQLCache, error) {
	return openSQL(sqlite.Open(dsn))
}

func OpenPostgres(dsn string) (*SQLCache, error) {
	return openSQL(postgres.Open(dsn))
}

func openSQL(dialector gorm.Dialector) (*SQLCache, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return &SQLCache{db: db}, nil
}

func (c *SQLCache) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var e entry
	if err := c.db.WithContext(ctx).First(&e, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return io.NopCloser(strings.NewReader(e.Value)), nil
}

func (c *SQLCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&entry{}).Where("key = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *SQLCache) Put(ctx context.Context, key, value string, opts PutOptions) error {
	e := entry{Key: key, Value: value}
	db := c.db.WithContext(ctx)
	if opts.Condition == PutIfNoneMatch {
		if err := db.Create(&e).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (c *SQLCache) Delete(ctx context.Context, key string) error {
	res := c.db.WithContext(ctx).Delete(&entry{}, "key = ?", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *SQLCache) List(ctx context.Context, prefix string, _ string) ([]string, error) {
	var keys []string
	err := c.db.WithContext(ctx).Model(&entry{}).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i] = strings.TrimPrefix(keys[i], prefix)
	}
	return keys, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Close releases the underlying connection pool.
func (c *SQLCache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
