package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// 支援的驅動
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultSQLitePath 未指定 DSN 時的 SQLite 檔案
const DefaultSQLitePath = "recipe-modifier.db"

// Options 資料庫連線設定
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	LogLevel     logger.LogLevel
}

// Store 以 GORM 實作食譜與偏好儲存
type Store struct {
	db *gorm.DB
}

// Open 連線資料庫，必要時執行自動遷移
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	logLevel := opts.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite 單一寫入者，記憶體資料庫也需要共用同一連線
	if opts.Driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}

	if opts.AutoMigrate {
		if err := db.AutoMigrate(&RecipeModel{}, &PreferenceModel{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	common.LogInfo("Database connected",
		zap.String("driver", opts.Driver),
		zap.Bool("auto_migrate", opts.AutoMigrate),
	)
	return &Store{db: db}, nil
}

// NewStore 以既有連線建立儲存
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get 取得食譜；不存在或不屬於 ownerID 時回傳 NotFoundError
func (s *Store) Get(ctx context.Context, ownerID, recipeID string) (*recipe.RecipeSnapshot, error) {
	var model RecipeModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", recipeID, ownerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFoundError("recipe not found")
		}
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return toSnapshot(&model), nil
}

// Save 新增或覆寫食譜；同一 ID 已屬於其他使用者時視為不存在
func (s *Store) Save(ctx context.Context, snapshot *recipe.RecipeSnapshot) error {
	if snapshot == nil || strings.TrimSpace(snapshot.ID) == "" || strings.TrimSpace(snapshot.OwnerID) == "" {
		return common.NewInvalidInputError("recipe id and owner are required", nil)
	}
	model := toModel(snapshot)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RecipeModel
		err := tx.Select("id", "owner_id", "created_at").Where("id = ?", model.ID).First(&existing).Error
		switch {
		case err == nil:
			if existing.OwnerID != model.OwnerID {
				return common.NewNotFoundError("recipe not found")
			}
			model.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		return tx.Save(model).Error
	})
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return err
		}
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	snapshot.UpdatedAt = model.UpdatedAt
	return nil
}

// GetPreferences 取得偏好；尚未設定時回傳 NotFoundError
func (s *Store) GetPreferences(ctx context.Context, userID string) (*recipe.PreferenceSet, error) {
	var model PreferenceModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewNotFoundError("preferences not set")
		}
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	prefs := toPreferenceSet(&model).Normalize()
	return &prefs, nil
}

// SavePreferences 驗證並保存正規化後的偏好
func (s *Store) SavePreferences(ctx context.Context, userID string, prefs recipe.PreferenceSet) error {
	if strings.TrimSpace(userID) == "" {
		return common.NewInvalidInputError("user id is required", nil)
	}
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return err
	}

	model := toPreferenceModel(userID, prefs)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"diet_type", "max_carbs_grams", "excluded_products", "allergens", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

// Ping 檢查資料庫連線
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 關閉資料庫連線
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
