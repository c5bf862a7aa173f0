package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/types"
)

// DefaultSQLitePath is used when the sqlite backend has no DSN.
const DefaultSQLitePath = "unlockbench.db"

type sqliteTest struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Credentials      string    `gorm:"column:credentials"`
	Port             string    `gorm:"column:port"`
	Success          bool      `gorm:"column:success"`
	ResponseTime     string    `gorm:"column:response_time"`
	ResponseData     string    `gorm:"column:response_data"`
	ErrorMessage     string    `gorm:"column:error_message"`
	CreatedAt        time.Time `gorm:"column:created_at;index"`
	TestType         string    `gorm:"column:test_type;index"`
	TestGroup        string    `gorm:"column:test_group"`
	URL              string    `gorm:"column:url"`
	StatusCode       *int      `gorm:"column:status_code"`
	ContentType      string    `gorm:"column:content_type"`
	Content          string    `gorm:"column:content"`
	Rules            string    `gorm:"column:rules"`
	Instances        int       `gorm:"column:instances"`
	Delay            int       `gorm:"column:delay"`
	SuccessRate      string    `gorm:"column:success_rate"`
	InstanceResults  string    `gorm:"column:instance_results"`
	ABTestingEnabled bool      `gorm:"column:ab_testing_enabled"`
}

func (sqliteTest) TableName() string { return "proxy_tests" }

type sqliteSettings struct {
	ID               int        `gorm:"column:id;primaryKey;autoIncrement:false"`
	ProxyCredentials *string    `gorm:"column:proxy_credentials"`
	ProxyPort        *string    `gorm:"column:proxy_port"`
	UseTLS           bool       `gorm:"column:use_tls"`
	LastUpdated      *time.Time `gorm:"column:last_updated"`
}

func (sqliteSettings) TableName() string { return "proxy_settings" }

// SQLite is a Store backed by an embedded SQLite file through gorm.
type SQLite struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLite opens (creating if needed) the database at path and migrates
// the schema.
func NewSQLite(path string, logger *log.Logger) (*SQLite, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(logger.WithComponent("store")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sqliteTest{}, &sqliteSettings{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// CreateTest implements Store.
func (s *SQLite) CreateTest(ctx context.Context, rec *Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	row := toSQLiteTest(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to insert test: %w", err)
	}
	rec.ID = row.ID
	return row.ID, nil
}

// ListTests implements Store.
func (s *SQLite) ListTests(ctx context.Context) ([]Record, error) {
	var rows []sqliteTest
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// GetTest implements Store.
func (s *SQLite) GetTest(ctx context.Context, id int64) (*Record, error) {
	var row sqliteTest
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test %d: %w", id, err)
	}
	rec := row.record()
	return &rec, nil
}

// DeleteTest implements Store.
func (s *SQLite) DeleteTest(ctx context.Context, id int64, instanceNum *int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sqliteTest
		err := tx.First(&row, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get test %d: %w", id, err)
		}

		if instanceNum != nil {
			rec := row.record()
			whole, err := RemoveInstance(&rec, *instanceNum)
			if err != nil {
				return err
			}
			if !whole {
				return tx.Model(&sqliteTest{}).Where("id = ?", id).Updates(map[string]any{
					"instance_results": rec.InstanceResults,
					"success_rate":     rec.SuccessRate,
					"success":          rec.Success,
					"instances":        rec.Instances,
				}).Error
			}
		}

		if err := tx.Delete(&sqliteTest{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete test %d: %w", id, err)
		}
		return nil
	})
}

// DeleteAllTests implements Store.
func (s *SQLite) DeleteAllTests(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&sqliteTest{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tests: %w", err)
	}
	return nil
}

// GetSettings implements Store.
func (s *SQLite) GetSettings(ctx context.Context) (*Settings, error) {
	var row sqliteSettings
	err := s.db.WithContext(ctx).First(&row, SettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &Settings{
		ProxyCredentials: row.ProxyCredentials,
		ProxyPort:        row.ProxyPort,
		UseTLS:           row.UseTLS,
		LastUpdated:      row.LastUpdated,
	}, nil
}

// UpdateSettings implements Store.
func (s *SQLite) UpdateSettings(ctx context.Context, st Settings) (*Settings, error) {
	if st.LastUpdated == nil {
		now := s.now()
		st.LastUpdated = &now
	}
	row := sqliteSettings{
		ID:               SettingsID,
		ProxyCredentials: st.ProxyCredentials,
		ProxyPort:        st.ProxyPort,
		UseTLS:           st.UseTLS,
		LastUpdated:      st.LastUpdated,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert settings: %w", err)
	}
	return &st, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toSQLiteTest(r *Record) sqliteTest {
	return sqliteTest{
		ID:               r.ID,
		Credentials:      r.Credentials,
		Port:             r.Port,
		Success:          r.Success,
		ResponseTime:     r.ResponseTime,
		ResponseData:     r.ResponseData,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
		TestType:         string(r.TestType),
		TestGroup:        r.TestGroup,
		URL:              r.URL,
		StatusCode:       r.StatusCode,
		ContentType:      r.ContentType,
		Content:          r.Content,
		Rules:            r.Rules,
		Instances:        r.Instances,
		Delay:            r.Delay,
		SuccessRate:      r.SuccessRate,
		InstanceResults:  r.InstanceResults,
		ABTestingEnabled: r.ABTestingEnabled,
	}
}

func (r sqliteTest) record() Record {
	return Record{
		ID:               r.ID,
		Credentials:      r.Credentials,
		Port:             r.Port,
		Success:          r.Success,
		ResponseTime:     r.ResponseTime,
		ResponseData:     r.ResponseData,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
		TestType:         types.TestType(r.TestType),
		TestGroup:        r.TestGroup,
		URL:              r.URL,
		StatusCode:       r.StatusCode,
		ContentType:      r.ContentType,
		Content:          r.Content,
		Rules:            r.Rules,
		Instances:        r.Instances,
		Delay:            r.Delay,
		SuccessRate:      r.SuccessRate,
		InstanceResults:  r.InstanceResults,
		ABTestingEnabled: r.ABTestingEnabled,
	}
}
