package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/pithecene-io/unlockbench/types"
)

type pgTest struct {
	bun.BaseModel `bun:"table:proxy_tests,alias:pt"`

	ID               int64     `bun:"id,pk,autoincrement"`
	Credentials      string    `bun:"credentials"`
	Port             string    `bun:"port"`
	Success          bool      `bun:"success,notnull"`
	ResponseTime     string    `bun:"response_time"`
	ResponseData     string    `bun:"response_data"`
	ErrorMessage     string    `bun:"error_message"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp"`
	TestType         string    `bun:"test_type,notnull"`
	TestGroup        string    `bun:"test_group"`
	URL              string    `bun:"url"`
	StatusCode       *int      `bun:"status_code"`
	ContentType      string    `bun:"content_type"`
	Content          string    `bun:"content"`
	Rules            string    `bun:"rules"`
	Instances        int       `bun:"instances,notnull"`
	Delay            int       `bun:"delay,notnull"`
	SuccessRate      string    `bun:"success_rate"`
	InstanceResults  string    `bun:"instance_results"`
	ABTestingEnabled bool      `bun:"ab_testing_enabled,notnull"`
}

type pgSettings struct {
	bun.BaseModel `bun:"table:proxy_settings,alias:ps"`

	ID               int        `bun:"id,pk"`
	ProxyCredentials *string    `bun:"proxy_credentials"`
	ProxyPort        *string    `bun:"proxy_port"`
	UseTLS           bool       `bun:"use_tls,notnull"`
	LastUpdated      *time.Time `bun:"last_updated"`
}

// Postgres is a Store backed by PostgreSQL through bun.
type Postgres struct {
	db  *bun.DB
	now func() time.Time
}

// NewPostgres connects to dsn and creates the tables if missing.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	p := &Postgres{db: db, now: time.Now}
	if err := p.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) createSchema(ctx context.Context) error {
	models := []any{(*pgTest)(nil), (*pgSettings)(nil)}
	for _, m := range models {
		if _, err := p.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	_, err := p.db.NewCreateIndex().
		Model((*pgTest)(nil)).
		Index("proxy_tests_created_at_idx").
		Column("created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// CreateTest implements Store.
func (p *Postgres) CreateTest(ctx context.Context, rec *Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = p.now()
	}
	row := toPGTest(rec)
	err := p.db.NewInsert().
		Model(&row).
		Returning("id").
		Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test: %w", err)
	}
	rec.ID = row.ID
	return row.ID, nil
}

// ListTests implements Store.
func (p *Postgres) ListTests(ctx context.Context) ([]Record, error) {
	var rows []pgTest
	err := p.db.NewSelect().
		Model(&rows).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// GetTest implements Store.
func (p *Postgres) GetTest(ctx context.Context, id int64) (*Record, error) {
	row, err := getPGTest(ctx, p.db, id)
	if err != nil {
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

func getPGTest(ctx context.Context, db bun.IDB, id int64) (*pgTest, error) {
	row := new(pgTest)
	err := db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test %d: %w", id, err)
	}
	return row, nil
}

// DeleteTest implements Store.
func (p *Postgres) DeleteTest(ctx context.Context, id int64, instanceNum *int) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := getPGTest(ctx, tx, id)
		if err != nil {
			return err
		}

		if instanceNum != nil {
			rec := row.record()
			whole, err := RemoveInstance(&rec, *instanceNum)
			if err != nil {
				return err
			}
			if !whole {
				updated := toPGTest(&rec)
				_, err := tx.NewUpdate().
					Model(&updated).
					Column("instance_results", "success_rate", "success", "instances").
					WherePK().
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("failed to update test %d: %w", id, err)
				}
				return nil
			}
		}

		_, err = tx.NewDelete().
			Model((*pgTest)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete test %d: %w", id, err)
		}
		return nil
	})
}

// DeleteAllTests implements Store.
func (p *Postgres) DeleteAllTests(ctx context.Context) error {
	_, err := p.db.NewDelete().
		Model((*pgTest)(nil)).
		Where("TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete tests: %w", err)
	}
	return nil
}

// GetSettings implements Store.
func (p *Postgres) GetSettings(ctx context.Context) (*Settings, error) {
	row := new(pgSettings)
	err := p.db.NewSelect().Model(row).Where("id = ?", SettingsID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
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
func (p *Postgres) UpdateSettings(ctx context.Context, st Settings) (*Settings, error) {
	if st.LastUpdated == nil {
		now := p.now()
		st.LastUpdated = &now
	}
	row := &pgSettings{
		ID:               SettingsID,
		ProxyCredentials: st.ProxyCredentials,
		ProxyPort:        st.ProxyPort,
		UseTLS:           st.UseTLS,
		LastUpdated:      st.LastUpdated,
	}
	_, err := p.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("proxy_credentials = EXCLUDED.proxy_credentials").
		Set("proxy_port = EXCLUDED.proxy_port").
		Set("use_tls = EXCLUDED.use_tls").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert settings: %w", err)
	}
	return &st, nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func toPGTest(r *Record) pgTest {
	return pgTest{
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

func (r pgTest) record() Record {
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
