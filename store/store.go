// Package store persists proxy-check and unlocker-run records and the
// singleton proxy settings row.
//
// Three backends implement Store: an in-memory map, SQLite through gorm,
// and PostgreSQL through bun. All of them share the instance-delete
// semantics in RemoveInstance.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pithecene-io/unlockbench/aggregate"
	"github.com/pithecene-io/unlockbench/log"
	"github.com/pithecene-io/unlockbench/types"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// SettingsID is the primary key of the singleton settings row.
const SettingsID = 1

var (
	// ErrNotFound is returned when a record or instance does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Record is one stored test, either a proxy check or an unlocker run.
type Record struct {
	ID               int64          `json:"id"`
	Credentials      string         `json:"credentials"`
	Port             string         `json:"port"`
	Success          bool           `json:"success"`
	ResponseTime     string         `json:"responseTime"`
	ResponseData     string         `json:"responseData,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	TestType         types.TestType `json:"testType"`
	TestGroup        string         `json:"testGroup,omitempty"`
	URL              string         `json:"url,omitempty"`
	StatusCode       *int           `json:"statusCode,omitempty"`
	ContentType      string         `json:"contentType,omitempty"`
	Content          string         `json:"content,omitempty"`
	Rules            string         `json:"rules,omitempty"`
	Instances        int            `json:"instances"`
	Delay            int            `json:"delay"`
	SuccessRate      string         `json:"successRate,omitempty"`
	InstanceResults  string         `json:"instanceResults,omitempty"`
	ABTestingEnabled bool           `json:"abTestingEnabled"`
}

// Settings is the stored proxy configuration. Nil fields are unset.
type Settings struct {
	ProxyCredentials *string    `json:"proxyCredentials"`
	ProxyPort        *string    `json:"proxyPort"`
	UseTLS           bool       `json:"useTls"`
	LastUpdated      *time.Time `json:"lastUpdated,omitempty"`
}

// Credentials parses the stored credentials. The zero value is returned
// when none are configured.
func (s *Settings) Credentials() (types.Credentials, error) {
	if s == nil || s.ProxyCredentials == nil || *s.ProxyCredentials == "" {
		return types.Credentials{}, nil
	}
	return types.ParseCredentials(*s.ProxyCredentials)
}

// Port returns the configured port or "".
func (s *Settings) Port() string {
	if s == nil || s.ProxyPort == nil {
		return ""
	}
	return *s.ProxyPort
}

// Store is the persistence boundary used by the server and CLI.
type Store interface {
	// CreateTest inserts rec, assigns its ID and returns it.
	CreateTest(ctx context.Context, rec *Record) (int64, error)
	// ListTests returns every record, newest first.
	ListTests(ctx context.Context) ([]Record, error)
	// GetTest returns one record or ErrNotFound.
	GetTest(ctx context.Context, id int64) (*Record, error)
	// DeleteTest deletes a record, or a single instance of a multi-instance
	// run when instanceNum is set.
	DeleteTest(ctx context.Context, id int64, instanceNum *int) error
	// DeleteAllTests removes every record.
	DeleteAllTests(ctx context.Context) error
	// GetSettings returns the settings row, or defaults when none exists.
	GetSettings(ctx context.Context) (*Settings, error)
	// UpdateSettings upserts the settings row.
	UpdateSettings(ctx context.Context, s Settings) (*Settings, error)
	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	DSN     string
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return NewSQLite(cfg.DSN, logger)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// RemoveInstance edits rec in place to drop instance n.
//
// It reports whole=true when the record should be deleted outright: one
// whose stored results hold at most one instance, or one without
// per-instance results. A stopped run stores fewer results than it
// requested, so the stored list decides. When an instance is removed the
// success rate and instance count are recomputed over the remainder.
// ErrNotFound is returned when no instance numbered n exists.
func RemoveInstance(rec *Record, n int) (whole bool, err error) {
	if !gjson.Valid(rec.InstanceResults) {
		return true, nil
	}
	list := gjson.Parse(rec.InstanceResults)
	if !list.IsArray() {
		return true, nil
	}
	items := list.Array()
	if len(items) <= 1 {
		return true, nil
	}

	idx := -1
	for i, item := range items {
		if item.Get("instanceNum").Int() == int64(n) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("instance %d: %w", n, ErrNotFound)
	}

	updated, err := sjson.Delete(rec.InstanceResults, fmt.Sprintf("%d", idx))
	if err != nil {
		return false, fmt.Errorf("failed to edit instance results: %w", err)
	}

	total := len(items) - 1
	success := len(gjson.Get(updated, "#(success==true)#").Array())
	rec.InstanceResults = updated
	rec.SuccessRate = aggregate.SuccessRate(success, total)
	rec.Success = success > 0
	rec.Instances = total
	return false, nil
}

// DefaultSettings is returned when no settings row exists.
func DefaultSettings() *Settings {
	return &Settings{}
}
