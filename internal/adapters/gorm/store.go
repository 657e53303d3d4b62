package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faas-controller/internal/core/functions"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	gormlib "gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the gorm-backed function registry.
type Store struct {
	db *gormlib.DB
	lg zerolog.Logger
}

// New opens the database and migrates the schema.
func New(driver, dsn string, lg zerolog.Logger) (*Store, error) {
	var dialector gormlib.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	lg = lg.With().Str("adapter", "gorm").Str("driver", driver).Logger()
	db, err := gormlib.Open(dialector, &gormlib.Config{
		TranslateError: true,
		Logger:         newLogger(lg, 200*time.Millisecond),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&functions.Function{}, &functions.Deployment{}, &functions.Invocation{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, lg: lg}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) CreateFunction(ctx context.Context, fn *functions.Function) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gormlib.DB) error {
		var live int64
		err := tx.Model(&functions.Function{}).
			Where("project = ? AND name = ? AND region = ? AND status <> ?", fn.Project, fn.Name, fn.Region, functions.StatusDeleted).
			Count(&live).Error
		if err != nil {
			return fmt.Errorf("check existing function: %w", err)
		}
		if live > 0 {
			return conflict(fn)
		}
		if err := tx.Create(fn).Error; err != nil {
			if errors.Is(err, gormlib.ErrDuplicatedKey) {
				return conflict(fn)
			}
			return fmt.Errorf("db create function record: %w", err)
		}
		return nil
	})
}

func conflict(fn *functions.Function) error {
	return fmt.Errorf("%w: %s/%s in region %s", functions.ErrConflict, fn.Project, fn.Name, fn.Region)
}

func (s *Store) UpdateFunction(ctx context.Context, fn *functions.Function) error {
	if err := s.db.WithContext(ctx).Save(fn).Error; err != nil {
		return fmt.Errorf("db update function record: %w", err)
	}
	return nil
}

func (s *Store) GetFunction(ctx context.Context, project, name, region string) (*functions.Function, error) {
	var fn functions.Function
	err := s.db.WithContext(ctx).
		Where("project = ? AND name = ? AND region = ? AND status <> ?", project, name, region, functions.StatusDeleted).
		First(&fn).Error
	if errors.Is(err, gormlib.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s in region %s", functions.ErrNotFound, project, name, region)
	}
	if err != nil {
		return nil, fmt.Errorf("db get function: %w", err)
	}
	return &fn, nil
}

func (s *Store) ListFunctions(ctx context.Context, project string) ([]functions.Function, error) {
	var list []functions.Function
	err := s.db.WithContext(ctx).
		Where("project = ? AND status <> ?", project, functions.StatusDeleted).
		Order("name, region").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("db list functions: %w", err)
	}
	return list, nil
}

func (s *Store) ListPending(ctx context.Context) ([]functions.Function, error) {
	var list []functions.Function
	if err := s.db.WithContext(ctx).Where("status = ?", functions.StatusPending).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("db list pending functions: %w", err)
	}
	return list, nil
}

func (s *Store) FunctionHistory(ctx context.Context, project, name string) ([]functions.Function, error) {
	var list []functions.Function
	err := s.db.WithContext(ctx).
		Where("project = ? AND name = ?", project, name).
		Order("created_at").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("db function history: %w", err)
	}
	return list, nil
}

func (s *Store) CreateDeployment(ctx context.Context, d *functions.Deployment) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("db create deployment record: %w", err)
	}
	return nil
}

func (s *Store) ListDeployments(ctx context.Context, project, name string) ([]functions.Deployment, error) {
	var list []functions.Deployment
	err := s.db.WithContext(ctx).
		Where("project = ? AND function_name = ?", project, name).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("db list deployments: %w", err)
	}
	return list, nil
}

func (s *Store) AppendInvocation(ctx context.Context, inv *functions.Invocation) error {
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("db append invocation: %w", err)
	}
	return nil
}

func (s *Store) ListInvocations(ctx context.Context, functionIDs []string, from, to time.Time) ([]functions.Invocation, error) {
	if len(functionIDs) == 0 {
		return nil, nil
	}
	var list []functions.Invocation
	err := s.db.WithContext(ctx).
		Where("function_id IN ? AND invoked_at >= ? AND invoked_at < ?", functionIDs, from.UTC(), to.UTC()).
		Order("invoked_at").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("db list invocations: %w", err)
	}
	return list, nil
}
