package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"foundersforum/pkg/domain"
)

// registrationsLockKey serializes schema migration across replicas starting
// at the same time.
const registrationsLockKey int64 = 52025001

// MaxListLimit caps ListRegistrations page sizes.
const MaxListLimit = 500

// GormOptions tunes the Postgres connection. Zero values use defaults.
type GormOptions struct {
	SlowQuery    time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore opens the DB, sizes the pool and migrates the registrations
// table. GORM warnings go to the default slog logger.
func NewGormStore(dsn string, opts GormOptions) (*GormStore, error) {
	if opts.SlowQuery <= 0 {
		opts.SlowQuery = time.Second
	}
	gormLog := gormlogger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             opts.SlowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrateRegistrations(ctx, db, sqlDB); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// migrateRegistrations holds a session-level advisory lock on a dedicated
// connection while AutoMigrate and the identity index run.
func migrateRegistrations(ctx context.Context, db *gorm.DB, sqlDB *sql.DB) error {
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", registrationsLockKey); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", registrationsLockKey)
	}()

	tx := db.WithContext(ctx)
	if err := tx.AutoMigrate(&RegistrationModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// Search compares lower(name) and lower(email); see SearchRegistrations.
	if err := tx.Exec(`CREATE INDEX IF NOT EXISTS registrations_identity_idx
		ON registrations (lower(email), lower(name))`).Error; err != nil {
		return fmt.Errorf("create identity index: %w", err)
	}
	return nil
}

// InsertRegistration writes one row and returns it with id and created_at.
func (s *GormStore) InsertRegistration(ctx context.Context, app domain.Application) (domain.Registration, error) {
	model := registrationToModel(uuid.NewString(), app, s.now().UTC())
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Registration{}, fmt.Errorf("insert registration: %w", err)
	}
	return registrationFromModel(model), nil
}

// SearchRegistrations matches name and email by case-insensitive equality.
// % and _ in the input match literally.
func (s *GormStore) SearchRegistrations(ctx context.Context, name, email string) ([]domain.Registration, error) {
	return s.listRegistrations(ctx, 0, "LOWER(name) = LOWER(?) AND LOWER(email) = LOWER(?)", name, email)
}

// ListRegistrations returns the newest registrations first.
func (s *GormStore) ListRegistrations(ctx context.Context, limit int) ([]domain.Registration, error) {
	return s.listRegistrations(ctx, clampLimit(limit))
}

func (s *GormStore) listRegistrations(ctx context.Context, limit int, conds ...any) ([]domain.Registration, error) {
	var models []RegistrationModel
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	res := make([]domain.Registration, 0, len(models))
	for _, m := range models {
		res = append(res, registrationFromModel(m))
	}
	return res, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
