package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

// ErrNotFound: общий sentinel хранилищ, чтобы сервисы проверяли его одинаково для всех бэкендов.
var ErrNotFound = storage.ErrNotFound

// userCols: список колонок для SELECT.
const userCols = `id, name, email, cohort, program_track, is_verified_alumni, profile_photo_url, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s pgx.Row, u *model.User) error {
	return s.Scan(&u.ID, &u.Name, &u.Email, &u.Cohort, &u.ProgramTrack, &u.IsVerifiedAlumni, &u.ProfilePhotoURL, &u.CreatedAt)
}

// CreateUser нужен для сидов и -dev режима; в проде пользователей пишет CRUD-слой.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Name, u.Email, u.Cohort, u.ProgramTrack, u.IsVerifiedAlumni, u.ProfilePhotoURL, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}
