package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists profiles.
type Repository interface {
	FindByID(ctx context.Context, id string) (Profile, error)
	FindByPhone(ctx context.Context, phone string) (Profile, error)
	Create(ctx context.Context, profile Profile) error
	Update(ctx context.Context, id string, patch Patch) (Profile, error)
}

// PostgresRepository implements Repository on the profiles table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed profile repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const profileColumns = `id, email, phone, full_name, age, gender, category, city, country,
        address, date_of_birth, avatar_url, created_at, updated_at`

// FindByID fetches a profile by identity id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Profile, error) {
	profileID, err := uuid.Parse(id)
	if err != nil {
		return Profile{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID)
	return scanProfile(row)
}

// FindByPhone fetches a profile by canonical phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Profile, error) {
	if phone == "" {
		return Profile{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1`, phone)
	return scanProfile(row)
}

// Create inserts a new profile. A unique violation is reported as ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, p Profile) error {
	profileID, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("profile id: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.Exec(ctx, `INSERT INTO profiles (id, email, phone, full_name, age, gender, category, city,
        country, address, date_of_birth, avatar_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		profileID, p.Email, p.Phone, p.FullName, p.Age, p.Gender, p.Category, p.City,
		p.Country, p.Address, dateParam(p.DateOfBirth), p.AvatarURL, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

// Update applies patch and returns the stored profile.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch Patch) (Profile, error) {
	profileID, err := uuid.Parse(id)
	if err != nil {
		return Profile{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE profiles SET
            full_name = COALESCE($2, full_name),
            age = COALESCE($3, age),
            gender = COALESCE($4, gender),
            category = COALESCE($5, category),
            city = COALESCE($6, city),
            country = COALESCE($7, country),
            address = COALESCE($8, address),
            date_of_birth = COALESCE($9, date_of_birth),
            avatar_url = COALESCE($10, avatar_url),
            updated_at = $11
        WHERE id = $1
        RETURNING `+profileColumns,
		profileID, patch.FullName, patch.Age, patch.Gender, patch.Category, patch.City,
		patch.Country, patch.Address, dateParam(patch.DateOfBirth), patch.AvatarURL, time.Now().UTC())
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p         Profile
		id        uuid.UUID
		email     pgtype.Text
		phone     pgtype.Text
		fullName  pgtype.Text
		age       pgtype.Int4
		gender    pgtype.Text
		category  pgtype.Text
		city      pgtype.Text
		country   pgtype.Text
		address   pgtype.Text
		dob       pgtype.Date
		avatarURL pgtype.Text
	)
	err := row.Scan(&id, &email, &phone, &fullName, &age, &gender, &category, &city, &country,
		&address, &dob, &avatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	p.ID = id.String()
	p.Email = email.String
	p.Phone = phone.String
	p.FullName = fullName.String
	p.Gender = gender.String
	p.Category = category.String
	p.City = city.String
	p.Country = country.String
	p.Address = address.String
	p.AvatarURL = avatarURL.String
	if age.Valid {
		v := int(age.Int32)
		p.Age = &v
	}
	if dob.Valid {
		d := dob.Time.UTC()
		p.DateOfBirth = &d
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func dateParam(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}
