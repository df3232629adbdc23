package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// normEmail trims and lowercases the email (needed if DB col isnt citext)
func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// CreateUser inserts a new user with a hashed password
func (p *Postgres) CreateUser(ctx context.Context, email, name, password string) (User, error) {
	email = normEmail(email)
	if email == "" || password == "" {
		return User{}, errors.New("missing email or password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, name, avatar_url, created_at
	`, email, name, string(hash))

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrConflict
		}
		return User{}, err
	}
	return u, nil
}

// GetUserByEmail returns the user + hashed password for login verification
func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, _, err := p.userWithHash(ctx, email)
	return u, err
}

func (p *Postgres) userWithHash(ctx context.Context, email string) (User, string, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, email, name, avatar_url, password_hash, created_at
		FROM users
		WHERE email = $1
	`, normEmail(email))

	var u User
	var hash string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &hash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, "", ErrNotFound
		}
		return User{}, "", err
	}
	return u, hash, nil
}

// VerifyUser checks email + password match
func (p *Postgres) VerifyUser(ctx context.Context, email, password string) (User, error) {
	u, hash, err := p.userWithHash(ctx, email)
	if err != nil {
		return User{}, errors.New("invalid credentials")
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, errors.New("invalid credentials")
	}

	return u, nil
}

// UpdateProfile overwrites mutable profile fields for an existing user
func (p *Postgres) UpdateProfile(ctx context.Context, email, name, avatarURL string) (User, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE users
		SET name = $2, avatar_url = $3
		WHERE email = $1
		RETURNING id, email, name, avatar_url, created_at
	`, normEmail(email), name, avatarURL)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
