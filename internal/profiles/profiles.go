package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-bookstore-orders.git/internal/auth"
	"github.com/ariefcatur/go-bookstore-orders.git/internal/postgres"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("profile not found")

// Profile is the slice of a user's profile that checkout snapshots onto an order.
type Profile struct {
	ID      string
	Name    string
	Email   string
	Mobile  string
	Address string
	Role    auth.Role
}

func (p Profile) HasShippingAddress() bool { return strings.TrimSpace(p.Address) != "" }

type Repo struct{ DB postgres.DB }

func (r *Repo) Get(ctx context.Context, userID string) (Profile, error) {
	var (
		p    Profile
		role string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, email, mobile, COALESCE(address, ''), role
		FROM profiles WHERE id=$1`, userID,
	).Scan(&p.ID, &p.Name, &p.Email, &p.Mobile, &p.Address, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("select profile: %w", err)
	}
	p.Role = auth.Role(role)
	return p, nil
}

// Role resolves the caller's role for the auth middleware. Users without a profile row are plain users.
func (r *Repo) Role(ctx context.Context, userID string) (auth.Role, error) {
	var role string
	err := r.DB.QueryRow(ctx, `SELECT role FROM profiles WHERE id=$1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.RoleUser, nil
	}
	if err != nil {
		return "", fmt.Errorf("select role: %w", err)
	}
	return auth.Role(role), nil
}
