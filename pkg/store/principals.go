package store

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

func (s *Store) CreatePrincipal(ctx context.Context, username, password string) (*Principal, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		Username:     username,
		PasswordHash: string(hash),
		Active:       true,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func (s *Store) GetPrincipal(ctx context.Context, id uint) (*Principal, error) {
	var p Principal
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error) {
	var p Principal
	if err := s.db.WithContext(ctx).First(&p, "username = ?", username).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// Authenticate validates a username/password pair. Inactive principals fail
// the same way as bad credentials.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*Principal, bool) {
	p, err := s.GetPrincipalByUsername(ctx, username)
	if err != nil || !p.Active {
		return nil, false
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return nil, false
	}
	return p, true
}
