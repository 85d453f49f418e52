package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/repository"
)

const tokenIssuer = "template-storefront"

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// accessClaims is what the auth middleware reads back: the user id as "sub"
// and the role that gates the admin order routes.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService signs up storefront customers and issues bearer tokens for
// checkout, template purchases and the admin order routes.
type AuthService struct {
	users     repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
	now       func() time.Time
	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash []byte
}

func NewAuthService(users repository.UserRepository, jwtSecret string, jwtExpiry time.Duration) *AuthService {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("storefront-placeholder"), bcrypt.MinCost)
	return &AuthService{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		jwtExpiry: jwtExpiry,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// Register creates a customer account. Admins are provisioned out of band,
// never through this path.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:     email,
		Password:  string(hashed),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      model.RoleCustomer,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// Two concurrent sign-ups can both pass the lookup above.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.session(user)
}

func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*dto.AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *AuthService) session(user *model.User) (*dto.AuthResponse, error) {
	issued := s.now()
	expires := issued.Add(s.jwtExpiry)

	claims := accessClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &dto.AuthResponse{
		Token:     token,
		ExpiresAt: expires.UTC(),
		User: dto.UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.Role,
		},
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
