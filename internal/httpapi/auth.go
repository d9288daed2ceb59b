package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// AuthManager owns credentials and token issuance. User records live in
// the repository; the manager only holds the signing secret.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
}

// UserStore is the slice of the repository AuthManager needs.
// store.Repository satisfies it.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, id string, password string) error
	DeleteUser(ctx context.Context, id string) error
}

type tillClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
	// Startup operation; no request context exists yet.
	manager.upgradeLegacyPasswords(context.Background())
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		Name:        user.Name,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register creates a self-service account. Public signup is always a
// client; staff roles go through the admin users endpoint.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	return a.createAccount(ctx, domain.UserCreateRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.RoleClient,
	})
}

// CreateUser is the admin path and may assign any role.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if !domain.IsValidRole(strings.TrimSpace(req.Role)) {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, req.Role)
	}
	return a.createAccount(ctx, req)
}

func (a *AuthManager) createAccount(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("%w: name and a valid email are required", store.ErrValidation)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}

	created, err := a.users.CreateUser(ctx, domain.UserAccount{
		ID:        xid.New("user"),
		Name:      name,
		Email:     email,
		Password:  hash,
		Role:      req.Role,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.User{}, err
	}
	return created.Public(), nil
}

func (a *AuthManager) ChangePassword(ctx context.Context, userID string, req domain.ChangePasswordRequest) error {
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !verifyPassword(user.Password, req.CurrentPassword) {
		return errors.New("current password does not match")
	}
	if len(strings.TrimSpace(req.NewPassword)) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return a.users.UpdateUserPassword(ctx, user.ID, hash)
}

func (a *AuthManager) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return user.Public(), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		result = append(result, account.Public())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Email < result[j].Email
	})
	return result, nil
}

func (a *AuthManager) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	existing, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if !strings.Contains(email, "@") {
			return domain.User{}, fmt.Errorf("%w: invalid email", store.ErrValidation)
		}
		updated.Email = email
	}

	saved, err := a.users.UpdateUser(ctx, updated)
	if err != nil {
		return domain.User{}, err
	}
	return saved.Public(), nil
}

func (a *AuthManager) DeleteUser(ctx context.Context, id string) error {
	return a.users.DeleteUser(ctx, id)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tillClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Name: claims.Name, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := tillClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tillbook",
		},
		Role: user.Role,
		Name: user.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// upgradeLegacyPasswords rehashes any plain-text password found in the
// store. Seed data and hand-inserted rows may predate bcrypt.
func (a *AuthManager) upgradeLegacyPasswords(ctx context.Context) {
	if a.users == nil {
		return
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return
	}
	for _, account := range accounts {
		if isPasswordHash(account.Password) {
			continue
		}
		hashed, err := hashPassword(account.Password)
		if err != nil {
			continue
		}
		_ = a.users.UpdateUserPassword(ctx, account.ID, hashed)
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
