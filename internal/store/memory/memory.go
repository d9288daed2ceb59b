package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	sales        map[string]domain.Sale
	usersByID    map[string]domain.UserAccount
	usersByEmail map[string]string
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		sales:        make(map[string]domain.Sale),
		usersByID:    make(map[string]domain.UserAccount),
		usersByEmail: make(map[string]string),
	}
}

// NewSeeded builds a store preloaded with demo users and products for
// dev/demo mode. Seed passwords come from SEED_ADMIN_PASSWORD,
// SEED_TELLER_PASSWORD and SEED_CLIENT_PASSWORD; hardcoded dev defaults
// are used with a warning when unset. The seeded store is never used in
// production (the backend uses PostgreSQL when DATABASE_URL is set).
func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{Name: "Smartphone X", PriceCents: 30000, Category: "Phones", Brand: "BrandA", Stock: 10},
		{Name: "Laptop Pro", PriceCents: 120000, Category: "Computers", Brand: "BrandB", Stock: 5},
		{Name: "Wireless Headphones", PriceCents: 8000, Category: "Accessories", Brand: "BrandC", Stock: 25},
	} {
		p.ID = xid.New("prod")
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, u := range seedUsers() {
		s.usersByID[u.ID] = u
		s.usersByEmail[u.Email] = u.ID
	}

	return s
}

func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	tellerPwd := envOr("SEED_TELLER_PASSWORD", "teller123")
	clientPwd := envOr("SEED_CLIENT_PASSWORD", "client123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_TELLER_PASSWORD") == "" || os.Getenv("SEED_CLIENT_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 3)
	for _, u := range []struct {
		name     string
		email    string
		password string
		role     string
	}{
		{"Admin", "admin@store.com", adminPwd, domain.RoleAdmin},
		{"Teller", "teller@store.com", tellerPwd, domain.RoleTeller},
		{"Client", "client@store.com", clientPwd, domain.RoleClient},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users = append(users, domain.UserAccount{
			ID:        xid.New("user"),
			Name:      u.name,
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

// DeleteProduct succeeds even when the id is absent. Callers rely on the
// idempotent contract, not on a NotFound signal.
func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.products, id)
	return nil
}

func (s *Store) DecrementStock(_ context.Context, id string, qty int) error {
	if qty < 1 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	if product.Stock < qty {
		return store.ErrInsufficientStock
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return nil
}

func (s *Store) SetProductImage(_ context.Context, id string, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	product.Image = image
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || sale.TotalCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.sales[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if !saleMatches(sale, filter) {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return result, nil
}

func saleMatches(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.TellerID != "" && sale.TellerID != filter.TellerID {
		return false
	}
	if filter.ClientID != "" && sale.ClientID != filter.ClientID {
		return false
	}
	if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && sale.CreatedAt.After(*filter.To) {
		return false
	}
	if filter.MinTotalCents != nil && sale.TotalCents < *filter.MinTotalCents {
		return false
	}
	if filter.MaxTotalCents != nil && sale.TotalCents > *filter.MaxTotalCents {
		return false
	}
	if filter.ProductID != "" {
		found := false
		for _, item := range sale.Items {
			if item.ProductID == filter.ProductID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.Name == "" || user.Password == "" || !domain.IsValidRole(user.Role) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[email]; exists {
		return nil, store.ErrValidation
	}

	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = email

	s.usersByID[user.ID] = user
	s.usersByEmail[email] = user.ID
	created := user
	return &created, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) GetUsersByIDs(_ context.Context, ids []string) (map[string]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.UserAccount, len(ids))
	for _, id := range ids {
		if u, ok := s.usersByID[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || user.Name == "" || email == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.usersByID[user.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if otherID, taken := s.usersByEmail[email]; taken && otherID != user.ID {
		return nil, store.ErrValidation
	}

	// Role and credentials are managed elsewhere; carry them over.
	user.Role = existing.Role
	user.Password = existing.Password
	user.CreatedAt = existing.CreatedAt
	user.Email = email

	delete(s.usersByEmail, existing.Email)
	s.usersByID[user.ID] = user
	s.usersByEmail[email] = user.ID
	updated := user
	return &updated, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, password string) error {
	if password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByID[id]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByID[id] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByID[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.usersByEmail, user.Email)
	delete(s.usersByID, id)
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src domain.Sale) domain.Sale {
	clone := src
	clone.Items = make([]domain.SaleItem, len(src.Items))
	copy(clone.Items, src.Items)
	return clone
}
