package domain

import "time"

const (
	RoleAdmin  = "admin"
	RoleTeller = "teller"
	RoleClient = "client"
)

const (
	PaymentCash  = "cash"
	PaymentMomo  = "momo"
	PaymentCard  = "card"
	PaymentOther = "other"
)

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PriceCents  int64     `json:"price_cents"`
	Category    string    `json:"category,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	Image       string    `json:"image,omitempty"`
	Stock       int       `json:"stock"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Category    string `json:"category"`
	Brand       string `json:"brand"`
	Image       string `json:"image"`
	Stock       int    `json:"stock"`
	Description string `json:"description"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	PriceCents  *int64  `json:"price_cents,omitempty"`
	Category    *string `json:"category,omitempty"`
	Brand       *string `json:"brand,omitempty"`
	Image       *string `json:"image,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	Description *string `json:"description,omitempty"`
}

// SaleLineRequest is one requested cart line. Any price submitted by the
// client is ignored; the catalog price at sale time is authoritative.
type SaleLineRequest struct {
	ProductID string `json:"product"`
	Qty       int    `json:"qty"`
}

type PaymentBreakdown struct {
	CashCents  int64 `json:"cash"`
	MomoCents  int64 `json:"momo"`
	CardCents  int64 `json:"card"`
	OtherCents int64 `json:"other"`
}

// Total reports the sum across all four channels.
func (b PaymentBreakdown) Total() int64 {
	return b.CashCents + b.MomoCents + b.CardCents + b.OtherCents
}

type SaleCreateRequest struct {
	Items            []SaleLineRequest `json:"items"`
	ClientID         string            `json:"client_id,omitempty"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	PaymentBreakdown *PaymentBreakdown `json:"payment_breakdown,omitempty"`
}

// SaleItem is a persisted line item with the unit price captured at the
// moment of sale. Later product price changes do not affect it.
type SaleItem struct {
	ProductID  string `json:"product"`
	Qty        int    `json:"qty"`
	PriceCents int64  `json:"price_cents"`
}

type Sale struct {
	ID               string           `json:"id"`
	Items            []SaleItem       `json:"items"`
	TellerID         string           `json:"teller,omitempty"`
	ClientID         string           `json:"client,omitempty"`
	TotalCents       int64            `json:"total_cents"`
	PaymentMethod    string           `json:"payment_method"`
	PaymentBreakdown PaymentBreakdown `json:"payment_breakdown"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SaleItemView is a line item resolved against the catalog at read time.
// ProductName falls back to "(deleted)" when the product no longer exists.
type SaleItemView struct {
	ProductID    string `json:"product"`
	ProductName  string `json:"product_name"`
	ProductImage string `json:"product_image,omitempty"`
	Qty          int    `json:"qty"`
	PriceCents   int64  `json:"price_cents"`
}

type SaleView struct {
	ID               string           `json:"id"`
	Items            []SaleItemView   `json:"items"`
	TellerID         string           `json:"teller,omitempty"`
	TellerName       string           `json:"teller_name,omitempty"`
	ClientID         string           `json:"client,omitempty"`
	TotalCents       int64            `json:"total_cents"`
	PaymentMethod    string           `json:"payment_method"`
	PaymentBreakdown PaymentBreakdown `json:"payment_breakdown"`
	CreatedAt        time.Time        `json:"created_at"`
}

// SaleFilter narrows a sales query. Zero values mean no constraint;
// all bounds are inclusive.
type SaleFilter struct {
	TellerID      string
	ClientID      string
	ProductID     string
	From          *time.Time
	To            *time.Time
	MinTotalCents *int64
	MaxTotalCents *int64
}

type ImageAssignment struct {
	ProductID string `json:"product"`
	Name      string `json:"name"`
	Image     string `json:"image"`
}

type AssignImagesResponse struct {
	Updated int               `json:"updated"`
	Details []ImageAssignment `json:"details"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// User is the client-facing shape; the password hash never leaves the server.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the internal persistence model including credentials.
type UserAccount struct {
	ID        string
	Name      string
	Email     string
	Password  string
	Role      string
	CreatedAt time.Time
}

func (u UserAccount) Public() User {
	return User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// Actor is the authenticated identity attached to a request context.
type Actor struct {
	ID   string
	Name string
	Role string
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeller, RoleClient:
		return true
	}
	return false
}

func IsValidPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentMomo, PaymentCard, PaymentOther:
		return true
	}
	return false
}
