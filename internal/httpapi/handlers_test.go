package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/events"
	"tillbook/backend/internal/imagematch"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopCatalogCache{}, events.NoopSalePublisher{}, imagematch.StaticLister{}, "/uploads/products", 30*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", "")
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func login(t *testing.T, handler http.Handler, email, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", email, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

// do issues a request with optional bearer token and CSRF header and
// decodes the JSON response into out when it is non-nil.
func do(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"email": "admin@store.com", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRegisterCreatesClientAccount(t *testing.T) {
	handler := newTestAPI(t).Handler()

	var created struct {
		User domain.User `json:"user"`
	}
	rec := do(t, handler, http.MethodPost, "/api/auth/register", "", "", map[string]string{
		"name":     "Kofi",
		"email":    "kofi@example.com",
		"password": "secret99",
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if created.User.Role != domain.RoleClient {
		t.Fatalf("expected self-registered user to be a client, got %s", created.User.Role)
	}

	token := login(t, handler, "kofi@example.com", "secret99")
	if token == "" {
		t.Fatalf("expected login token for registered user")
	}
}

func TestProductsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/api/products", "", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestProductLifecycle(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin@store.com", "admin123")
	teller := login(t, handler, "teller@store.com", "teller123")
	csrf := fetchCSRFToken(t, handler)

	var created struct {
		Product domain.Product `json:"product"`
	}
	rec := do(t, handler, http.MethodPost, "/api/products", admin, csrf, map[string]any{
		"name":        "Electric Kettle",
		"price_cents": 4500,
		"stock":       12,
		"category":    "Kitchen",
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	id := created.Product.ID

	var listed struct {
		Products []domain.Product `json:"products"`
	}
	rec = do(t, handler, http.MethodGet, "/api/products", teller, "", nil, &listed)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products: expected 200, got %d", rec.Code)
	}
	found := false
	for _, p := range listed.Products {
		if p.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected new product in catalog list")
	}

	var updated struct {
		Product domain.Product `json:"product"`
	}
	rec = do(t, handler, http.MethodPut, "/api/products/"+id, admin, csrf, map[string]any{
		"price_cents": 4800,
	}, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("update product: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if updated.Product.PriceCents != 4800 {
		t.Fatalf("expected updated price 4800, got %d", updated.Product.PriceCents)
	}

	rec = do(t, handler, http.MethodDelete, "/api/products/"+id, admin, csrf, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete product: expected 200, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/products/"+id, admin, "", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}

	// Repeated delete still succeeds.
	rec = do(t, handler, http.MethodDelete, "/api/products/"+id, admin, csrf, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected idempotent delete to return 200, got %d", rec.Code)
	}
}

func TestProductCreateForbiddenForTeller(t *testing.T) {
	handler := newTestAPI(t).Handler()
	teller := login(t, handler, "teller@store.com", "teller123")
	csrf := fetchCSRFToken(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/products", teller, csrf, map[string]any{
		"name":        "Contraband",
		"price_cents": 1,
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for teller, got %d", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin@store.com", "admin123")
	teller := login(t, handler, "teller@store.com", "teller123")
	csrf := fetchCSRFToken(t, handler)

	var created struct {
		Product domain.Product `json:"product"`
	}
	rec := do(t, handler, http.MethodPost, "/api/products", admin, csrf, map[string]any{
		"name":        "Thermos",
		"price_cents": 5000,
		"stock":       10,
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d", rec.Code)
	}

	var saleResp struct {
		Sale domain.Sale `json:"sale"`
	}
	rec = do(t, handler, http.MethodPost, "/api/sales", teller, csrf, map[string]any{
		"items": []map[string]any{{"product": created.Product.ID, "qty": 3}},
	}, &saleResp)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if saleResp.Sale.TotalCents != 15000 {
		t.Fatalf("expected total 15000, got %d", saleResp.Sale.TotalCents)
	}
	if saleResp.Sale.PaymentBreakdown.CashCents != 15000 {
		t.Fatalf("expected default cash breakdown, got %+v", saleResp.Sale.PaymentBreakdown)
	}

	// Over-selling the remaining stock fails with 400 and leaves it alone.
	rec = do(t, handler, http.MethodPost, "/api/sales", teller, csrf, map[string]any{
		"items": []map[string]any{{"product": created.Product.ID, "qty": 50}},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on insufficient stock, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var product struct {
		Product domain.Product `json:"product"`
	}
	rec = do(t, handler, http.MethodGet, "/api/products/"+created.Product.ID, teller, "", nil, &product)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product: %d", rec.Code)
	}
	if product.Product.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", product.Product.Stock)
	}

	var sales struct {
		Sales []domain.SaleView `json:"sales"`
	}
	rec = do(t, handler, http.MethodGet, "/api/sales", teller, "", nil, &sales)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sales: %d", rec.Code)
	}
	if len(sales.Sales) != 1 {
		t.Fatalf("expected teller to see 1 sale, got %d", len(sales.Sales))
	}
	if sales.Sales[0].Items[0].ProductName != "Thermos" {
		t.Fatalf("expected resolved product name, got %q", sales.Sales[0].Items[0].ProductName)
	}
}

func TestSalesRoleScopingOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin@store.com", "admin123")
	teller := login(t, handler, "teller@store.com", "teller123")
	client := login(t, handler, "client@store.com", "client123")
	csrf := fetchCSRFToken(t, handler)

	var created struct {
		Product domain.Product `json:"product"`
	}
	rec := do(t, handler, http.MethodPost, "/api/products", admin, csrf, map[string]any{
		"name":        "Juicer",
		"price_cents": 9000,
		"stock":       40,
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d", rec.Code)
	}

	saleBody := map[string]any{"items": []map[string]any{{"product": created.Product.ID, "qty": 1}}}
	for _, token := range []string{teller, client, admin} {
		if rec := do(t, handler, http.MethodPost, "/api/sales", token, csrf, saleBody, nil); rec.Code != http.StatusCreated {
			t.Fatalf("seed sale failed: %d (body: %s)", rec.Code, rec.Body.String())
		}
	}

	var view struct {
		Sales []domain.SaleView `json:"sales"`
	}
	do(t, handler, http.MethodGet, "/api/sales", teller, "", nil, &view)
	if len(view.Sales) != 1 {
		t.Fatalf("expected teller to see only own sale, got %d", len(view.Sales))
	}

	view.Sales = nil
	do(t, handler, http.MethodGet, "/api/sales", client, "", nil, &view)
	if len(view.Sales) != 1 {
		t.Fatalf("expected client to see only own sale, got %d", len(view.Sales))
	}

	view.Sales = nil
	do(t, handler, http.MethodGet, "/api/sales", admin, "", nil, &view)
	if len(view.Sales) != 3 {
		t.Fatalf("expected admin to see all 3 sales, got %d", len(view.Sales))
	}
}

func TestChangePassword(t *testing.T) {
	handler := newTestAPI(t).Handler()
	client := login(t, handler, "client@store.com", "client123")
	csrf := fetchCSRFToken(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/auth/change-password", client, csrf, map[string]string{
		"current_password": "client123",
		"new_password":     "brandnew99",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	payload, _ := json.Marshal(map[string]string{"email": "client@store.com", "password": "client123"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	old := httptest.NewRecorder()
	handler.ServeHTTP(old, req)
	if old.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password rejected, got %d", old.Code)
	}

	login(t, handler, "client@store.com", "brandnew99")
}

func TestUsersAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := login(t, handler, "admin@store.com", "admin123")
	teller := login(t, handler, "teller@store.com", "teller123")
	csrf := fetchCSRFToken(t, handler)

	rec := do(t, handler, http.MethodGet, "/api/users", teller, "", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for teller listing users, got %d", rec.Code)
	}

	var created struct {
		User domain.User `json:"user"`
	}
	rec = do(t, handler, http.MethodPost, "/api/users", admin, csrf, map[string]string{
		"name":     "Second Teller",
		"email":    "teller2@store.com",
		"password": "teller456",
		"role":     domain.RoleTeller,
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var updated struct {
		User domain.User `json:"user"`
	}
	rec = do(t, handler, http.MethodPut, "/api/users/"+created.User.ID, admin, csrf, map[string]string{
		"name": "Renamed Teller",
	}, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("update user: expected 200, got %d", rec.Code)
	}
	if updated.User.Name != "Renamed Teller" {
		t.Fatalf("expected renamed user, got %q", updated.User.Name)
	}

	rec = do(t, handler, http.MethodDelete, "/api/users/"+created.User.ID, admin, csrf, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete user: expected 200, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodGet, "/api/users/"+created.User.ID, admin, "", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted user, got %d", rec.Code)
	}
}

func TestAssignImagesEndpoint(t *testing.T) {
	repo := memory.New()
	lister := imagematch.StaticLister{Files: []string{"thermos-steel.jpg"}}
	svc := service.New(repo, cache.NoopCatalogCache{}, events.NoopSalePublisher{}, lister, "/uploads/products", 30*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	handler := New(svc, auth, "*", "").Handler()

	// Bare store has no seed users; create the admin through the auth
	// manager directly.
	if _, err := auth.CreateUser(context.Background(), domain.UserCreateRequest{
		Name: "Root", Email: "root@store.com", Password: "root123", Role: domain.RoleAdmin,
	}); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	token := login(t, handler, "root@store.com", "root123")
	csrf := fetchCSRFToken(t, handler)

	var created struct {
		Product domain.Product `json:"product"`
	}
	rec := do(t, handler, http.MethodPost, "/api/products", token, csrf, map[string]any{
		"name":        "Thermos",
		"price_cents": 5000,
		"stock":       3,
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d", rec.Code)
	}

	var resp domain.AssignImagesResponse
	rec = do(t, handler, http.MethodPost, "/api/products/assign-images", token, csrf, nil, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign images: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if resp.Updated != 1 {
		t.Fatalf("expected 1 product updated, got %d", resp.Updated)
	}
	if resp.Details[0].Image != "/uploads/products/thermos-steel.jpg" {
		t.Fatalf("unexpected image path: %q", resp.Details[0].Image)
	}

	var images struct {
		Images []string `json:"images"`
	}
	rec = do(t, handler, http.MethodGet, "/api/products/images", token, "", nil, &images)
	if rec.Code != http.StatusOK {
		t.Fatalf("list images: %d", rec.Code)
	}
	if len(images.Images) != 1 || images.Images[0] != "thermos-steel.jpg" {
		t.Fatalf("unexpected image listing: %v", images.Images)
	}
}

// Every operation in the policy table, checked against every role.
func TestOpPolicyTable(t *testing.T) {
	adminOnly := map[string]bool{domain.RoleAdmin: true}
	everyone := map[string]bool{domain.RoleAdmin: true, domain.RoleTeller: true, domain.RoleClient: true}

	expectations := map[string]map[string]bool{
		opProductList:    everyone,
		opProductGet:     everyone,
		opProductCreate:  adminOnly,
		opProductUpdate:  adminOnly,
		opProductDelete:  adminOnly,
		opProductImages:  everyone,
		opAssignImages:   adminOnly,
		opSaleCreate:     everyone,
		opSaleList:       everyone,
		opUserList:       adminOnly,
		opUserCreate:     adminOnly,
		opUserGet:        everyone,
		opUserUpdate:     adminOnly,
		opUserDelete:     adminOnly,
		opPasswordChange: everyone,
	}

	if len(expectations) != len(opPolicy) {
		t.Fatalf("policy table has %d ops, expectations cover %d", len(opPolicy), len(expectations))
	}
	for op, byRole := range expectations {
		for _, role := range []string{domain.RoleAdmin, domain.RoleTeller, domain.RoleClient, "ghost"} {
			want := byRole[role]
			if got := roleAllowed(op, role); got != want {
				t.Errorf("roleAllowed(%s, %s) = %t, want %t", op, role, got, want)
			}
		}
	}
}

func TestSaleFilterParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/sales?from=2026-01-01&to=2026-02-01T12:00:00Z&min_total=500&product=prod-1", nil)
	filter, err := parseSaleFilter(req)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if filter.From == nil || filter.From.Format("2006-01-02") != "2026-01-01" {
		t.Fatalf("unexpected from: %v", filter.From)
	}
	if filter.To == nil || filter.To.Hour() != 12 {
		t.Fatalf("unexpected to: %v", filter.To)
	}
	if filter.MinTotalCents == nil || *filter.MinTotalCents != 500 {
		t.Fatalf("unexpected min_total: %v", filter.MinTotalCents)
	}
	if filter.ProductID != "prod-1" {
		t.Fatalf("unexpected product filter: %q", filter.ProductID)
	}

	bad := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sales?from=%s", "not-a-date"), nil)
	if _, err := parseSaleFilter(bad); err == nil {
		t.Fatalf("expected error for bad date")
	}
}
