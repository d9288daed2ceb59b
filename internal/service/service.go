package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/events"
	"tillbook/backend/internal/imagematch"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

const catalogCacheKey = "catalog:list"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	catalogCache cache.CatalogCache
	publisher    events.SalePublisher
	images       imagematch.Lister
	imageBaseURL string
	cacheTTL     time.Duration
}

func New(repo store.Repository, catalogCache cache.CatalogCache, publisher events.SalePublisher, images imagematch.Lister, imageBaseURL string, cacheTTL time.Duration) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if publisher == nil {
		publisher = events.NoopSalePublisher{}
	}
	if imageBaseURL == "" {
		imageBaseURL = "/uploads/products"
	}
	if cacheTTL < time.Second {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:         repo,
		catalogCache: catalogCache,
		publisher:    publisher,
		images:       images,
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		cacheTTL:     cacheTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, hit, err := s.catalogCache.Get(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	} else if hit {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalogCache.Set(ctx, catalogCacheKey, products, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Brand = strings.TrimSpace(req.Brand)

	if req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.PriceCents < 1 || req.Stock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		ID:          xid.New("prod"),
		Name:        req.Name,
		PriceCents:  req.PriceCents,
		Category:    req.Category,
		Brand:       req.Brand,
		Image:       strings.TrimSpace(req.Image),
		Stock:       req.Stock,
		Description: strings.TrimSpace(req.Description),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Stock = *req.Stock
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Image != nil {
		updated.Image = strings.TrimSpace(*req.Image)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)
	return *saved, nil
}

// DeleteProduct succeeds even when the product is already gone.
// Historical sales keep their line items; reads fall back to a
// placeholder name for deleted products.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrValidation
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// ListImageFiles exposes the current image directory listing so an
// admin can see what AssignImages would work with.
func (s *Service) ListImageFiles(ctx context.Context) ([]string, error) {
	if s.images == nil {
		return []string{}, nil
	}
	files, err := s.images.ListImages()
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

// AssignImages walks the catalog and links each product without a
// better idea to the first image file whose name resembles the
// product's. Products that already match nothing are left untouched.
func (s *Service) AssignImages(ctx context.Context) (domain.AssignImagesResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.AssignImagesResponse{}, fmt.Errorf("admin role required")
	}
	if s.images == nil {
		return domain.AssignImagesResponse{Details: []domain.ImageAssignment{}}, nil
	}

	files, err := s.images.ListImages()
	if err != nil {
		return domain.AssignImagesResponse{}, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.AssignImagesResponse{}, err
	}

	resp := domain.AssignImagesResponse{Details: []domain.ImageAssignment{}}
	for _, product := range products {
		match := imagematch.Match(product.Name, files)
		if match == "" {
			continue
		}
		image := s.imageBaseURL + "/" + match
		if err := s.repo.SetProductImage(ctx, product.ID, image); err != nil {
			return domain.AssignImagesResponse{}, err
		}
		resp.Updated++
		resp.Details = append(resp.Details, domain.ImageAssignment{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     image,
		})
	}

	if resp.Updated > 0 {
		s.invalidateCatalog(ctx)
	}
	return resp, nil
}

// CreateSale validates each line, decrements stock, snapshots prices,
// reconciles the payment breakdown, and persists the sale. Lines are
// processed in request order; when a later line fails, stock already
// decremented by earlier lines stays decremented. Each individual
// decrement is conditional, so stock never goes negative even under
// concurrent sales.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated caller required")
	}

	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale needs at least one item", store.ErrValidation)
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}
	if !domain.IsValidPaymentMethod(method) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
	}

	tellerID := ""
	clientID := strings.TrimSpace(req.ClientID)
	switch actor.Role {
	case domain.RoleTeller:
		tellerID = actor.ID
	case domain.RoleClient:
		clientID = actor.ID
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	total := int64(0)
	for _, line := range req.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Qty < 1 {
			return domain.Sale{}, fmt.Errorf("%w: each item needs a product and a positive quantity", store.ErrValidation)
		}

		product, err := s.repo.GetProductByID(ctx, productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
			}
			return domain.Sale{}, err
		}

		if err := s.repo.DecrementStock(ctx, product.ID, line.Qty); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return domain.Sale{}, fmt.Errorf("%w for %s", store.ErrInsufficientStock, product.Name)
			}
			return domain.Sale{}, err
		}

		items = append(items, domain.SaleItem{
			ProductID:  product.ID,
			Qty:        line.Qty,
			PriceCents: product.PriceCents,
		})
		total += int64(line.Qty) * product.PriceCents
	}

	sale := domain.Sale{
		ID:               xid.New("sale"),
		Items:            items,
		TellerID:         tellerID,
		ClientID:         clientID,
		TotalCents:       total,
		PaymentMethod:    method,
		PaymentBreakdown: resolveBreakdown(method, total, req.PaymentBreakdown),
		CreatedAt:        time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	if err := s.publisher.PublishSaleCreated(ctx, *created); err != nil {
		log.Printf("[service] WARN: failed to publish sale event id=%s: %v", created.ID, err)
	}
	s.invalidateCatalog(ctx)

	return *created, nil
}

// ListSales applies role scoping before any caller-supplied filters: a
// teller only ever sees sales they rang up, a client only sales
// attributed to them. Admins see everything the filter allows.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated caller required")
	}

	switch actor.Role {
	case domain.RoleTeller:
		filter.TellerID = actor.ID
	case domain.RoleClient:
		filter.ClientID = actor.ID
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.resolveSaleViews(ctx, sales)
}

func (s *Service) resolveSaleViews(ctx context.Context, sales []domain.Sale) ([]domain.SaleView, error) {
	productIDs := make(map[string]struct{})
	tellerIDs := make(map[string]struct{})
	for _, sale := range sales {
		for _, item := range sale.Items {
			productIDs[item.ProductID] = struct{}{}
		}
		if sale.TellerID != "" {
			tellerIDs[sale.TellerID] = struct{}{}
		}
	}

	products, err := s.repo.GetProductsByIDs(ctx, keys(productIDs))
	if err != nil {
		return nil, err
	}
	tellers, err := s.repo.GetUsersByIDs(ctx, keys(tellerIDs))
	if err != nil {
		return nil, err
	}

	views := make([]domain.SaleView, 0, len(sales))
	for _, sale := range sales {
		view := domain.SaleView{
			ID:               sale.ID,
			TellerID:         sale.TellerID,
			ClientID:         sale.ClientID,
			TotalCents:       sale.TotalCents,
			PaymentMethod:    sale.PaymentMethod,
			PaymentBreakdown: sale.PaymentBreakdown,
			CreatedAt:        sale.CreatedAt,
			Items:            make([]domain.SaleItemView, 0, len(sale.Items)),
		}
		if teller, exists := tellers[sale.TellerID]; exists {
			view.TellerName = teller.Name
		}
		for _, item := range sale.Items {
			itemView := domain.SaleItemView{
				ProductID:   item.ProductID,
				ProductName: "(deleted)",
				Qty:         item.Qty,
				PriceCents:  item.PriceCents,
			}
			if product, exists := products[item.ProductID]; exists {
				itemView.ProductName = product.Name
				itemView.ProductImage = product.Image
			}
			view.Items = append(view.Items, itemView)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalogCache.Invalidate(ctx, catalogCacheKey); err != nil {
		log.Printf("[service] WARN: catalog cache invalidation failed: %v", err)
	}
}

// resolveBreakdown fills each payment bucket from the request, falling
// back to the full total for the bucket matching the payment method.
// A zero bucket counts as unset.
func resolveBreakdown(method string, total int64, supplied *domain.PaymentBreakdown) domain.PaymentBreakdown {
	var in domain.PaymentBreakdown
	if supplied != nil {
		in = *supplied
	}
	pick := func(given int64, bucketMethod string) int64 {
		if given != 0 {
			return given
		}
		if method == bucketMethod {
			return total
		}
		return 0
	}
	return domain.PaymentBreakdown{
		CashCents:  pick(in.CashCents, domain.PaymentCash),
		MomoCents:  pick(in.MomoCents, domain.PaymentMomo),
		CardCents:  pick(in.CardCents, domain.PaymentCard),
		OtherCents: pick(in.OtherCents, domain.PaymentOther),
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
