package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-pricing-service/internal/currency"
	"github.com/fjod/go_cart/cart-pricing-service/internal/domain"
	"github.com/fjod/go_cart/cart-pricing-service/internal/exchange"
	"github.com/fjod/go_cart/cart-pricing-service/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

// CartAPI is the cart service as seen by the transport.
type CartAPI interface {
	View(ctx context.Context, ref domain.CartRef, displayCurrency string, opts currency.FormatOptions) (*service.CartView, error)
	AddItem(ctx context.Context, ref domain.CartRef, productID string, variantID *string, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, ref domain.CartRef, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, ref domain.CartRef, itemID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, ref domain.CartRef) (*domain.Cart, error)
	ApplyCoupon(ctx context.Context, ref domain.CartRef, code string) (*domain.Cart, error)
	RemoveCoupon(ctx context.Context, ref domain.CartRef, appliedID string) (*domain.Cart, error)
	SetShippingMethod(ctx context.Context, ref domain.CartRef, methodID string, dest domain.Destination) (*domain.Cart, error)
	Validate(ctx context.Context, ref domain.CartRef) (*domain.CartValidation, error)
	MergeGuestCart(ctx context.Context, guestToken, userID string) (*domain.Cart, error)
	ResolveRate(from, to string) (exchange.Resolution, error)
	FormatPrice(amount decimal.Decimal, from, to string, opts currency.FormatOptions) (string, bool, error)
}

type CartHandler struct {
	carts    CartAPI
	logger   *zap.Logger
	validate *validator.Validate
}

func NewCartHandler(carts CartAPI, logger *zap.Logger) *CartHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &CartHandler{carts: carts, logger: logger, validate: v}
}

type AddItemRequestDTO struct {
	ProductID string  `json:"product_id" validate:"required"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity" validate:"lte=999"`
}

type UpdateItemRequestDTO struct {
	Quantity *int `json:"quantity" validate:"required,lte=999"`
}

type ApplyCouponRequestDTO struct {
	Code string `json:"code" validate:"required,max=64"`
}

type SetShippingRequestDTO struct {
	MethodID    string             `json:"method_id" validate:"required"`
	Destination domain.Destination `json:"destination"`
}

type MergeRequestDTO struct {
	GuestToken string `json:"guest_token"`
}

type RateResponse struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Rate     decimal.Decimal `json:"rate"`
	Method   exchange.Method `json:"method"`
	Fallback bool            `json:"fallback"`
}

type FormatResponse struct {
	Formatted string `json:"formatted"`
	Currency  string `json:"currency"`
	Fallback  bool   `json:"fallback"`
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	// an empty body decodes as {} so optional-body routes still validate
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, h.logger, domain.NewValidation(domain.CodeInvalidArgument, "", "invalid JSON body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			code := domain.CodeInvalidArgument
			if fe.Field() == "quantity" {
				code = domain.CodeInvalidQuantity
			}
			respondError(w, h.logger, domain.NewValidation(code, fe.Field(),
				fe.Field()+" failed "+fe.Tag()+" validation"))
			return false
		}
		respondError(w, h.logger, domain.NewValidation(domain.CodeInvalidArgument, "", err.Error()))
		return false
	}
	return true
}

func (h *CartHandler) owner(w http.ResponseWriter, r *http.Request) (domain.CartRef, bool) {
	ref, ok := ownerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing user or guest identity", Code: "UNAUTHORIZED"})
	}
	return ref, ok
}

func (h *CartHandler) respondCart(w http.ResponseWriter, status int, cart *domain.Cart, err error) {
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, status, cart)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	opts, err := formatOptions(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	view, err := h.carts.View(r.Context(), ref, r.URL.Query().Get("currency"), opts)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req AddItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(r.Context(), ref, req.ProductID, req.VariantID, req.Quantity)
	h.respondCart(w, http.StatusCreated, cart, err)
}

func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.carts.UpdateItem(r.Context(), ref, chi.URLParam(r, "itemID"), *req.Quantity)
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), ref, chi.URLParam(r, "itemID"))
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.ClearCart(r.Context(), ref)
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req ApplyCouponRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.carts.ApplyCoupon(r.Context(), ref, req.Code)
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveCoupon(r.Context(), ref, chi.URLParam(r, "couponID"))
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) SetShipping(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req SetShippingRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	cart, err := h.carts.SetShippingMethod(r.Context(), ref, req.MethodID, req.Destination)
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	result, err := h.carts.Validate(r.Context(), ref)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Merge needs an authenticated user; the guest token comes from the body or
// the guest header.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.owner(w, r)
	if !ok {
		return
	}
	if ref.OwnerKind != domain.OwnerUser {
		respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "merge requires an authenticated user", Code: "UNAUTHORIZED"})
		return
	}
	var req MergeRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	token := req.GuestToken
	if token == "" {
		token = r.Header.Get(HeaderGuestToken)
	}

	cart, err := h.carts.MergeGuestCart(r.Context(), token, ref.OwnerID)
	h.respondCart(w, http.StatusOK, cart, err)
}

func (h *CartHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	res, err := h.carts.ResolveRate(chi.URLParam(r, "from"), chi.URLParam(r, "to"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, RateResponse{
		From:     res.From,
		To:       res.To,
		Rate:     res.Rate,
		Method:   res.Method,
		Fallback: res.Fallback,
	})
}

// FormatPrice handles GET /format?amount=12.5&from=USD&to=EUR.
func (h *CartHandler) FormatPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		respondError(w, h.logger, domain.NewValidation(domain.CodeInvalidArgument, "amount", "amount must be a decimal number"))
		return
	}
	from := strings.ToUpper(q.Get("from"))
	if from == "" {
		respondError(w, h.logger, domain.NewValidation(domain.CodeInvalidArgument, "from", "from currency is required"))
		return
	}
	to := strings.ToUpper(q.Get("to"))
	if to == "" {
		to = from
	}
	opts, err := formatOptions(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	formatted, fallback, err := h.carts.FormatPrice(amount, from, to, opts)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, FormatResponse{Formatted: formatted, Currency: to, Fallback: fallback})
}

// formatOptions reads the symbol, code, short and decimals flags on top of
// the defaults.
func formatOptions(r *http.Request) (currency.FormatOptions, error) {
	opts := currency.DefaultFormatOptions()
	q := r.URL.Query()
	for name, dst := range map[string]*bool{
		"symbol":   &opts.ShowSymbol,
		"code":     &opts.ShowCode,
		"short":    &opts.UseShortFormat,
		"decimals": &opts.AlwaysShowDecimals,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, domain.NewValidation(domain.CodeInvalidArgument, name, name+" must be true or false")
		}
		*dst = v
	}
	return opts, nil
}
