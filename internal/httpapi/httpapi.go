package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/service"
	"orderdesk/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		validate:      newValidator(),
		logger:        logger.Named("http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// newValidator reports JSON field names in validation messages.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/discount-pricing", a.handleDiscountPricing)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleStaff, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/discount-codes", a.requireAuth(a.handleDiscountCodes, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/discount-codes/", a.requireAuth(a.handleDiscountCodeActions, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/orders/quote", a.requireAuth(a.handleOrderQuote, domain.RoleStaff, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, domain.RoleStaff, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, domain.RoleStaff, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/", a.requireAuth(a.handleUserActions, domain.RoleAdmin))

	return a.withCORS(a.withMiddleware(mux))
}

func (a *API) withCORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token", "Idempotency-Key"},
		MaxAge:         600,
	}).Handler(next)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validateRequest(r.Context(), req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths are called without a prior token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/discount-pricing",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

var discountPricingDoc = map[string]any{
	"endpoint":    "POST /discount-pricing",
	"description": "Prices one product line against a discount code.",
	"request": map[string]string{
		"barcode":      "string, required",
		"quantity":     "integer >= 1, required",
		"discountCode": "string, required",
		"channel":      "string, optional (retail or bulk)",
	},
	"response": []string{
		"success", "barcode", "productName", "quantity", "discountCode", "channel",
		"originalPrice", "discountedPrice", "savings", "totalPrice",
		"pricingTier", "isDiscountApplied", "message",
	},
	"pricingTiers": []string{"Original", "Single", "Kit"},
}

// handleDiscountPricing keeps its own {success,message} envelope for errors.
func (a *API) handleDiscountPricing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, discountPricingDoc)
	case http.MethodPost:
		var req domain.DiscountPricingRequest
		if err := decodeJSON(r, &req); err != nil {
			writePricingFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.validateRequest(r.Context(), req); err != nil {
			writePricingFailure(w, http.StatusBadRequest, err.Error())
			return
		}

		resp, err := a.service.QuoteDiscountPricing(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writePricingFailure(w, http.StatusNotFound, fmt.Sprintf("product %s not found", strings.ToUpper(strings.TrimSpace(req.Barcode))))
			case errors.Is(err, store.ErrInvalidRequest):
				writePricingFailure(w, http.StatusBadRequest, err.Error())
			default:
				a.logger.Error("discount pricing failed", zap.Error(err))
				writePricingFailure(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func writePricingFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}

		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleProductActions serves PUT /api/v1/products/{barcode}/tiers.
func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	barcode, action := splitActionPath(r.URL.Path, "/api/v1/products/")
	if barcode == "" || action != "tiers" {
		a.writeError(w, http.StatusNotFound, errors.New("unknown product action"))
		return
	}
	if r.Method != http.MethodPut {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.PriceTierUpsertRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	tier, err := a.service.UpsertPriceTier(r.Context(), barcode, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": tier})
}

func (a *API) handleDiscountCodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		codes, err := a.service.ListDiscountCodes(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"discount_codes": codes})
	case http.MethodPost:
		var req domain.DiscountCodeCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}

		code, err := a.service.CreateDiscountCode(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"discount_code": code})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleDiscountCodeActions serves POST /api/v1/discount-codes/{code}/toggle.
func (a *API) handleDiscountCodeActions(w http.ResponseWriter, r *http.Request) {
	code, action := splitActionPath(r.URL.Path, "/api/v1/discount-codes/")
	if code == "" || action != "toggle" {
		a.writeError(w, http.StatusNotFound, errors.New("unknown discount code action"))
		return
	}
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.DiscountCodeToggleRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := a.service.SetDiscountCodeActive(r.Context(), code, req.Active)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discount_code": updated})
}

func (a *API) handleOrderQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.OrderQuoteRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	ctx, ok := a.approveManualPrices(w, r, req)
	if !ok {
		return
	}

	quote, err := a.service.QuoteOrder(ctx, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		limit := parsePositiveLimit(query.Get("limit"), 100, 500)
		orders, err := a.service.ListOrders(r.Context(), query.Get("status"), limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	case http.MethodPost:
		var req domain.OrderFinalizeRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.IdempotencyKey) == "" {
			req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}
		ctx, ok := a.approveManualPrices(w, r, req.OrderQuoteRequest)
		if !ok {
			return
		}

		resp, err := a.service.FinalizeOrder(ctx, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleOrderActions serves GET /api/v1/orders/{id} and
// PATCH /api/v1/orders/{id}/status.
func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	id, action := splitActionPath(r.URL.Path, "/api/v1/orders/")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		order, err := a.service.GetOrder(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case "status":
		if r.Method != http.MethodPatch {
			a.writeMethodNotAllowed(w)
			return
		}
		var req domain.OrderStatusUpdateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		order, err := a.service.UpdateOrderStatus(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown order action"))
	}
}

// approveManualPrices checks the manager PIN when a non-admin sends manual line
// prices. Without a PIN the service rejects the override itself.
func (a *API) approveManualPrices(w http.ResponseWriter, r *http.Request, req domain.OrderQuoteRequest) (context.Context, bool) {
	ctx := r.Context()
	pin := strings.TrimSpace(req.ManagerPIN)
	if pin == "" || !hasManualPrice(req.Lines) {
		return ctx, true
	}
	if actor, ok := service.ActorFromContext(ctx); ok && actor.Role == domain.RoleAdmin {
		return ctx, true
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return nil, false
	}
	if !a.auth.ApproveManualPrice(pin) {
		a.writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
		return nil, false
	}
	return service.WithManagerApproval(ctx), true
}

func hasManualPrice(lines []domain.OrderLineRequest) bool {
	for _, line := range lines {
		if line.ManualUnitPriceCents != nil {
			return true
		}
	}
	return false
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListStaff(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}

		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			if errors.Is(err, errUserExists) || errors.Is(err, store.ErrConflict) {
				a.writeError(w, http.StatusConflict, err)
				return
			}
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		a.service.RecordAccountChange(r.Context(), "staff_create", user.Username)
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// handleUserActions serves PUT /api/v1/users/{username}/password.
func (a *API) handleUserActions(w http.ResponseWriter, r *http.Request) {
	username, action := splitActionPath(r.URL.Path, "/api/v1/users/")
	if username == "" || action != "password" {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}
	if r.Method != http.MethodPut {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.StaffPasswordResetRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	user, err := a.auth.ResetStaffPassword(r.Context(), username, req)
	if err != nil {
		if errors.Is(err, errNotStaffAccount) {
			a.writeError(w, http.StatusForbidden, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	a.service.RecordAccountChange(r.Context(), "staff_password_reset", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// splitActionPath turns "/prefix/{id}/{action}" into its id and action.
func splitActionPath(path string, prefix string) (string, string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ := strings.Cut(tail, "/")
	return strings.TrimSpace(id), strings.Trim(action, "/")
}

func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validateRequest(r.Context(), dest); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (a *API) validateRequest(ctx context.Context, payload any) error {
	err := a.validate.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	messages := make([]string, len(fields))
	for i, field := range fields {
		messages[i] = fmt.Sprintf("invalid '%s' with value '%v'", field.Field(), field.Value())
	}
	return errors.New(strings.Join(messages, ", "))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps service and store sentinels onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidRequest):
		a.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrUsageExceeded), errors.Is(err, store.ErrConflict):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrForbidden):
		a.writeError(w, http.StatusForbidden, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

// writeError hides 5xx details from clients and logs them instead.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
