package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvtor/internal/auth"
	"cvtor/internal/billing"
	"cvtor/internal/config"
	"cvtor/internal/database"
	"cvtor/internal/export"
	"cvtor/internal/generator"
	"cvtor/internal/render"
)

const (
	testJWTSecret         = "test-secret-test-secret-test-secret-0123"
	testStripeSecret      = "whsec_api_test"
	testFedaPaySecret     = "fp_api_test"
	testPassword          = "correct-horse-1"
	testTemplatesDir      = "../../templates"
	testLoginLimitPerHour = 10
	testLockThreshold     = 3
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	f.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.expires[key] = time.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) TTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return redis.NewDurationResult(-2, nil)
	}
	exp, ok := f.expires[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(time.Until(exp), nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			n++
		}
		delete(f.values, key)
		delete(f.expires, key)
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = fmt.Sprint(value)
	if expiration > 0 {
		f.expires[key] = time.Now().Add(expiration)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return nil
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

type fakePDF struct{}

func (fakePDF) RenderPDF(_ context.Context, html string) ([]byte, error) {
	if !strings.Contains(html, "</html>") {
		return nil, fmt.Errorf("incomplete document")
	}
	return []byte("%PDF-1.4\n%fake\n"), nil
}

type fakeStripeGateway struct{}

func (fakeStripeGateway) CreateCustomer(_ context.Context, _ string, _ uint) (string, error) {
	return "cus_api", nil
}

func (fakeStripeGateway) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	return &billing.Checkout{URL: "https://checkout.stripe.test/" + req.CustomerID, SessionID: "cs_api"}, nil
}

func (fakeStripeGateway) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	return "https://billing.stripe.test/" + customerID, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Type: task.Type()}, nil
}

type fakeObjects struct {
	deleted []string
}

func (o *fakeObjects) DeleteObject(_ context.Context, key string) error {
	o.deleted = append(o.deleted, key)
	return nil
}

type testServer struct {
	t         *testing.T
	router    *gin.Engine
	db        *gorm.DB
	redis     *fakeRedis
	auth      *auth.AuthService
	queue     *fakeQueue
	objects   *fakeObjects
	exportDir string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := newTestDB(t)
	logger := quietLogger()
	exportDir := t.TempDir()

	cfg := &config.Config{
		Export: config.ExportConfig{OutputDir: exportDir, PublicPrefix: "/static"},
	}

	authService, err := auth.NewAuthService(testJWTSecret, 15*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	renderer := render.NewRenderer(render.NewStore(testTemplatesDir))
	exporter, err := export.NewService(renderer, fakePDF{}, exportDir, cfg.Export.PublicPrefix, 5*time.Second, logger)
	if err != nil {
		t.Fatalf("export service: %v", err)
	}

	subs := billing.NewSubscriptions(db)
	stripeSvc := billing.NewStripe(
		config.StripeConfig{SecretKey: "sk_test", WebhookSecret: testStripeSecret, PremiumPriceID: "price_premium"},
		"http://front.test",
		fakeStripeGateway{},
		subs,
		logger,
	)
	fedapaySvc := billing.NewFedaPay(
		config.FedaPayConfig{WebhookSecret: testFedaPaySecret, Currency: "XOF", DefaultAmount: 5000},
		"http://front.test",
		nil,
		subs,
		logger,
	)

	srv := &testServer{
		t:         t,
		db:        db,
		redis:     newFakeRedis(),
		auth:      authService,
		queue:     &fakeQueue{},
		objects:   &fakeObjects{},
		exportDir: exportDir,
	}

	router := NewRouter(cfg, logger)
	RegisterRoutes(router, Dependencies{
		DB:                    db,
		AuthService:           authService,
		Redis:                 srv.redis,
		Queue:                 srv.queue,
		Objects:               srv.objects,
		Renderer:              renderer,
		Exporter:              exporter,
		Generator:             generator.New(nil, time.Second, logger),
		Stripe:                stripeSvc,
		FedaPay:               fedapaySvc,
		Logger:                logger,
		LoginRateLimitPerHour: testLoginLimitPerHour,
		LoginLockThreshold:    testLockThreshold,
		LoginLockTTL:          time.Minute,
	})
	srv.router = router
	return srv
}

func (s *testServer) seedUser(email string, mutate func(*database.User)) database.User {
	s.t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		s.t.Fatalf("hash: %v", err)
	}
	user := database.User{
		Email:            email,
		PasswordHash:     hash,
		IsActive:         true,
		SubscriptionPlan: database.PlanFree,
	}
	if mutate != nil {
		mutate(&user)
	}
	if err := s.db.Create(&user).Error; err != nil {
		s.t.Fatalf("create user: %v", err)
	}
	// is_active and is_admin have column defaults; write the intended values explicitly.
	s.db.Model(&user).Updates(map[string]any{"is_active": user.IsActive, "is_admin": user.IsAdmin})
	return user
}

func (s *testServer) token(user database.User) string {
	s.t.Helper()
	pair, err := s.auth.GenerateTokenPair(user.ID, user.IsAdmin)
	if err != nil {
		s.t.Fatalf("token pair: %v", err)
	}
	return pair.AccessToken
}

type requestOption func(*http.Request)

func withToken(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func withCookie(cookie *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(cookie) }
}

func (s *testServer) do(method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}
