package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvtor/internal/config"
	"cvtor/internal/database"
)

const testWebhookSecret = "whsec_test_secret"

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

func seedUser(t *testing.T, db *gorm.DB, email string) database.User {
	t.Helper()
	user := database.User{Email: email, PasswordHash: "x", FullName: "", IsActive: true, SubscriptionPlan: database.PlanFree}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func reload(t *testing.T, db *gorm.DB, id uint) database.User {
	t.Helper()
	var user database.User
	if err := db.First(&user, id).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return user
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStripe struct {
	customers int
	checkout  CheckoutRequest
}

func (f *fakeStripe) CreateCustomer(_ context.Context, _ string, _ uint) (string, error) {
	f.customers++
	return "cus_123", nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	f.checkout = req
	return &Checkout{URL: "https://checkout.stripe.test/cs_1", SessionID: "cs_1"}, nil
}

func (f *fakeStripe) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/" + customerID + "?return=" + returnURL, nil
}

func newStripe(db *gorm.DB, gateway StripeGateway, price string) *Stripe {
	cfg := config.StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret, PremiumPriceID: price}
	return NewStripe(cfg, "http://front.test/", gateway, NewSubscriptions(db), quietLogger())
}

func signedStripeEvent(t *testing.T, s *Stripe, body string) (Outcome, error) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	event, err := s.ConstructEvent(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	return s.HandleEvent(context.Background(), event)
}

func TestStripeCheckoutCreatesCustomerOnce(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "ana@example.com")
	gateway := &fakeStripe{}
	svc := newStripe(db, gateway, "price_premium")

	checkout, err := svc.CreateCheckout(context.Background(), &user)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if checkout.SessionID != "cs_1" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if gateway.checkout.SuccessURL != "http://front.test/success?session_id={CHECKOUT_SESSION_ID}" ||
		gateway.checkout.CancelURL != "http://front.test/pricing" {
		t.Fatalf("unexpected urls %+v", gateway.checkout)
	}

	stored := reload(t, db, user.ID)
	if stored.StripeCustomerID == nil || *stored.StripeCustomerID != "cus_123" {
		t.Fatalf("customer id not stored: %v", stored.StripeCustomerID)
	}

	if _, err := svc.CreateCheckout(context.Background(), &stored); err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if gateway.customers != 1 {
		t.Fatalf("customer created %d times", gateway.customers)
	}
}

func TestStripeCheckoutErrors(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "bo@example.com")

	if _, err := newStripe(db, &fakeStripe{}, "").CreateCheckout(context.Background(), &user); !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("expected price error, got %v", err)
	}
	disabled := NewStripe(config.StripeConfig{}, "", nil, NewSubscriptions(db), quietLogger())
	if _, err := disabled.CreateCheckout(context.Background(), &user); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if _, err := newStripe(db, &fakeStripe{}, "p").CreatePortal(context.Background(), &user); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("expected no customer, got %v", err)
	}
}

func TestStripeWebhookUpgradeIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "cy@example.com")
	svc := newStripe(db, &fakeStripe{}, "p")

	body := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","subscription":"sub_1","metadata":{"user_id":"%d"}}}}`, user.ID)

	outcome, err := signedStripeEvent(t, svc, body)
	if err != nil || outcome.Status != StatusSuccess {
		t.Fatalf("first delivery: %+v %v", outcome, err)
	}
	stored := reload(t, db, user.ID)
	if stored.SubscriptionPlan != database.PlanPremium || stored.StripeSubscriptionID == nil || *stored.StripeSubscriptionID != "sub_1" {
		t.Fatalf("user not upgraded: %+v", stored)
	}

	outcome, err = signedStripeEvent(t, svc, body)
	if err != nil || outcome.Status != StatusDuplicate {
		t.Fatalf("replay: %+v %v", outcome, err)
	}
	var events int64
	db.Model(&database.BillingEvent{}).Count(&events)
	if events != 1 {
		t.Fatalf("expected one ledger row, got %d", events)
	}
}

func TestStripeWebhookDowngrade(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "di@example.com")
	sub := "sub_9"
	db.Model(&database.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"subscription_plan":      database.PlanPremium,
		"stripe_subscription_id": sub,
	})
	svc := newStripe(db, &fakeStripe{}, "p")

	outcome, err := signedStripeEvent(t, svc, `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_9","object":"subscription"}}}`)
	if err != nil || outcome.Status != StatusSuccess {
		t.Fatalf("downgrade: %+v %v", outcome, err)
	}
	stored := reload(t, db, user.ID)
	if stored.SubscriptionPlan != database.PlanFree || stored.StripeSubscriptionID != nil {
		t.Fatalf("user not downgraded: %+v", stored)
	}
}

func TestStripeWebhookAnomalies(t *testing.T) {
	db := newTestDB(t)
	svc := newStripe(db, &fakeStripe{}, "p")

	cases := []struct {
		body string
		want Outcome
	}{
		{
			body: `{"id":"evt_a","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs","metadata":{}}}}`,
			want: Outcome{Status: StatusIgnored, Reason: "missing_user_id"},
		},
		{
			body: `{"id":"evt_b","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs","metadata":{"user_id":"abc"}}}}`,
			want: Outcome{Status: StatusError, Reason: "invalid_user_id"},
		},
		{
			body: `{"id":"evt_c","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs","metadata":{"user_id":"4242"}}}}`,
			want: Outcome{Status: StatusIgnored, Reason: "user_not_found"},
		},
		{
			body: `{"id":"evt_d","object":"event","type":"customer.subscription.deleted","data":{"object":{"object":"subscription"}}}`,
			want: Outcome{Status: StatusIgnored, Reason: "missing_subscription_id"},
		},
		{
			body: `{"id":"evt_e","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`,
			want: Outcome{Status: StatusSuccess},
		},
	}
	for _, tc := range cases {
		got, err := signedStripeEvent(t, svc, tc.body)
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.body, got, tc.want)
		}
	}
}

func TestStripeConstructEventRejectsBadSignature(t *testing.T) {
	svc := newStripe(newTestDB(t), &fakeStripe{}, "p")
	if _, err := svc.ConstructEvent([]byte(`{"id":"evt"}`), "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	unsigned := NewStripe(config.StripeConfig{SecretKey: "sk"}, "", &fakeStripe{}, nil, quietLogger())
	if _, err := unsigned.ConstructEvent([]byte(`{}`), ""); !errors.Is(err, ErrWebhookSecretMissing) {
		t.Fatalf("expected missing secret, got %v", err)
	}
}

func TestFedaPaySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"name":"transaction.approved"}`)
	now := time.Now()
	header := SignFedaPayPayload("secret", payload, now)

	if err := VerifyFedaPaySignature("secret", payload, header, now); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyFedaPaySignature("other", payload, header, now); err == nil {
		t.Fatal("expected mismatch with another secret")
	}
	if err := VerifyFedaPaySignature("secret", payload, header, now.Add(time.Hour)); err == nil {
		t.Fatal("expected stale signature to fail")
	}
	if err := VerifyFedaPaySignature("secret", payload, "garbage", now); err == nil {
		t.Fatal("expected malformed header to fail")
	}
}

func TestFedaPayWebhookUpgradeAndReplay(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "eli@example.com")
	cfg := config.FedaPayConfig{SecretKey: "sk", WebhookSecret: "fp_secret", Currency: "XOF", DefaultAmount: 5000}
	svc := NewFedaPay(cfg, "http://front.test", nil, NewSubscriptions(db), quietLogger())

	body := []byte(fmt.Sprintf(`{"id":77,"name":"transaction.approved","entity":{"id":501,"custom_metadata":{"user_id":"%d","plan":"premium"}}}`, user.ID))
	header := SignFedaPayPayload("fp_secret", body, time.Now())

	for i, want := range []string{StatusSuccess, StatusDuplicate} {
		event, err := svc.ParseEvent(body, header)
		if err != nil {
			t.Fatalf("delivery %d: parse: %v", i, err)
		}
		outcome, err := svc.HandleEvent(context.Background(), event)
		if err != nil || outcome.Status != want {
			t.Fatalf("delivery %d: got %+v %v, want %s", i, outcome, err, want)
		}
	}
	if reload(t, db, user.ID).SubscriptionPlan != database.PlanPremium {
		t.Fatal("user not upgraded")
	}

	if _, err := svc.ParseEvent(body, "t=1,s=00"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestFedaPayWebhookLegacyShape(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "fa@example.com")
	svc := NewFedaPay(config.FedaPayConfig{WebhookSecret: "fp_secret"}, "", nil, NewSubscriptions(db), quietLogger())
	parse := func(body []byte) (FedaPayEvent, error) {
		return svc.ParseEvent(body, SignFedaPayPayload("fp_secret", body, time.Now()))
	}

	event, err := parse([]byte(fmt.Sprintf(`{"type":"transaction.approved","data":{"id":9,"metadata":{"user_id":%d}}}`, user.ID)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	outcome, err := svc.HandleEvent(context.Background(), event)
	if err != nil || outcome.Status != StatusSuccess {
		t.Fatalf("handle: %+v %v", outcome, err)
	}

	declined, _ := parse([]byte(`{"type":"transaction.declined","data":{"id":10}}`))
	if outcome, _ := svc.HandleEvent(context.Background(), declined); outcome.Status != StatusSuccess {
		t.Fatalf("declined: %+v", outcome)
	}
	if _, err := parse([]byte(`not json`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestFedaPayWebhookRefusedWithoutSecret(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "free@example.com")
	svc := NewFedaPay(config.FedaPayConfig{SecretKey: "sk"}, "", nil, NewSubscriptions(db), quietLogger())

	body := []byte(fmt.Sprintf(`{"type":"transaction.approved","data":{"id":1,"metadata":{"user_id":"%d"}}}`, user.ID))
	if _, err := svc.ParseEvent(body, ""); !errors.Is(err, ErrWebhookSecretMissing) {
		t.Fatalf("expected missing secret, got %v", err)
	}
	if reload(t, db, user.ID).SubscriptionPlan != database.PlanFree {
		t.Fatal("plan must not change")
	}
}

func TestFedaPayCheckoutAgainstServer(t *testing.T) {
	var created FedaPayTransactionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_fp" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions":
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &created); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"v1/transaction":{"id":321,"status":"pending","amount":5000,"description":"x"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions/321/token":
			io.WriteString(w, `{"token":"tok_1","url":"https://pay.fedapay.test/tok_1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transactions/321":
			io.WriteString(w, `{"v1/transaction":{"id":321,"status":"approved","amount":5000,"description":"Abonnement PREMIUM - CVtor"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	db := newTestDB(t)
	user := seedUser(t, db, "gil@example.com")
	cfg := config.FedaPayConfig{SecretKey: "sk_fp", Currency: "XOF", DefaultAmount: 5000}
	client := NewFedaPayClient("sk_fp", "sandbox").WithBaseURL(srv.URL)
	svc := NewFedaPay(cfg, "http://front.test", client, NewSubscriptions(db), quietLogger())

	checkout, err := svc.CreateCheckout(context.Background(), &user, "premium", 0)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if checkout.TransactionID != 321 || checkout.Token != "tok_1" || checkout.CheckoutURL != "https://pay.fedapay.test/tok_1" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if created.Amount != 5000 || created.Description != "Abonnement PREMIUM - CVtor" || created.Customer.FirstName != "gil" {
		t.Fatalf("unexpected transaction request %+v", created)
	}
	if created.CallbackURL != "http://front.test/success?provider=fedapay" || created.Metadata["plan"] != "premium" {
		t.Fatalf("unexpected callback or metadata %+v", created)
	}

	tx, err := svc.Transaction(context.Background(), "321")
	if err != nil || tx.Status != "approved" {
		t.Fatalf("transaction: %+v %v", tx, err)
	}
}
