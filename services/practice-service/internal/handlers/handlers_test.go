package handlers

import (
	"bytes"
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

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/availability"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/memberships"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/reconcile"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/rewards"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/scheduler"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/settlement"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/memory"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

const webhookSecret = "whsec_test"

var clock = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// headerAuth reads "org|subject|role" from the Authorization header.
type headerAuth struct{}

func (headerAuth) Authenticate(r *http.Request) (tenant.Principal, error) {
	parts := strings.Split(strings.TrimPrefix(r.Header.Get("Authorization"), "Test "), "|")
	if len(parts) != 3 {
		return tenant.Principal{}, errors.New("no test principal")
	}
	return tenant.Principal{Org: tenant.ID(parts[0]), Subject: parts[1], Role: tenant.Role(parts[2])}, nil
}

const (
	asStaff  = "org-1|u1|staff"
	asClient = "org-1|c1|client"
	asOther  = "org-1|c2|client"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newServer(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	s := memory.New()
	s.AddLocation(model.Location{ID: "loc-1", OrganizationID: "org-1", Timezone: "UTC"})
	s.AddStaff(model.Staff{ID: "staff-1", OrganizationID: "org-1"}, "loc-1")
	s.AddShifts("staff-1", "loc-1", model.Shift{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60})
	s.AddService(model.Service{ID: "svc-1", OrganizationID: "org-1", DurationMinutes: 30, Price: dec("50")})
	s.AddClient(model.Client{ID: "c1", OrganizationID: "org-1"})
	s.AddClient(model.Client{ID: "c2", OrganizationID: "org-1"})
	s.AddTier(model.MembershipTier{ID: "basic", OrganizationID: "org-1", MonthlyCredits: dec("50")})
	s.AddTier(model.MembershipTier{ID: "plus", OrganizationID: "org-1", MonthlyCredits: dec("100")})
	s.AddMembership(model.Membership{
		ID: "m1", OrganizationID: "org-1", ClientID: "c2", TierID: "plus", Status: model.MembershipActive,
		MonthlyCredits: dec("100"), UsedCredits: dec("20"), AutoRenew: true,
		StartDate: clock.AddDate(0, -1, 0), EndDate: clock.AddDate(0, 0, 20),
	})
	s.AddRewardOption(model.RewardOption{ID: "mug", OrganizationID: "org-1", Name: "Mug", PointsCost: 30, Active: true})
	s.AddRewardOption(model.RewardOption{ID: "spa", OrganizationID: "org-1", Name: "Spa day", PointsCost: 150, Active: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return clock }
	ledger := credits.NewLedger(logger).WithClock(now)
	points := rewards.NewLedger().WithClock(now)
	h := New(Deps{
		Store:               s,
		Scheduler:           scheduler.NewService(s, settlement.NewHandler(ledger, points, decimal.NewFromInt(1), logger), logger).WithClock(now),
		Resolver:            availability.NewResolver(s).WithClock(now),
		Memberships:         memberships.NewService(s, ledger, processor.Disabled{}, logger).WithClock(now),
		Rewards:             points,
		Logger:              logger,
		StripeWebhookSecret: webhookSecret,
	})

	api, public := http.NewServeMux(), http.NewServeMux()
	h.Routes(api, public)
	root := http.NewServeMux()
	root.Handle("/webhooks/", public)
	root.Handle("/", tenant.Middleware(headerAuth{})(api))
	return s, root
}

func do(t *testing.T, srv http.Handler, method, path, who string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if who != "" {
		req.Header.Set("Authorization", "Test "+who)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func booking(client string, hh, mm int) string {
	start := time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
	return fmt.Sprintf(`{"location_id":"loc-1","staff_id":"staff-1","client_id":%q,"service_id":"svc-1","start_time":%q,"end_time":%q}`,
		client, start.Format(time.RFC3339), start.Add(30*time.Minute).Format(time.RFC3339))
}

func TestCreateAppointment(t *testing.T) {
	_, srv := newServer(t)

	rr := do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 10, 0), "Idempotency-Key", "k1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode[appointmentResponse](t, rr).Appointment
	if first.Status != model.StatusScheduled || first.OrganizationID != "org-1" {
		t.Fatalf("unexpected appointment %+v", first)
	}

	rr = do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 10, 0), "Idempotency-Key", "k1")
	if rr.Code != http.StatusCreated || rr.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay, got %d %v", rr.Code, rr.Header())
	}
	if replay := decode[appointmentResponse](t, rr).Appointment; replay.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", replay.ID, first.ID)
	}

	rr = do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 11, 0), "Idempotency-Key", "k1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 10, 15))
	if rr.Code != http.StatusConflict || decode[errorEnvelope](t, rr).Error.Code != "conflict" {
		t.Fatalf("expected conflict, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	_, srv := newServer(t)
	tests := []struct {
		name string
		who  string
		body string
		code int
	}{
		{name: "unauthenticated", who: "", body: booking("c1", 10, 0), code: http.StatusUnauthorized},
		{name: "client books for another client", who: asClient, body: booking("c2", 10, 0), code: http.StatusForbidden},
		{name: "malformed json", who: asStaff, body: `{"location_id":`, code: http.StatusBadRequest},
		{name: "unknown field", who: asStaff, body: `{"organization_id":"org-2"}`, code: http.StatusBadRequest},
		{name: "outside working hours", who: asStaff, body: booking("c1", 18, 0), code: http.StatusBadRequest},
		{name: "client books for itself", who: asClient, body: booking("c1", 12, 0), code: http.StatusCreated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/appointments", tc.who, tc.body)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAppointmentVisibility(t *testing.T) {
	_, srv := newServer(t)
	rr := do(t, srv, http.MethodPost, "/appointments", asClient, booking("c1", 10, 0))
	id := decode[appointmentResponse](t, rr).Appointment.ID

	if rr := do(t, srv, http.MethodGet, "/appointments/"+id, asClient, nil); rr.Code != http.StatusOK {
		t.Fatalf("owner should see appointment, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/appointments/"+id, asOther, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("other client should get 404, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/appointments/"+id, "org-2|u9|owner", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("other tenant should get 404, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/appointments/"+id+"/cancel", asOther, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("other client must not cancel, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPatch, "/appointments/"+id, asClient, `{"notes":"hi"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("clients may not patch, got %d", rr.Code)
	}
}

func TestCompleteThroughPatch(t *testing.T) {
	s, srv := newServer(t)
	rr := do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 10, 0))
	id := decode[appointmentResponse](t, rr).Appointment.ID

	for _, st := range []string{"confirmed", "in_progress"} {
		if rr := do(t, srv, http.MethodPatch, "/appointments/"+id, asStaff, fmt.Sprintf(`{"status":%q}`, st)); rr.Code != http.StatusOK {
			t.Fatalf("move to %s: %d %s", st, rr.Code, rr.Body.String())
		}
	}
	rr = do(t, srv, http.MethodPatch, "/appointments/"+id, asStaff, `{"status":"completed"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}
	res := decode[appointmentResponse](t, rr)
	if res.Settlement == nil || !res.Settlement.AmountDue.Equal(dec("50")) || res.Settlement.PointsEarned != 50 {
		t.Fatalf("unexpected settlement %+v", res.Settlement)
	}
	if n := len(s.Transactions()); n != 1 {
		t.Fatalf("expected one charge, got %d", n)
	}

	if rr := do(t, srv, http.MethodPost, "/appointments/"+id+"/cancel", asStaff, `{"reason":"late"}`); rr.Code != http.StatusConflict {
		t.Fatalf("completed appointment must not cancel, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPatch, "/appointments/"+id, asStaff, `{"status":"bogus"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status should be 400, got %d", rr.Code)
	}
}

func TestAvailability(t *testing.T) {
	_, srv := newServer(t)
	base := "/availability?staffId=staff-1&locationId=loc-1&serviceId=svc-1&from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z"

	rr := do(t, srv, http.MethodGet, base, asClient, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rr.Code, rr.Body.String())
	}
	got := decode[availabilityResponse](t, rr)
	if got.Mode != "windows" || len(got.Items) != 1 || got.Items[0].Start.Hour() != 9 || got.Items[0].End.Hour() != 17 {
		t.Fatalf("unexpected windows %+v", got)
	}

	idRR := do(t, srv, http.MethodPost, "/appointments", asStaff, booking("c1", 9, 0))
	id := decode[appointmentResponse](t, idRR).Appointment.ID

	got = decode[availabilityResponse](t, do(t, srv, http.MethodGet, base+"&slots=1&step=30&limit=2", asClient, nil))
	if got.Mode != "slots" || len(got.Items) != 2 || got.Items[0].Start.Hour() != 9 || got.Items[0].Start.Minute() != 30 {
		t.Fatalf("unexpected slots %+v", got)
	}

	if rr := do(t, srv, http.MethodPost, "/appointments/"+id+"/cancel", asStaff, nil); rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	got = decode[availabilityResponse](t, do(t, srv, http.MethodGet, base+"&slots=1&step=30&limit=1", asClient, nil))
	if len(got.Items) != 1 || got.Items[0].Start.Hour() != 9 || got.Items[0].Start.Minute() != 0 {
		t.Fatalf("canceled slot should be free again, got %+v", got)
	}

	bad := []string{
		"/availability?staffId=staff-1&locationId=loc-1&from=nope&to=2026-03-03T00:00:00Z",
		"/availability?staffId=staff-1&locationId=loc-1&serviceId=svc-1&from=2026-03-02T00:00:00Z&to=2026-07-03T00:00:00Z",
		"/availability?staffId=ghost&locationId=loc-1&serviceId=svc-1&from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z",
		base + "&slots=1&step=-5",
	}
	for _, path := range bad {
		if rr := do(t, srv, http.MethodGet, path, asClient, nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestRewards(t *testing.T) {
	s, srv := newServer(t)
	for i, pts := range []int64{50, 100, -30} {
		s.AddRewardEntry(model.RewardEntry{ID: fmt.Sprint(i), OrganizationID: "org-1", ClientID: "c1", Points: pts, Multiplier: decimal.Zero})
	}

	got := decode[balanceResponse](t, do(t, srv, http.MethodGet, "/rewards/balance", asClient, nil))
	if got.Balance != 120 || got.Tier != rewards.TierBronze {
		t.Fatalf("unexpected balance %+v", got)
	}

	rr := do(t, srv, http.MethodPost, "/rewards/redeem", asClient, `{"option_id":"spa"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if env := decode[errorEnvelope](t, rr); env.Error.Code != "insufficient_balance" || env.Error.Details["remaining"] != "120" {
		t.Fatalf("unexpected error %+v", env)
	}

	rr = do(t, srv, http.MethodPost, "/rewards/redeem", asClient, `{"option_id":"mug"}`)
	if rr.Code != http.StatusOK || decode[rewards.Redemption](t, rr).Balance != 90 {
		t.Fatalf("redeem mug: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, srv, http.MethodGet, "/rewards/balance?clientId=c1", asOther, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("other client balance: expected 403, got %d", rr.Code)
	}
	got = decode[balanceResponse](t, do(t, srv, http.MethodGet, "/rewards/balance?clientId=c1&history=1", asStaff, nil))
	if got.Balance != 90 || len(got.Entries) != 4 {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestMembershipEndpoints(t *testing.T) {
	_, srv := newServer(t)

	if rr := do(t, srv, http.MethodGet, "/memberships/m1", asClient, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("other client's membership should be hidden, got %d", rr.Code)
	}

	rr := do(t, srv, http.MethodPost, "/memberships/upgrade", asOther, `{"membership_id":"m1","tier_id":"basic"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("downgrade: %d %s", rr.Code, rr.Body.String())
	}
	down := decode[upgradeMembershipResponse](t, rr)
	if !down.Deferred || down.Membership.TierID != "plus" || down.Membership.PendingTierID != "basic" {
		t.Fatalf("expected deferred downgrade, got %+v", down)
	}

	rr = do(t, srv, http.MethodPost, "/memberships/upgrade", asOther, `{"membership_id":"m1","tier_id":"gold"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown tier: expected 400, got %d", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/memberships/cancel", asOther, `{"membership_id":"m1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	got := decode[membershipResponse](t, rr)
	if got.Membership.AutoRenew || got.Membership.Status != model.MembershipCanceled || got.RemainingCredits != "80" {
		t.Fatalf("unexpected membership after cancel %+v", got)
	}
}

func signed(t *testing.T, payload string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func TestStripeWebhook(t *testing.T) {
	s, srv := newServer(t)
	paid := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"invoice.paid","created":%d,"data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_1","amount_paid":4900,"period_end":%d}}}`,
		clock.Unix(), clock.AddDate(0, 1, 0).Unix())
	ignored := `{"id":"evt_2","object":"event","type":"customer.created","created":1,"data":{"object":{"id":"cus_1"}}}`

	tests := []struct {
		name   string
		body   string
		sig    string
		code   int
		status string
	}{
		{name: "queued", body: paid, sig: signed(t, paid), code: http.StatusAccepted, status: "queued"},
		{name: "duplicate", body: paid, sig: signed(t, paid), code: http.StatusOK, status: "duplicate"},
		{name: "ignored type", body: ignored, sig: signed(t, ignored), code: http.StatusOK, status: "ignored"},
		{name: "bad signature", body: paid, sig: "t=1,v1=deadbeef", code: http.StatusBadRequest},
		{name: "missing signature", body: paid, sig: "", code: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/webhooks/stripe", "", tc.body, "Stripe-Signature", tc.sig)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
			if tc.status != "" {
				if got := decode[map[string]string](t, rr)["status"]; got != tc.status {
					t.Fatalf("expected status %q, got %q", tc.status, got)
				}
			}
		})
	}

	evt, ok := s.ProviderEvent(reconcile.ProviderStripe, "evt_1")
	if !ok || evt.Status != model.ProviderEventPending || evt.Kind != model.EventRenewalSucceeded || !evt.Amount.Equal(dec("49")) {
		t.Fatalf("unexpected queued event %+v", evt)
	}
}
