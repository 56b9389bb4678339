package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/example/wifi-portal/internal/events"
	"github.com/example/wifi-portal/internal/messaging"
	"github.com/example/wifi-portal/internal/store"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []messaging.Single
	err  error
}

func (f *fakeSender) SendOne(_ context.Context, m messaging.Single) (*messaging.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	return &messaging.Response{StatusCode: http.StatusOK}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) types() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	portal    *Portal
	store     *store.Memory
	sender    *fakeSender
	publisher *fakePublisher
}

func testPages() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("ap=<ap> id=<id> t=<t> url=<url> ssid=<ssid> now=<now>")},
		"auth.html":  {Data: []byte("code sent to <phone_number>")},
	}
}

func newHarness(t *testing.T, opts Options, pages fstest.MapFS) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemory(0),
		sender:    &fakeSender{},
		publisher: &fakePublisher{},
	}
	p, err := New(opts, Deps{
		Templates: FSTemplates{FS: pages},
		Store:     h.store,
		Sender:    h.sender,
		Events:    h.publisher,
		Codes:     func() (string, error) { return "012345", nil },
		Now:       func() time.Time { return fixedNow },
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.portal = p
	return h
}

func (h *harness) do(t *testing.T, method, path string, query map[string]string) Response {
	t.Helper()
	resp, err := h.portal.Dispatcher().Handle(context.Background(), Request{Method: method, Path: path, Query: query})
	if err != nil {
		t.Fatalf("%s %s: unexpected error: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body, err)
	}
	return body
}

func TestLandingWithoutQuery(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodGet, PathLanding, nil)
	if resp.StatusCode != http.StatusOK || resp.Headers["Content-Type"] != "text/html" {
		t.Fatalf("resp = %+v", resp)
	}
	want := "ap=null id=null t=null url=null ssid=null now=2024-06-01T09:30:00Z"
	if resp.Body != want {
		t.Fatalf("body = %q, want %q", resp.Body, want)
	}
}

func TestLandingWithControllerParams(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodGet, PathRoot, map[string]string{
		"ap": "fc:ec:da:01", "id": "8c:85:90:aa", "t": "1717234200", "url": "http://example.com/", "ssid": "Guest",
	})
	want := "ap=fc:ec:da:01 id=8c:85:90:aa t=1717234200 url=http://example.com/ ssid=Guest now=2024-06-01T09:30:00Z"
	if resp.Body != want {
		t.Fatalf("body = %q, want %q", resp.Body, want)
	}
}

func TestLandingKeepsEmptyParams(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodGet, PathLanding, map[string]string{"ap": "fc:ec", "ssid": ""})
	want := "ap=fc:ec id=null t=null url=null ssid= now=2024-06-01T09:30:00Z"
	if resp.Body != want {
		t.Fatalf("body = %q, want %q", resp.Body, want)
	}
}

func TestLandingTemplateMissing(t *testing.T) {
	h := newHarness(t, Options{}, fstest.MapFS{})

	resp := h.do(t, http.MethodGet, PathLanding, nil)
	if resp.StatusCode != http.StatusInternalServerError || resp.Headers["Content-Type"] != "text/plain" {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.HasPrefix(resp.Body, "Internal Server Error\nException:\n") || !strings.Contains(resp.Body, "index.html") {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestBeginAuth(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodGet, PathAuth, map[string]string{"phone_number": "420777938821", "ap": "fc:ec"})
	if resp.StatusCode != http.StatusOK || resp.Headers["Content-Type"] != "text/html" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Body != "code sent to 420777938821" {
		t.Fatalf("body = %q", resp.Body)
	}

	rec, err := h.store.Get(context.Background(), "420777938821")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.Code() != "012345" || rec["ap"] != "fc:ec" || rec["phone_number"] != "420777938821" {
		t.Fatalf("record = %v", rec)
	}
	if rec[store.FieldIssuedAt] != "2024-06-01T09:30:00Z" {
		t.Fatalf("issued_at = %s", rec[store.FieldIssuedAt])
	}

	if len(h.sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(h.sender.sent))
	}
	payload := h.sender.sent[0].Payload()
	if payload["to"] != "+420777938821" || payload["type"] != "template" {
		t.Fatalf("payload = %v", payload)
	}
	if msg, ok := h.sender.sent[0].(*messaging.AuthCodeMessage); !ok || msg.Code() != "012345" {
		t.Fatalf("sent %T, want AuthCodeMessage with the stored code", h.sender.sent[0])
	}

	if got := h.publisher.types(); len(got) != 1 || got[0] != events.CodeIssued {
		t.Fatalf("events = %v", got)
	}
}

func TestBeginAuthOverwritesPreviousRecord(t *testing.T) {
	h := newHarness(t, Options{}, testPages())
	ctx := context.Background()
	_ = h.store.Put(ctx, "420", store.Record{"code": "999999", "ssid": "old"})

	h.do(t, http.MethodGet, PathAuth, map[string]string{"phone_number": "420"})

	rec, _ := h.store.Get(ctx, "420")
	if rec.Code() != "012345" {
		t.Fatalf("code = %s, want 012345", rec.Code())
	}
	if _, ok := rec["ssid"]; ok {
		t.Fatalf("stale field survived overwrite: %v", rec)
	}
}

func TestBeginAuthRequiresPhone(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodGet, PathAuth, map[string]string{"id": "8c:85"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(h.sender.sent) != 0 {
		t.Fatalf("message sent without a phone number")
	}
}

func TestBeginAuthPropagatesTransportError(t *testing.T) {
	h := newHarness(t, Options{}, testPages())
	h.sender.err = &messaging.TransportError{StatusCode: http.StatusUnauthorized, Body: "bad token"}

	_, err := h.portal.Dispatcher().Handle(context.Background(), Request{
		Method: http.MethodGet, Path: PathAuth, Query: map[string]string{"phone_number": "420"},
	})
	var tErr *messaging.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestBeginAuthTemplateMissingAfterSend(t *testing.T) {
	pages := testPages()
	delete(pages, "auth.html")
	h := newHarness(t, Options{}, pages)

	resp := h.do(t, http.MethodGet, PathAuth, map[string]string{"phone_number": "420"})
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(resp.Body, "auth.html") {
		t.Fatalf("resp = %+v", resp)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("code should be sent before the page is rendered")
	}
}

func TestAuthCallback(t *testing.T) {
	tests := []struct {
		name       string
		stored     string
		submitted  string
		wantStatus int
		wantStored any
	}{
		{name: "matching code", stored: "123456", submitted: "123456", wantStatus: http.StatusOK},
		{name: "wrong code", stored: "654321", submitted: "123456", wantStatus: http.StatusUnauthorized, wantStored: "654321"},
		{name: "no record", stored: "", submitted: "123456", wantStatus: http.StatusUnauthorized, wantStored: nil},
		{name: "no submitted code", stored: "123456", submitted: "", wantStatus: http.StatusUnauthorized, wantStored: "123456"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{}, testPages())
			if tc.stored != "" {
				_ = h.store.Put(context.Background(), "420777938821", store.Record{"code": tc.stored})
			}

			query := map[string]string{"phone_number": "420777938821"}
			if tc.submitted != "" {
				query["code"] = tc.submitted
			}
			resp := h.do(t, http.MethodGet, PathCallback, query)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if resp.Headers["Content-Type"] != "application/json" {
				t.Fatalf("content type = %s", resp.Headers["Content-Type"])
			}

			if tc.wantStatus == http.StatusOK {
				if resp.Body != `{"message":"authorized"}` {
					t.Fatalf("body = %s", resp.Body)
				}
				return
			}
			body := decodeBody(t, resp)
			if body["stored_code"] != tc.wantStored {
				t.Fatalf("stored_code = %v, want %v", body["stored_code"], tc.wantStored)
			}
			if body["submitted_code"] != tc.submitted {
				t.Fatalf("submitted_code = %v, want %v", body["submitted_code"], tc.submitted)
			}
		})
	}
}

func TestAuthCallbackCountsAndPublishes(t *testing.T) {
	h := newHarness(t, Options{}, testPages())
	_ = h.store.Put(context.Background(), "1", store.Record{"code": "111111"})

	authorized := testutil.ToFloat64(verificationCounter.WithLabelValues("authorized"))
	rejected := testutil.ToFloat64(verificationCounter.WithLabelValues("rejected"))

	h.do(t, http.MethodGet, PathCallback, map[string]string{"phone_number": "1", "code": "000000"})
	h.do(t, http.MethodGet, PathCallback, map[string]string{"phone_number": "1", "code": "111111"})

	if got := testutil.ToFloat64(verificationCounter.WithLabelValues("authorized")) - authorized; got != 1 {
		t.Fatalf("authorized delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(verificationCounter.WithLabelValues("rejected")) - rejected; got != 1 {
		t.Fatalf("rejected delta = %v, want 1", got)
	}
	if got := h.publisher.types(); len(got) != 2 || got[0] != events.Rejected || got[1] != events.Authorized {
		t.Fatalf("events = %v", got)
	}
}

func TestAuthCallbackSendsWelcome(t *testing.T) {
	h := newHarness(t, Options{PlaceName: "Cafe Lucerna", WelcomeURL: "https://example.com/join"}, testPages())
	_ = h.store.Put(context.Background(), "420", store.Record{"code": "123456"})

	resp := h.do(t, http.MethodGet, PathCallback, map[string]string{"phone_number": "420", "code": "123456"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1 welcome message", len(h.sender.sent))
	}
	if _, ok := h.sender.sent[0].(*messaging.CTAMessage); !ok {
		t.Fatalf("sent %T, want CTAMessage", h.sender.sent[0])
	}
}

func TestAuthCallbackWelcomeFailureStillAuthorizes(t *testing.T) {
	h := newHarness(t, Options{PlaceName: "Cafe", WelcomeURL: "https://example.com"}, testPages())
	h.sender.err = errors.New("provider down")
	_ = h.store.Put(context.Background(), "420", store.Record{"code": "123456"})

	resp := h.do(t, http.MethodGet, PathCallback, map[string]string{"phone_number": "420", "code": "123456"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnmatchedRouteNotFound(t *testing.T) {
	h := newHarness(t, Options{}, testPages())

	resp := h.do(t, http.MethodPost, "/unknown", nil)
	if resp.StatusCode != http.StatusNotFound || resp.Body != `{"message":"Not Found"}` {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLandingFallback(t *testing.T) {
	h := newHarness(t, Options{Fallback: FallbackLanding}, testPages())

	resp := h.do(t, http.MethodGet, "/hotspot-detect.html", nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Body, "ap=null") {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestNewRejectsUnknownFallback(t *testing.T) {
	_, err := New(Options{Fallback: "admin"}, Deps{
		Templates: FSTemplates{FS: testPages()},
		Store:     store.NewMemory(0),
		Sender:    &fakeSender{},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRouterEndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		payloads = append(payloads, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer provider.Close()

	client, err := messaging.NewClient(messaging.DeliveryConfig{
		BusinessID: "b", WhatsAppBusinessID: "wb", PhoneNumberID: "55",
		AccessToken: "t", Version: "v19.0", APIURL: provider.URL,
	}, provider.Client())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	mem := store.NewMemory(0)
	p, err := New(Options{}, Deps{
		Templates: FSTemplates{FS: testPages()},
		Store:     mem,
		Sender:    client,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	router := p.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth?phone_number=420777938821", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "code sent to 420777938821" {
		t.Fatalf("auth = %d %q", rec.Code, rec.Body.String())
	}

	stored, err := mem.Get(context.Background(), "420777938821")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	code := stored.Code()
	if len(code) != CodeLength {
		t.Fatalf("stored code %q", code)
	}

	mu.Lock()
	if len(payloads) != 1 || payloads[0]["to"] != "+420777938821" {
		t.Fatalf("provider payloads = %v", payloads)
	}
	mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?phone_number=420777938821&code="+code, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"message":"authorized"}` {
		t.Fatalf("callback = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %s", rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestServeHTTPHidesHandlerErrors(t *testing.T) {
	h := newHarness(t, Options{}, testPages())
	h.sender.err = &messaging.TransportError{Cause: errors.New("dial tcp: connection refused")}

	rec := httptest.NewRecorder()
	h.portal.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth?phone_number=420", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("transport detail leaked: %q", rec.Body.String())
	}
}

func TestJSONResponseEncodingError(t *testing.T) {
	resp, err := jsonResponse(http.StatusOK, map[string]any{"message": make(chan int)})
	if err == nil {
		t.Fatalf("jsonResponse() = %+v, want encode error", resp)
	}

	resp, err = jsonResponse(http.StatusTeapot, map[string]any{"message": "ok"})
	if err != nil || resp.StatusCode != http.StatusTeapot || resp.Body != `{"message":"ok"}` {
		t.Fatalf("jsonResponse() = %+v, %v", resp, err)
	}
}
