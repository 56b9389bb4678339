package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/wifi-portal/internal/common"
	"github.com/example/wifi-portal/internal/events"
	"github.com/example/wifi-portal/internal/messaging"
	"github.com/example/wifi-portal/internal/store"
)

const (
	PathLanding  = "/guest/s/default"
	PathRoot     = "/"
	PathAuth     = "/auth"
	PathCallback = "/auth/callback"

	FallbackNotFound = "notfound"
	FallbackLanding  = "landing"

	paramPhoneNumber = "phone_number"
	paramCode        = "code"
)

var verificationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_verifications_total",
	Help: "Verification code checks by result",
}, []string{"result"})

// Sender delivers single-recipient messages; *messaging.Client satisfies it.
type Sender interface {
	SendOne(ctx context.Context, m messaging.Single) (*messaging.Response, error)
}

type Options struct {
	LandingTemplate    string
	AuthTemplate       string
	AuthTemplateName   string
	AuthTemplateLocale string
	// Fallback picks the default handler: FallbackNotFound or FallbackLanding.
	Fallback string
	// PlaceName and WelcomeURL enable the call-to-action sent after a
	// successful verification. Both must be set.
	PlaceName  string
	WelcomeURL string
}

// OptionsFromConfig maps the env configuration onto portal options.
func OptionsFromConfig(cfg *common.Config) Options {
	return Options{
		LandingTemplate:    cfg.LandingTemplate,
		AuthTemplate:       cfg.AuthTemplate,
		AuthTemplateName:   cfg.AuthTemplateName,
		AuthTemplateLocale: cfg.AuthTemplateLocale,
		Fallback:           cfg.FallbackRoute,
		PlaceName:          cfg.PlaceName,
		WelcomeURL:         cfg.WelcomeURL,
	}
}

type Deps struct {
	Templates Templates
	Store     store.Store
	Sender    Sender
	Events    events.Publisher
	Codes     CodeGenerator
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Portal owns the captive portal handlers and the route table built from them.
type Portal struct {
	opts       Options
	templates  Templates
	store      store.Store
	sender     Sender
	events     events.Publisher
	codes      CodeGenerator
	now        func() time.Time
	logger     zerolog.Logger
	tracer     trace.Tracer
	dispatcher *Dispatcher
}

func New(opts Options, deps Deps) (*Portal, error) {
	if deps.Templates == nil || deps.Store == nil || deps.Sender == nil {
		return nil, errors.New("portal requires templates, store and sender")
	}
	if opts.LandingTemplate == "" {
		opts.LandingTemplate = "index.html"
	}
	if opts.AuthTemplate == "" {
		opts.AuthTemplate = "auth.html"
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Codes == nil {
		deps.Codes = GenerateCode
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	p := &Portal{
		opts:      opts,
		templates: deps.Templates,
		store:     deps.Store,
		sender:    deps.Sender,
		events:    deps.Events,
		codes:     deps.Codes,
		now:       deps.Now,
		logger:    deps.Logger,
		tracer:    otel.Tracer("portal"),
	}

	var fallback HandlerFunc
	switch opts.Fallback {
	case "", FallbackNotFound:
		fallback = NotFound
	case FallbackLanding:
		fallback = p.Landing
	default:
		return nil, fmt.Errorf("unknown fallback route %q", opts.Fallback)
	}

	p.dispatcher = NewDispatcher(map[RouteKey]HandlerFunc{
		Key(http.MethodGet, PathLanding):  p.Landing,
		Key(http.MethodGet, PathRoot):     p.Landing,
		Key(http.MethodGet, PathAuth):     p.BeginAuth,
		Key(http.MethodGet, PathCallback): p.AuthCallback,
	}, fallback)
	return p, nil
}

func (p *Portal) Dispatcher() *Dispatcher { return p.dispatcher }

// Landing serves the splash page with the controller's redirect parameters.
func (p *Portal) Landing(ctx context.Context, req Request) (Response, error) {
	page, err := p.templates.Read(p.opts.LandingTemplate)
	if err != nil {
		return p.templateFailure(ctx, err), nil
	}
	return htmlResponse(Render(page, landingValues(req.Query, p.now()))), nil
}

// BeginAuth issues a new code, stores it with the request's query parameters
// and sends it to the guest's phone.
func (p *Portal) BeginAuth(ctx context.Context, req Request) (Response, error) {
	phone := req.Query[paramPhoneNumber]
	if phone == "" {
		return jsonResponse(http.StatusBadRequest, map[string]any{"message": "phone_number is required"})
	}

	code, err := p.codes()
	if err != nil {
		return Response{}, err
	}

	if err := p.store.Put(ctx, phone, store.NewRecord(req.Query, code, p.now())); err != nil {
		return Response{}, fmt.Errorf("store verification record: %w", err)
	}

	msg, err := messaging.NewAuthCodeMessage(phone, code, p.opts.AuthTemplateName, p.opts.AuthTemplateLocale)
	if err != nil {
		return Response{}, err
	}
	if _, err := p.sender.SendOne(ctx, msg); err != nil {
		return Response{}, fmt.Errorf("send verification code: %w", err)
	}
	p.publish(ctx, events.New(events.CodeIssued, phone, metaFrom(req.Query)))

	page, err := p.templates.Read(p.opts.AuthTemplate)
	if err != nil {
		return p.templateFailure(ctx, err), nil
	}
	return htmlResponse(Render(page, map[string]string{TokenPhoneNumber: phone})), nil
}

// AuthCallback compares the submitted code with the stored one. A mismatch
// answers 401 and echoes both codes.
func (p *Portal) AuthCallback(ctx context.Context, req Request) (Response, error) {
	phone := req.Query[paramPhoneNumber]
	submitted := req.Query[paramCode]
	if phone == "" {
		return jsonResponse(http.StatusBadRequest, map[string]any{"message": "phone_number is required"})
	}

	var stored *string
	rec, err := p.store.Get(ctx, phone)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Response{}, fmt.Errorf("load verification record: %w", err)
	default:
		code := rec.Code()
		stored = &code
	}

	if stored == nil || submitted == "" || *stored != submitted {
		verificationCounter.WithLabelValues("rejected").Inc()
		p.publish(ctx, events.New(events.Rejected, phone, nil))
		return jsonResponse(http.StatusUnauthorized, map[string]any{
			"message":        "unauthorized",
			"stored_code":    stored,
			"submitted_code": submitted,
		})
	}

	verificationCounter.WithLabelValues("authorized").Inc()
	p.publish(ctx, events.New(events.Authorized, phone, metaFrom(rec)))
	p.grantAccess(ctx, phone, rec)
	p.sendWelcome(ctx, phone)

	return jsonResponse(http.StatusOK, map[string]any{"message": "authorized"})
}

// NotFound answers every unmatched route.
func NotFound(context.Context, Request) (Response, error) {
	return jsonResponse(http.StatusNotFound, map[string]any{"message": "Not Found"})
}

// grantAccess is where the controller would be told to authorize the client
// MAC. Only logged for now.
func (p *Portal) grantAccess(ctx context.Context, phone string, rec store.Record) {
	logger := common.WithContext(ctx, p.logger)
	logger.Info().
		Str("phone_number", phone).
		Str("client_mac", rec["id"]).
		Str("ap_mac", rec["ap"]).
		Msg("guest verified, network grant not implemented")
}

func (p *Portal) sendWelcome(ctx context.Context, phone string) {
	if p.opts.PlaceName == "" || p.opts.WelcomeURL == "" {
		return
	}
	logger := common.WithContext(ctx, p.logger)
	msg, err := messaging.NewCTAMessage(phone, messaging.WelcomeCTA(p.opts.PlaceName, p.opts.WelcomeURL))
	if err != nil {
		logger.Error().Err(err).Msg("build welcome message")
		return
	}
	if _, err := p.sender.SendOne(ctx, msg); err != nil {
		logger.Warn().Err(err).Str("phone_number", phone).Msg("welcome message not delivered")
	}
}

func (p *Portal) publish(ctx context.Context, e events.Event) {
	if err := p.events.Publish(ctx, e); err != nil {
		logger := common.WithContext(ctx, p.logger)
		logger.Warn().Err(err).Str("event", string(e.Type)).Msg("publish portal event")
	}
}

func (p *Portal) templateFailure(ctx context.Context, err error) Response {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("portal.template_error", true))
	logger := common.WithContext(ctx, p.logger)
	logger.Error().Err(err).Msg("template read failed")
	return Response{
		StatusCode: http.StatusInternalServerError,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       "Internal Server Error\nException:\n" + err.Error(),
	}
}

func htmlResponse(body string) Response {
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       body,
	}
}

func jsonResponse(status int, body map[string]any) (Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode response body: %w", err)
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}, nil
}

// metaFrom keeps the controller parameters worth auditing; codes never leave.
func metaFrom(fields map[string]string) map[string]string {
	meta := map[string]string{}
	for _, k := range []string{"ap", "id", "ssid"} {
		if v := fields[k]; v != "" {
			meta[k] = v
		}
	}
	return meta
}
