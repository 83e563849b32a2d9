// Package translation drives one push-to-talk translation from captured audio
// to a charged, confirmed result.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/ncecere/voice_translator/internal/apiclient"
	"github.com/ncecere/voice_translator/internal/audio"
	"github.com/ncecere/voice_translator/internal/config"
	"github.com/ncecere/voice_translator/internal/connectivity"
	"github.com/ncecere/voice_translator/internal/credits"
	"github.com/ncecere/voice_translator/internal/direction"
	"github.com/ncecere/voice_translator/internal/health"
	"github.com/ncecere/voice_translator/internal/languages"
	"github.com/ncecere/voice_translator/internal/models"
)

// API is the subset of the backend client the coordinator needs.
type API interface {
	Translate(ctx context.Context, req models.TranslateRequest) (*models.TranslateResponse, int, error)
	Credits(ctx context.Context, userID string) (*models.UserCredits, error)
	AddCredits(ctx context.Context, req models.AddCreditsRequest) (*models.AddCreditsResponse, error)
}

// HealthProbe is the cached backend health view used for pre-flight checks.
type HealthProbe interface {
	Verdict() health.Verdict
	Check(ctx context.Context) (health.Verdict, error)
	SinceLastSuccess() (time.Duration, bool)
	RecordSuccess()
	OnForeground(ctx context.Context) (health.Verdict, error)
	OnBackground()
}

// Result is a confirmed translation.
type Result struct {
	RequestID        string
	Direction        direction.Direction
	SourceText       string
	TargetText       string
	DetectedLanguage string
	DurationMinutes  decimal.Decimal
	CreditsCharged   decimal.Decimal
	Balance          credits.Snapshot
	Replayed         bool
	Attempts         int
}

// Entitlement is a verified purchase ready to be credited.
type Entitlement struct {
	UserID        string
	ProductID     string
	TransactionID string
	Minutes       float64
	PackageType   string
}

type Options struct {
	API          API
	Probe        HealthProbe
	Connectivity connectivity.Monitor
	Snapshots    *credits.Store
	Languages    languages.Set
	Config       config.ClientConfig
	Logger       *slog.Logger
	NewRequestID func() string
	// OnRetry observes each backoff delay before it is slept.
	OnRetry func(attempt int, delay time.Duration)
}

// Coordinator owns the lifecycle of translation requests for one user session.
// Submissions are expected one at a time; a concurrent Submit is rejected.
type Coordinator struct {
	api       API
	probe     HealthProbe
	network   connectivity.Monitor
	snapshots *credits.Store
	langs     languages.Set
	cfg       config.ClientConfig
	logger    *slog.Logger
	newID     func() string
	onRetry   func(int, time.Duration)

	submitting atomic.Bool
	closed     atomic.Bool
	background sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
}

var errBusy = errors.New("a translation is already in progress")

func New(opts Options) (*Coordinator, error) {
	if opts.API == nil {
		return nil, errors.New("translation: api client required")
	}
	if opts.Probe == nil {
		return nil, errors.New("translation: health probe required")
	}
	cfg := opts.Config
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.QuickCheckTimeout <= 0 {
		cfg.QuickCheckTimeout = 3 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = 4 * cfg.RetryBaseDelay
	}
	if cfg.MinRecordingDuration <= 0 {
		cfg.MinRecordingDuration = 500 * time.Millisecond
	}
	if cfg.MaxRecordingDurationMinutes <= 0 {
		cfg.MaxRecordingDurationMinutes = 2
	}
	if cfg.ProbeGraceWindow <= 0 {
		cfg.ProbeGraceWindow = 10 * time.Second
	}

	c := &Coordinator{
		api:       opts.API,
		probe:     opts.Probe,
		network:   opts.Connectivity,
		snapshots: opts.Snapshots,
		langs:     opts.Languages,
		cfg:       cfg,
		logger:    opts.Logger,
		newID:     opts.NewRequestID,
		onRetry:   opts.OnRetry,
		pending:   make(map[string]struct{}),
	}
	if c.snapshots == nil {
		c.snapshots = credits.NewStore()
	}
	if c.langs == nil {
		c.langs = languages.Default
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// Snapshots exposes the balance store for reads and change subscriptions.
func (c *Coordinator) Snapshots() *credits.Store { return c.snapshots }

// Submit translates payload in direction d on behalf of userID.
func (c *Coordinator) Submit(ctx context.Context, payload audio.Payload, d direction.Direction, userID string) (*Result, error) {
	if c.closed.Load() {
		return nil, newError(KindApplication, "", nil, "coordinator closed")
	}
	if !c.submitting.CompareAndSwap(false, true) {
		return nil, &Error{Kind: KindApplication, Message: errBusy.Error(), Err: errBusy}
	}
	defer c.submitting.Store(false)

	d = direction.New(d.Source, d.Target)
	if err := c.validate(payload, d, userID); err != nil {
		return nil, err
	}
	if c.network != nil && !c.network.Online() {
		return nil, newError(KindNetwork, ReasonNoRoute, nil, "no network path")
	}
	if err := c.preflight(ctx); err != nil {
		return nil, err
	}

	requestID := c.newID()
	req := models.TranslateRequest{
		AudioBase64:        payload.Base64(),
		UserID:             userID,
		SourceLanguage:     d.Source,
		TargetLanguage:     d.Target,
		SourceLanguageName: c.langs.Name(d.Source),
		TargetLanguageName: c.langs.Name(d.Target),
		RequestID:          requestID,
	}
	logger := c.logger.With(slog.String("request_id", requestID), slog.String("user", shortID(userID)))

	var (
		attempts int
		reached  bool
		lastErr  *Error
		result   *Result
	)
	policy := retryPolicy(c.cfg.MaxRetryAttempts, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, c.onRetry)
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		res, aerr, mayHaveReached := c.attempt(ctx, req, d)
		if mayHaveReached {
			reached = true
		}
		if aerr == nil {
			result = res
			return nil
		}
		aerr.RequestID = requestID
		lastErr = aerr
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if aerr.Retryable() {
			logger.Warn("translate attempt failed",
				slog.Int("attempt", attempts),
				slog.String("kind", aerr.Kind.String()),
				slog.String("error", aerr.Error()))
			return retry.RetryableError(aerr)
		}
		return aerr
	})

	if err == nil && result != nil {
		result.Attempts = attempts
		c.probe.RecordSuccess()
		c.clearPending(userID)
		logger.Info("translation completed",
			slog.Int("attempts", attempts),
			slog.String("credits", result.CreditsCharged.String()),
			slog.Bool("replayed", result.Replayed))
		return result, nil
	}

	if ctx.Err() != nil {
		if attempts > 0 {
			c.scheduleReconcile(userID)
		}
		return nil, &Error{Kind: KindCanceled, RequestID: requestID, Err: ctx.Err()}
	}

	if lastErr == nil {
		return nil, &Error{Kind: KindApplication, RequestID: requestID, Err: err}
	}

	switch lastErr.Kind {
	case KindInsufficientCredits:
		return nil, lastErr
	case KindApplication, KindProtocol, KindValidation:
		return nil, lastErr
	}

	// Retries exhausted on a transport-class failure: whatever happened on the
	// server, the canonical balance tells the user where they stand.
	logger.Warn("translate retries exhausted", slog.Int("attempts", attempts), slog.Bool("may_have_reached", reached))
	if _, rerr := c.RefreshBalance(context.WithoutCancel(ctx), userID); rerr != nil {
		logger.Warn("reconciliation read failed", slog.String("error", rerr.Error()))
		c.markPending(userID)
	}
	if reached || lastErr.Kind == KindAmbiguous {
		return nil, &Error{
			Kind:      KindAmbiguous,
			Message:   "outcome unknown; balance re-read from server",
			RequestID: requestID,
			Err:       lastErr,
		}
	}
	return nil, lastErr
}

func (c *Coordinator) validate(payload audio.Payload, d direction.Direction, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return newError(KindApplication, "", nil, "user id required")
	}
	maxDuration := c.cfg.MaxRecordingDuration()
	switch err := payload.Validate(c.cfg.MinRecordingDuration, maxDuration); {
	case errors.Is(err, audio.ErrTooLong):
		return &Error{Kind: KindValidation, Reason: ReasonTooLong, Err: err,
			Message: fmt.Sprintf("recording is %s, maximum is %s", payload.Duration.Round(time.Millisecond), maxDuration)}
	case err != nil:
		return &Error{Kind: KindValidation, Reason: ReasonTooShort, Err: err,
			Message: fmt.Sprintf("recording is %s, minimum is %s", payload.Duration.Round(time.Millisecond), c.cfg.MinRecordingDuration)}
	}
	if err := d.Validate(c.langs); err != nil {
		return &Error{Kind: KindValidation, Reason: ReasonUnsupportedLanguage, Err: err,
			Message: fmt.Sprintf("unsupported direction %s", d.Key())}
	}
	return nil
}

// preflight consults the cached health verdict before spending an attempt.
func (c *Coordinator) preflight(ctx context.Context) error {
	v := c.probe.Verdict()
	if v.Fresh {
		if v.State == health.StateUnhealthy {
			return &Error{Kind: KindServerUnavailable, Message: "backend recently unhealthy", Err: v.Err}
		}
		return nil
	}
	if since, ok := c.probe.SinceLastSuccess(); ok && since <= c.cfg.ProbeGraceWindow {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.QuickCheckTimeout)
	defer cancel()
	v, err := c.probe.Check(checkCtx)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Err: ctx.Err()}
		}
		return &Error{Kind: KindServerUnavailable, Message: "health check did not complete", Err: err}
	}
	if v.State != health.StateHealthy {
		return &Error{Kind: KindServerUnavailable, Message: "backend unhealthy", Err: v.Err}
	}
	return nil
}

// attempt performs one call and classifies the outcome. mayHaveReached is true
// when the server could have accepted the request.
func (c *Coordinator) attempt(ctx context.Context, req models.TranslateRequest, d direction.Direction) (*Result, *Error, bool) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	ticket := c.snapshots.Issue()
	resp, status, err := c.api.Translate(callCtx, req)

	switch {
	case status == 0 && err != nil:
		cerr, reached := classifyTransport(ctx, err)
		return nil, cerr, reached
	case status == http.StatusOK:
		if err != nil {
			return nil, &Error{Kind: KindProtocol, Message: "undecodable success body", Err: err}, true
		}
		res, perr := c.accept(resp, req, d, ticket)
		return res, perr, true
	case status == http.StatusPaymentRequired:
		c.refreshAfterRejection(ctx, req.UserID, resp, ticket)
		return nil, &Error{Kind: KindInsufficientCredits, Message: bodyError(resp, "insufficient credits")}, true
	case status == http.StatusConflict:
		return nil, &Error{Kind: KindAmbiguous, Message: bodyError(resp, "request still processing")}, true
	// The backend answers 503 only when the engine failed, which never charges,
	// so a run of 503s ends as ServerUnavailable. Any other 5xx may follow a charge.
	case status == http.StatusServiceUnavailable:
		return nil, &Error{Kind: KindServerUnavailable, Message: bodyError(resp, "service unavailable")}, false
	case status >= 500:
		return nil, &Error{Kind: KindServerUnavailable, Message: bodyError(resp, http.StatusText(status))}, true
	default:
		return nil, &Error{Kind: KindApplication, Message: bodyError(resp, http.StatusText(status))}, true
	}
}

// accept verifies a 200 body and installs the reported balance.
func (c *Coordinator) accept(resp *models.TranslateResponse, req models.TranslateRequest, d direction.Direction, ticket credits.Ticket) (*Result, *Error) {
	if resp == nil {
		return nil, &Error{Kind: KindProtocol, Message: "empty success body"}
	}
	if resp.Error != "" {
		if strings.Contains(strings.ToLower(resp.Error), "insufficient credits") {
			c.applyWire(resp.UserCredits, ticket)
			return nil, &Error{Kind: KindInsufficientCredits, Message: resp.Error}
		}
		return nil, &Error{Kind: KindApplication, Message: resp.Error}
	}
	if resp.SourceText == nil || resp.TargetText == nil {
		return nil, &Error{Kind: KindProtocol, Message: "missing source_text or target_text"}
	}
	if resp.UserCredits == nil {
		return nil, &Error{Kind: KindProtocol, Message: "missing user_credits"}
	}
	if resp.RequestID != "" && resp.RequestID != req.RequestID {
		return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("response for request %s, expected %s", resp.RequestID, req.RequestID)}
	}
	if (resp.SourceLanguage != "" && languages.Normalize(resp.SourceLanguage) != d.Source) ||
		(resp.TargetLanguage != "" && languages.Normalize(resp.TargetLanguage) != d.Target) {
		return nil, &Error{Kind: KindProtocol, Message: fmt.Sprintf("response direction %s->%s does not match %s", resp.SourceLanguage, resp.TargetLanguage, d.Key())}
	}
	if resp.UserCredits.UserID != "" && resp.UserCredits.UserID != req.UserID {
		return nil, &Error{Kind: KindProtocol, Message: "user_credits belong to another user"}
	}
	snap, err := credits.FromWire(*resp.UserCredits)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Message: "invalid user_credits", Err: err}
	}
	if snap.UserID == "" {
		snap.UserID = req.UserID
	}
	c.snapshots.Apply(snap, ticket)
	current, _ := c.snapshots.Current()

	return &Result{
		RequestID:        req.RequestID,
		Direction:        d,
		SourceText:       *resp.SourceText,
		TargetText:       *resp.TargetText,
		DetectedLanguage: resp.DetectedLanguage,
		DurationMinutes:  decimal.NewFromFloat(resp.DurationMinutes),
		CreditsCharged:   decimal.NewFromFloat(resp.CreditsUsed),
		Balance:          current,
		Replayed:         resp.Replayed,
	}, nil
}

func (c *Coordinator) refreshAfterRejection(ctx context.Context, userID string, resp *models.TranslateResponse, ticket credits.Ticket) {
	if resp != nil && resp.UserCredits != nil && c.applyWire(resp.UserCredits, ticket) {
		return
	}
	if _, err := c.RefreshBalance(ctx, userID); err != nil {
		c.logger.Warn("balance refresh after rejection failed", slog.String("user", shortID(userID)), slog.String("error", err.Error()))
	}
}

func (c *Coordinator) applyWire(w *models.UserCredits, ticket credits.Ticket) bool {
	if w == nil {
		return false
	}
	snap, err := credits.FromWire(*w)
	if err != nil {
		return false
	}
	c.snapshots.Apply(snap, ticket)
	return true
}

// RefreshBalance reads the canonical balance and installs it unless a newer
// snapshot has already been applied.
func (c *Coordinator) RefreshBalance(ctx context.Context, userID string) (credits.Snapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	ticket := c.snapshots.Issue()
	wire, err := c.api.Credits(callCtx, userID)
	if err != nil {
		return credits.Snapshot{}, fmt.Errorf("read credits: %w", err)
	}
	snap, err := credits.FromWire(*wire)
	if err != nil {
		return credits.Snapshot{}, err
	}
	if snap.UserID == "" {
		snap.UserID = userID
	}
	c.snapshots.Apply(snap, ticket)
	c.clearPending(userID)
	current, _ := c.snapshots.Current()
	return current, nil
}

// ApplyEntitlement credits a verified purchase and refreshes the balance.
func (c *Coordinator) ApplyEntitlement(ctx context.Context, e Entitlement) (credits.Snapshot, error) {
	if strings.TrimSpace(e.UserID) == "" || strings.TrimSpace(e.TransactionID) == "" {
		return credits.Snapshot{}, newError(KindApplication, "", nil, "user id and transaction id required")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	ticket := c.snapshots.Issue()
	resp, err := c.api.AddCredits(callCtx, models.AddCreditsRequest{
		UserID:        e.UserID,
		ProductID:     e.ProductID,
		TransactionID: e.TransactionID,
		Minutes:       e.Minutes,
		PackageType:   e.PackageType,
	})
	if err != nil {
		var se *apiclient.StatusError
		if errors.As(err, &se) {
			return credits.Snapshot{}, &Error{Kind: KindApplication, Message: se.Message, Err: err}
		}
		cerr, _ := classifyTransport(ctx, err)
		return credits.Snapshot{}, cerr
	}
	if resp != nil && c.applyWire(resp.UserCredits, ticket) {
		current, _ := c.snapshots.Current()
		return current, nil
	}
	return c.RefreshBalance(ctx, e.UserID)
}

// OnForeground refreshes health when stale and runs any reconciliation that
// could not complete earlier.
func (c *Coordinator) OnForeground(ctx context.Context) {
	if _, err := c.probe.OnForeground(ctx); err != nil {
		c.logger.Debug("foreground health probe interrupted", slog.String("error", err.Error()))
	}
	for _, userID := range c.pendingUsers() {
		if _, err := c.RefreshBalance(ctx, userID); err != nil {
			c.logger.Warn("pending reconciliation failed", slog.String("user", shortID(userID)), slog.String("error", err.Error()))
		}
	}
}

// OnBackground pauses periodic health refresh.
func (c *Coordinator) OnBackground() {
	c.probe.OnBackground()
}

// Close stops accepting submissions and waits for background reconciliation.
func (c *Coordinator) Close() {
	c.closed.Store(true)
	c.background.Wait()
}

// PendingReconciliation reports whether a balance read is still owed for userID.
func (c *Coordinator) PendingReconciliation(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[userID]
	return ok
}

func (c *Coordinator) scheduleReconcile(userID string) {
	c.markPending(userID)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if _, err := c.RefreshBalance(ctx, userID); err != nil {
			c.logger.Warn("post-cancel reconciliation failed", slog.String("user", shortID(userID)), slog.String("error", err.Error()))
		}
	}()
}

func (c *Coordinator) markPending(userID string) {
	c.mu.Lock()
	c.pending[userID] = struct{}{}
	c.mu.Unlock()
}

func (c *Coordinator) clearPending(userID string) {
	c.mu.Lock()
	delete(c.pending, userID)
	c.mu.Unlock()
}

func (c *Coordinator) pendingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, id)
	}
	return out
}

// classifyTransport maps a failed round trip to a network error and reports
// whether the request may have been delivered.
func classifyTransport(parent context.Context, err error) (*Error, bool) {
	if parent.Err() != nil {
		return &Error{Kind: KindCanceled, Err: parent.Err()}, true
	}
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindNetwork, Reason: ReasonTimeout, Message: "request timed out", Err: err}, true
	case errors.As(err, &dnsErr):
		return &Error{Kind: KindNetwork, Reason: ReasonNoRoute, Message: "cannot resolve backend", Err: err}, false
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return &Error{Kind: KindNetwork, Reason: ReasonNoRoute, Message: "no route to backend", Err: err}, false
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Kind: KindNetwork, Reason: ReasonUnreachable, Message: "connection refused", Err: err}, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindNetwork, Reason: ReasonTimeout, Message: "request timed out", Err: err}, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: KindNetwork, Reason: ReasonUnreachable, Message: "cannot connect to backend", Err: err}, false
	}
	// reset or EOF after the request was written
	return &Error{Kind: KindNetwork, Reason: ReasonUnreachable, Message: "connection lost", Err: err}, true
}

func bodyError(resp *models.TranslateResponse, fallback string) string {
	if resp != nil && resp.Error != "" {
		return resp.Error
	}
	return fallback
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
