package payment

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/config"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/events"
)

// DefaultMaxRetries bounds retries when none is configured.
const DefaultMaxRetries = 3

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Failure reasons.
const (
	ReasonMalformed          = "malformed payment parameters"
	ReasonSigningUnavailable = "signing unavailable"
	ReasonRetriesExhausted   = "retries exhausted"
	ReasonExpired            = "payment session expired"
	ReasonCancelled          = "cancelled"
	ReasonPaymentsDisabled   = "payments disabled"
)

var retryableClasses = []string{"expired", "network", "timeout", "connection"}

// Receipt is issued for every successful payment.
type Receipt struct {
	PaymentID     string    `json:"payment_id"`
	Amount        string    `json:"amount"`
	Asset         string    `json:"asset"`
	Payee         string    `json:"payee"`
	Network       string    `json:"network"`
	Signature     string    `json:"signature"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Result is the terminal outcome of one Get.
type Result struct {
	CorrelationID string   `json:"correlation_id"`
	URL           string   `json:"url"`
	Status        Status   `json:"status"`
	Reason        string   `json:"reason,omitempty"`
	Attempts      int      `json:"attempts"`
	StatusCode    int      `json:"status_code,omitempty"`
	Body          []byte   `json:"-"`
	Session       *Session `json:"session,omitempty"`
	Receipt       *Receipt `json:"receipt,omitempty"`

	signature string
}

// Succeeded reports whether the resource was obtained.
func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// Client fetches resources, paying for them when challenged.
// Safe for concurrent use.
type Client struct {
	http       *http.Client
	signer     Signer
	maxRetries int
	maxBackoff time.Duration
	defaults   Defaults
	disabled   bool
	metrics    *Metrics
	recorder   events.Recorder
	agentID    string
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time

	mu       sync.Mutex
	receipts []Receipt
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithSigner sets the wallet. A nil signer fails every payment with
// "signing unavailable".
func WithSigner(s Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithMaxRetries overrides the retry bound.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithMetrics shares counters across clients.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRecorder stores a payment event for agentID after every flow.
func WithRecorder(agentID string, r events.Recorder) Option {
	return func(c *Client) {
		c.agentID = agentID
		c.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the backoff sleep. It must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client from cfg. Without WithSigner the NoOpSigner is used.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		signer:     NoOpSigner{},
		maxRetries: cfg.PaymentMaxRetries,
		maxBackoff: time.Duration(cfg.PaymentMaxBackoffSeconds) * time.Second,
		defaults: Defaults{
			Asset:   cfg.PaymentAsset,
			Network: cfg.PaymentNetwork,
			TTL:     time.Duration(cfg.PaymentSessionTTLSeconds) * time.Second,
		},
		disabled: cfg.DisablePayments,
		logger:   slog.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 10 * time.Second
	}
	if c.defaults.TTL <= 0 {
		c.defaults.TTL = time.Hour
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Metrics returns the client's counters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// Receipts returns all receipts issued so far.
func (c *Client) Receipts() []Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Receipt(nil), c.receipts...)
}

// Backoff is min(2^retry, max) seconds.
func Backoff(retry int, limit time.Duration) time.Duration {
	d := time.Second << min(retry, 30)
	return min(d, limit)
}

// Retryable reports whether err belongs to a transient class.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrTransientNetwork) {
		return true
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return retryableMessage(err.Error())
}

func retryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, class := range retryableClasses {
		if strings.Contains(msg, class) {
			return true
		}
	}
	return false
}

// Get fetches url. A 402 challenge is signed and the request resent with an
// X-PAYMENT header. The total number of requests never exceeds maxRetries+1.
func (c *Client) Get(ctx context.Context, url string) (res Result) {
	res = Result{CorrelationID: uuid.NewString(), URL: url}
	defer func() { c.finish(ctx, &res) }()

	var header string
	for {
		if err := ctx.Err(); err != nil {
			res.Status, res.Reason = StatusFailed, ReasonCancelled
			return res
		}

		code, body, err := c.do(ctx, url, header)
		res.Attempts++
		c.metrics.attempt()
		res.StatusCode = code

		if res.Session == nil {
			// Plain leg: only a 402 continues the handshake.
			switch {
			case err != nil:
				res.Status, res.Reason = StatusFailed, err.Error()
				return res
			case code >= 200 && code < 300:
				res.Status, res.Body = StatusSucceeded, body
				return res
			case code != http.StatusPaymentRequired:
				res.Status, res.Reason = StatusFailed, fmt.Sprintf("unexpected status %d", code)
				return res
			case c.disabled:
				res.Status, res.Reason = StatusFailed, ReasonPaymentsDisabled
				return res
			}
			sess, perr := ParseRequired(body, c.defaults, c.now())
			if perr != nil {
				res.Status, res.Reason = StatusFailed, ReasonMalformed
				c.logger.Warn("payment challenge rejected", "correlation_id", res.CorrelationID, "error", perr)
				return res
			}
			res.Session = sess
			if res.Attempts >= c.maxRetries+1 {
				res.Status, res.Reason = StatusFailed, ReasonRetriesExhausted
				return res
			}
			if header, res.signature, err = c.sign(ctx, sess, res.CorrelationID); err != nil {
				res.Status, res.Reason = StatusFailed, ReasonSigningUnavailable
				return res
			}
			continue
		}

		// Signed leg.
		if err == nil && code >= 200 && code < 300 {
			res.Status, res.Body = StatusSucceeded, body
			res.Session.Status = StatusSucceeded
			return res
		}

		reason := failureReason(code, body, err)
		retryable := code == http.StatusPaymentRequired || Retryable(err) || (err == nil && retryableMessage(reason))
		if !retryable {
			res.Status, res.Reason = StatusFailed, reason
			return res
		}
		if res.Attempts >= c.maxRetries+1 {
			res.Status, res.Reason = StatusFailed, ReasonRetriesExhausted
			return res
		}

		retry := res.Attempts - 1
		c.metrics.retry()
		c.logger.Info("payment retry",
			"correlation_id", res.CorrelationID,
			"payment_id", res.Session.PaymentID,
			"attempt", res.Attempts,
			"reason", reason)
		if err := c.sleep(ctx, Backoff(retry, c.maxBackoff)); err != nil {
			res.Status, res.Reason = StatusFailed, ReasonCancelled
			return res
		}

		// A fresh challenge replaces the session.
		if code == http.StatusPaymentRequired {
			if sess, perr := ParseRequired(body, c.defaults, c.now()); perr == nil {
				res.Session = sess
			}
		}
		if res.Session.Expired(c.now()) {
			res.Status, res.Reason = StatusExpired, ReasonExpired
			return res
		}
		if header, res.signature, err = c.sign(ctx, res.Session, res.CorrelationID); err != nil {
			res.Status, res.Reason = StatusFailed, ReasonSigningUnavailable
			return res
		}
	}
}

func (c *Client) do(ctx context.Context, url, header string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, errors.NewInvalidRequest("bad url: " + err.Error())
	}
	if header != "" {
		req.Header.Set(HeaderName, header)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.NewTransientNetwork(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.NewTransientNetwork(err)
	}
	return resp.StatusCode, body, nil
}

// sign obtains a signature for s and returns the encoded X-PAYMENT header
// along with the raw signature.
func (c *Client) sign(ctx context.Context, s *Session, correlationID string) (string, string, error) {
	if c.signer == nil {
		return "", "", errors.NewCollaboratorUnavailable("signer", nil)
	}
	payer, err := c.signer.Address(ctx)
	if err != nil {
		c.logger.Warn("signer address unavailable", "correlation_id", correlationID, "error", err)
		return "", "", errors.NewCollaboratorUnavailable("signer", err)
	}
	msg, err := message(s, payer)
	if err != nil {
		return "", "", err
	}
	sig, err := c.signer.SignTypedData(ctx, payer, NewDomain(s.Network), PaymentTypes(), PrimaryType, msg)
	if err != nil || sig == "" {
		c.logger.Warn("signing failed", "correlation_id", correlationID, "payment_id", s.PaymentID, "error", err)
		return "", "", errors.NewCollaboratorUnavailable("signer", err)
	}
	s.Status = StatusSigned

	h := Header{
		Signature: sig,
		PaymentID: s.PaymentID,
		Payer:     payer,
		Amount:    s.Amount,
		Asset:     s.Asset,
		Timestamp: c.now().Unix(),
	}
	header, err := h.Encode()
	if err != nil {
		return "", "", err
	}
	return header, sig, nil
}

func (c *Client) finish(ctx context.Context, res *Result) {
	if res.Session != nil && !res.Session.Status.Terminal() {
		res.Session.Status = res.Status
	}

	if res.Status == StatusSucceeded {
		c.metrics.success()
		if res.Session != nil {
			rc := Receipt{
				PaymentID:     res.Session.PaymentID,
				Amount:        res.Session.Amount,
				Asset:         res.Session.Asset,
				Payee:         res.Session.Payee,
				Network:       res.Session.Network,
				Signature:     res.signature,
				CorrelationID: res.CorrelationID,
				Timestamp:     c.now().UTC(),
			}
			res.Receipt = &rc
			c.mu.Lock()
			c.receipts = append(c.receipts, rc)
			c.mu.Unlock()
		}
	} else {
		c.metrics.failure()
	}

	c.logger.Info("payment flow finished",
		"correlation_id", res.CorrelationID,
		"url", res.URL,
		"status", res.Status,
		"attempts", res.Attempts,
		"reason", res.Reason)

	if c.recorder == nil || c.agentID == "" {
		return
	}
	p := events.Payment{URL: res.URL, Attempts: res.Attempts, Reason: res.Reason}
	if res.Session != nil {
		p.PaymentID, p.Amount, p.Asset = res.Session.PaymentID, res.Session.Amount, res.Session.Asset
	}
	if err := c.recorder.Record(ctx, events.NewPayment(c.agentID, res.CorrelationID, string(res.Status), p)); err != nil {
		c.logger.Warn("record payment failed", "correlation_id", res.CorrelationID, "error", err)
	}
}

// failureReason describes a failed signed request.
func failureReason(code int, body []byte, err error) string {
	if err != nil {
		return err.Error()
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
