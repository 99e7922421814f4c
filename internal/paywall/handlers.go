package paywall

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/payment"
)

// mockSignaturePrefix marks signatures from the no-op signer.
const mockSignaturePrefix = "0xmocksig"

// minSignatureLen is the length above which any signature is accepted.
const minSignatureLen = 60

// Record is a verified payment.
type Record struct {
	PaymentID  string    `json:"payment_id"`
	Resource   string    `json:"resource"`
	Payer      string    `json:"payer,omitempty"`
	Amount     string    `json:"amount"`
	Signature  string    `json:"signature"`
	Status     string    `json:"status"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Resource is content served by the paywall.
type Resource struct {
	Title    string
	Markdown string
	Data     map[string]any
}

var freeResources = map[string]Resource{
	"market": {
		Title:    "Market status",
		Markdown: "Market is **active**. General sentiment is neutral.",
		Data: map[string]any{
			"basic_info": []string{
				"Current market status: Active",
				"Basic price movements available",
				"General market sentiment: Neutral",
			},
		},
	},
}

var premiumResources = map[string]Resource{
	"insights": {
		Title: "Premium insights",
		Markdown: "## Premium insights\n\n" +
			"- Volatility expected to rise 15%\n" +
			"- Optimal trading window 14:30 to 16:00 UTC\n" +
			"- Portfolio risk is medium-low\n",
		Data: map[string]any{
			"premium_insights": []string{
				"Market volatility prediction: 15% increase expected",
				"Optimal trading window: 14:30-16:00 UTC",
				"Risk assessment: Medium-Low for current portfolio",
			},
			"exclusive_metrics": map[string]float64{
				"sentiment_score":    0.73,
				"volatility_index":   0.42,
				"momentum_indicator": 0.61,
			},
		},
	},
	"recommendations": {
		Title: "Recommendations",
		Markdown: "## Recommendations\n\n" +
			"1. Diversify into DeFi protocols\n" +
			"2. Monitor Bitcoin correlation indicators\n" +
			"3. Reduce exposure to high-beta assets\n",
		Data: map[string]any{
			"ai_recommendations": []string{
				"Consider diversifying into DeFi protocols",
				"Monitor Bitcoin correlation indicators",
				"Reduce exposure to high-beta assets",
			},
		},
	},
}

func (p *Paywall) count(route string, code int) {
	p.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (p *Paywall) handleHealth(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	processed := len(p.paid)
	pending := len(p.pending)
	p.mu.Unlock()

	p.count("health", http.StatusOK)
	renderJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"service":            "paperclip-paywall",
		"timestamp":          p.now().Unix(),
		"payments_processed": processed,
		"payments_pending":   pending,
	})
}

func (p *Paywall) handleFree(w http.ResponseWriter, r *http.Request) {
	res, ok := freeResources[chi.URLParam(r, "resource")]
	if !ok {
		p.count("free", http.StatusNotFound)
		renderError(w, errors.NewNotFound(chi.URLParam(r, "resource")))
		return
	}
	p.count("free", http.StatusOK)
	renderJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"title":  res.Title,
		"html":   renderMarkdown(res.Markdown),
		"data":   res.Data,
	})
}

func (p *Paywall) handlePremium(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	res, ok := premiumResources[name]
	if !ok {
		p.count("premium", http.StatusNotFound)
		renderError(w, errors.NewNotFound(name))
		return
	}

	raw := r.Header.Get(payment.HeaderName)
	if raw == "" {
		p.challenge(w, "")
		return
	}

	h, err := payment.ParseHeader(raw)
	if err != nil {
		p.count("premium", http.StatusBadRequest)
		renderError(w, err)
		return
	}
	if !validSignature(h.Signature) {
		p.logger.Warn("invalid payment signature", "payment_id", h.PaymentID)
		p.count("premium", http.StatusForbidden)
		renderError(w, &errors.PaperclipError{Code: errors.ErrPaymentFailed, Status: http.StatusForbidden, Message: "invalid payment signature"})
		return
	}

	rec, err := p.settle(h, name)
	if err != nil {
		p.logger.Info("payment refused", "payment_id", h.PaymentID, "err", err)
		p.challenge(w, "payment expired")
		return
	}

	p.logger.Info("payment verified", "payment_id", rec.PaymentID, "resource", name)
	p.count("premium", http.StatusOK)
	renderJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"title":  res.Title,
		"html":   renderMarkdown(res.Markdown),
		"data":   res.Data,
		"payment_confirmed": map[string]any{
			"payment_id":  rec.PaymentID,
			"amount":      rec.Amount,
			"verified_at": rec.VerifiedAt.Unix(),
		},
	})
}

func (p *Paywall) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p.mu.Lock()
	rec, paid := p.paid[id]
	_, pending := p.pending[id]
	p.mu.Unlock()

	switch {
	case paid:
		p.count("status", http.StatusOK)
		renderJSON(w, http.StatusOK, rec)
	case pending:
		p.count("status", http.StatusOK)
		renderJSON(w, http.StatusOK, map[string]any{"payment_id": id, "status": string(payment.StatusPending)})
	default:
		p.count("status", http.StatusNotFound)
		renderError(w, errors.NewNotFound(id))
	}
}

// challenge issues a fresh payment session and answers 402.
func (p *Paywall) challenge(w http.ResponseWriter, reason string) {
	now := p.now()
	s := &payment.Session{
		PaymentID: uuid.NewString(),
		Amount:    p.cfg.PaywallPrice,
		Asset:     p.cfg.PaymentAsset,
		Payee:     p.cfg.PaywallPayee,
		Network:   p.cfg.PaymentNetwork,
		IssuedAt:  now.UTC(),
		Deadline:  now.Add(p.ttl()).UTC(),
		Status:    payment.StatusPending,
	}

	p.mu.Lock()
	p.pending[s.PaymentID] = s
	p.mu.Unlock()

	body := s.Required()
	body.Error = reason
	p.logger.Debug("payment required", "payment_id", s.PaymentID)
	p.count("premium", http.StatusPaymentRequired)
	renderJSON(w, http.StatusPaymentRequired, body)
}

// settle consumes the pending session named by h. A paymentId is honoured
// once.
func (p *Paywall) settle(h payment.Header, resource string) (Record, error) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.pending[h.PaymentID]
	if !ok {
		return Record{}, errors.NewNotFound(h.PaymentID)
	}
	delete(p.pending, h.PaymentID)
	if s.Expired(now) {
		return Record{}, errors.NewPaymentFailed("payment session expired", h.PaymentID)
	}
	if h.Amount != "" {
		got, err := payment.BaseUnits(h.Amount)
		if err != nil {
			return Record{}, err
		}
		want, err := payment.BaseUnits(s.Amount)
		if err != nil {
			return Record{}, err
		}
		if got.Cmp(want) < 0 {
			return Record{}, errors.NewPaymentFailed("amount below price", h.PaymentID)
		}
	}

	rec := Record{
		PaymentID:  h.PaymentID,
		Resource:   resource,
		Payer:      h.Payer,
		Amount:     s.Amount,
		Signature:  h.Signature,
		Status:     "verified",
		VerifiedAt: now.UTC(),
	}
	p.paid[h.PaymentID] = rec
	return rec, nil
}

func (p *Paywall) ttl() time.Duration {
	if p.cfg.PaymentSessionTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(p.cfg.PaymentSessionTTLSeconds) * time.Second
}

// validSignature stands in for on-chain verification.
func validSignature(sig string) bool {
	return strings.HasPrefix(sig, mockSignaturePrefix) || len(sig) > minSignatureLen
}

// Payments returns the verified payments.
func (p *Paywall) Payments() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.paid))
	for _, r := range p.paid {
		out = append(out, r)
	}
	return out
}
