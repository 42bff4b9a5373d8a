package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"flowops/internal/logging"
)

const maxWebhookBody = 1 << 20

type HandlerConfig struct {
	// PublicURL is the externally visible base URL HubSpot signs against.
	// Empty means the URL is rebuilt from the request.
	PublicURL string
	// RatePerSecond and Burst bound deliveries; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// Handler is the HubSpot webhook endpoint.
type Handler struct {
	processor *Processor
	verifier  *SignatureVerifier
	limiter   *rate.Limiter
	publicURL string
	logger    logging.Logger
}

func NewHandler(processor *Processor, verifier *SignatureVerifier, cfg HandlerConfig, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	h := &Handler{
		processor: processor,
		verifier:  verifier,
		publicURL: strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"),
		logger:    logger,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond) + 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if !verifier.Enabled() {
		logger.Warn("hubspot_signature_verification_disabled", logging.F("reason", "no webhook secret configured"))
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
		return
	}
	signature := r.Header.Get(HeaderSignatureV3)
	if err := h.verifier.Verify(r.Method, h.requestURI(r), body, signature, r.Header.Get(HeaderRequestTimestamp)); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrMissingSignature) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("hubspot_signature_rejected", logging.F("error", err))
		writeError(w, status, err.Error())
		return
	}
	events, err := ParseBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("hubspot_webhook_received", logging.F("events", len(events)))
	outcomes := h.processor.Handle(r.Context(), events, signature)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":          "ok",
		"message":         fmt.Sprintf("Processed %d events", len(events)),
		"processedEvents": outcomes,
	})
}

func (h *Handler) requestURI(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": "webhook"})
}
