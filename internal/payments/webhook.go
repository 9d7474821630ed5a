package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hmapp/backend/internal/api"
	"github.com/hmapp/backend/internal/apperr"
)

// SignatureHeader carries the gateway's HMAC-SHA256 of the raw request body,
// hex encoded, keyed with the shared webhook secret.
const SignatureHeader = "X-Gateway-Signature"

// webhookSchema describes the gateway event envelope. Payloads that don't
// conform are rejected before any state is touched.
const webhookSchema = `{
	"type": "object",
	"required": ["id", "type", "status"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"type": "string"},
		"status": {"type": "string"},
		"amount": {"type": "number"},
		"currency": {"type": "string"},
		"source": {
			"type": "object",
			"properties": {
				"type": {"type": "string"},
				"number": {"type": "string"},
				"name": {"type": "string"}
			}
		},
		"metadata": {
			"type": "object",
			"properties": {
				"payment_token": {"type": "string"},
				"job_id": {"type": "string"}
			}
		}
	}
}`

type webhookPayload struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Source struct {
		Type string `json:"type"`
	} `json:"source"`
	Metadata struct {
		PaymentToken string `json:"payment_token"`
	} `json:"metadata"`
}

// WebhookHandler authenticates and routes gateway callbacks.
type WebhookHandler struct {
	service *Service
	secret  []byte
	schema  *jsonschema.Schema
	log     *slog.Logger
}

func NewWebhookHandler(service *Service, secret string, log *slog.Logger) (*WebhookHandler, error) {
	schema, err := jsonschema.CompileString("webhook.json", webhookSchema)
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{service: service, secret: []byte(secret), schema: schema, log: log}, nil
}

// ServeHTTP handles POST /api/v1/webhooks/payment. Signature verification
// runs over the raw body before anything else; a mismatch is a hard 401 with
// no state change. Delivery order is not guaranteed, so both branches are
// safe to receive duplicated or out of order.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.FailCode(w, apperr.CodeValidation, "failed to read body")
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("webhook signature mismatch")
		api.FailCode(w, apperr.CodeInvalidSignature, "invalid signature")
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}
	if err := h.schema.Validate(raw); err != nil {
		api.FailCode(w, apperr.CodeValidation, "payload does not match webhook schema")
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		api.FailCode(w, apperr.CodeValidation, "invalid JSON")
		return
	}

	if payload.Type != "payment" {
		// Unknown event type; acknowledge so the gateway stops retrying.
		api.OK(w, map[string]string{"message": "event received"})
		return
	}

	switch payload.Status {
	case "paid":
		if payload.Metadata.PaymentToken == "" {
			api.FailCode(w, apperr.CodeValidation, "missing payment token")
			return
		}
		method := payload.Source.Type
		if method == "" {
			method = "card"
		}
		settlement, err := h.service.Confirm(r.Context(), payload.Metadata.PaymentToken, method, payload.ID, body)
		if err != nil {
			api.Fail(w, err, h.log)
			return
		}
		api.OK(w, settlement)
	case "failed":
		if payload.Metadata.PaymentToken != "" {
			if err := h.service.RecordFailure(r.Context(), payload.Metadata.PaymentToken, body); err != nil {
				api.Fail(w, err, h.log)
				return
			}
		}
		api.OK(w, map[string]string{"message": "payment failure recorded"})
	default:
		api.OK(w, map[string]string{"message": "event received"})
	}
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.secret) == 0 {
		// No secret configured (local development): accept unsigned.
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
