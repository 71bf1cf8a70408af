// Package ingress is the thin HTTP/JSON request-submission surface of
// spec.md §6. It is intentionally minimal: a single endpoint that
// decodes a request, hands it to the Executor, and renders one of the
// three response shapes §6 specifies. Administrative operations
// (kill-switch, registry, policy, approval review, audit export) are
// out of scope here — each maps one-to-one onto its component's own
// Go API and is expected to be exposed by a separate management
// surface, same division of labor as teacher `internal/api`'s
// dashboard server versus `internal/proxy`'s request path.
package ingress

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/controlplane/aicp/internal/cperrors"
	"github.com/controlplane/aicp/internal/executor"
	"github.com/controlplane/aicp/internal/identity"
)

// submitRequest is the wire shape of a request-submission call.
type submitRequest struct {
	AgentID  string         `json:"agent_id"`
	Prompt   string         `json:"prompt"`
	Context  map[string]any `json:"context"`
	Identity identityWire   `json:"identity"`
}

type identityWire struct {
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
	ActorEmail    string `json:"actor_email"`
	SourceIP      string `json:"source_ip"`
	UserAgent     string `json:"user_agent"`
	CorrelationID string `json:"correlation_id"`
}

// Handler serves the request-submission endpoint.
type Handler struct {
	exec      *executor.Executor
	logger    *slog.Logger
	validator identity.Validator // nil = trust the identity the caller claims
}

// New builds a Handler bound to exec.
func New(exec *executor.Executor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exec: exec, logger: logger.With("component", "ingress.Handler")}
}

// WithValidator attaches an identity.Validator (e.g. internal/auth's
// TokenManager, or a production OIDC verifier). Once set, requests must
// carry a valid "Authorization: Bearer <token>" header and the identity
// embedded in the request body is ignored in favor of the one the
// Validator resolves — a caller cannot claim a role it wasn't issued.
func (h *Handler) WithValidator(v identity.Validator) *Handler {
	h.validator = v
	return h
}

// Routes returns a ServeMux with the submission endpoint registered,
// grounded on teacher internal/api/server.go's Go 1.22+ method-pattern
// HandleFunc style.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/requests", h.handleSubmit)
	return mux
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, cperrors.New(cperrors.MissingAgentId, "malformed request body", nil))
		return
	}

	var ident identity.Metadata
	if h.validator != nil {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, cperrors.New(cperrors.NotAuthorized, "missing bearer token", nil))
			return
		}
		md, verr := h.validator.ValidateToken(token)
		if verr != nil {
			writeError(w, http.StatusUnauthorized, cperrors.New(cperrors.NotAuthorized, "invalid or expired token", nil))
			return
		}
		ident = *md
	} else {
		md, err := identity.New(req.Identity.ActorID, req.Identity.ActorRole, req.Identity.ActorEmail,
			req.Identity.SourceIP, req.Identity.UserAgent, req.Identity.CorrelationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ident = md
	}

	result, execErr := h.exec.Execute(r.Context(), executor.Request{
		AgentID:  req.AgentID,
		Prompt:   req.Prompt,
		Context:  req.Context,
		Identity: ident,
	})

	switch result.Status {
	case executor.StatusSuccess:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "success",
			"execution_id": result.ExecutionID,
			"response":     result.Response,
			"latency_ms":   result.LatencyMS,
		})
	case executor.StatusPendingApproval:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "pending_approval",
			"execution_id": result.ExecutionID,
			"approval_id":  result.ApprovalID,
			"reason":       result.Reason,
		})
	default: // StatusBlocked, or an unexpected error with no mapped status.
		writeError(w, statusFor(execErr), execErr, map[string]any{
			"execution_id": result.ExecutionID,
			"reason":       result.Reason,
			"policy_id":    result.PolicyID,
		})
	}
}

// statusFor maps err to its §7 HTTP status, defaulting to 500 for an
// error the closed taxonomy doesn't recognize (which should never
// happen — the Executor only raises *cperrors.Error).
func statusFor(err error) int {
	var cpe *cperrors.Error
	if errors.As(err, &cpe) {
		return cpe.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// bearerToken extracts the token from a "Bearer <token>" Authorization
// header, empty string if the header is absent or malformed.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}

func writeJSON(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders the blocked response shape of §6:
// {"status":"blocked","execution_id":…,"reason":…,"policy_id":…} with
// the error kind surfaced under details.error_type, never the matched
// policy internals §7 says must stay audit-only.
func writeError(w http.ResponseWriter, status int, err error, extra ...map[string]any) {
	body := map[string]any{"status": "blocked", "reason": err.Error()}
	var cpe *cperrors.Error
	if errors.As(err, &cpe) {
		body["reason"] = cpe.Message
		body["details"] = map[string]any{"error_type": string(cpe.Kind)}
	}
	for _, m := range extra {
		for k, v := range m {
			if v == nil || v == "" {
				continue
			}
			body[k] = v
		}
	}
	writeJSON(w, status, body)
}
