package main

import (
	"encoding/json"
	"net/http"

	"github.com/controlplane/aicp/internal/approval"
	"github.com/controlplane/aicp/internal/audit"
	"github.com/controlplane/aicp/internal/auth"
	"github.com/controlplane/aicp/internal/config"
	"github.com/controlplane/aicp/internal/cperrors"
	"github.com/controlplane/aicp/internal/failclosed"
	"github.com/controlplane/aicp/internal/killswitch"
	"github.com/controlplane/aicp/internal/policy"
	"github.com/controlplane/aicp/internal/registry"
)

// registerAdminRoutes mounts the management surface the CLI subcommands
// speak to: kill switch, agent registry, policy reload, approval
// decisions and audit export. It is a thin, synchronous wrapper over
// the packages the ingress path already uses, not a second copy of
// their logic.
func registerAdminRoutes(
	mux *http.ServeMux,
	ks *killswitch.KillSwitch,
	reg *registry.Registry,
	eng *policy.Engine,
	policyLoader *policy.Loader,
	approvals *approval.Manager,
	trail *audit.Trail,
	enforcer *failclosed.Enforcer,
	tokens *auth.TokenManager,
	cfg *config.Config,
) {
	mux.HandleFunc("POST /api/killswitch/activate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Scope       string `json:"scope"`
			AgentID     string `json:"agent_id"`
			Reason      string `json:"reason"`
			ActivatedBy string `json:"activated_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, err)
			return
		}
		if err := ks.Activate(killswitch.Scope(req.Scope), req.Reason, req.AgentID, req.ActivatedBy, "admin_api"); err != nil {
			writeAdminError(w, statusForAdmin(err), err)
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"status": "activated"})
	})

	mux.HandleFunc("POST /api/killswitch/deactivate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Scope   string `json:"scope"`
			AgentID string `json:"agent_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, err)
			return
		}
		if err := ks.Deactivate(killswitch.Scope(req.Scope), req.AgentID); err != nil {
			writeAdminError(w, statusForAdmin(err), err)
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
	})

	mux.HandleFunc("GET /api/killswitch/status", func(w http.ResponseWriter, r *http.Request) {
		global, _ := ks.IsActive(killswitch.ScopeGlobal, "")
		writeAdminJSON(w, http.StatusOK, map[string]any{
			"global_active": global,
			"reason":        ks.GetReason(killswitch.ScopeGlobal, ""),
		})
	})

	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Model       string `json:"model"`
			Environment string `json:"environment"`
			RiskLevel   string `json:"risk_level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, err)
			return
		}
		agent, err := reg.Register(registry.Attrs{
			Name:        req.Name,
			Model:       req.Model,
			Environment: registry.Environment(req.Environment),
			RiskLevel:   registry.RiskLevel(req.RiskLevel),
			CreatedBy:   "admin_api",
		})
		if err != nil {
			writeAdminError(w, statusForAdmin(err), err)
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"id": agent.ID, "name": agent.Name, "status": agent.Status})
	})

	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		agents := reg.List(registry.Filters{})
		out := make([]map[string]any, 0, len(agents))
		for _, a := range agents {
			out = append(out, map[string]any{
				"id": a.ID, "name": a.Name, "environment": a.Environment,
				"risk_level": a.RiskLevel, "status": a.Status,
			})
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"agents": out})
	})

	mux.HandleFunc("POST /api/policies/reload", func(w http.ResponseWriter, r *http.Request) {
		if cfg.PolicyEngine.Directory == "" {
			writeAdminJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "count": 0})
			return
		}
		policies, err := policyLoader.LoadDirectory(cfg.PolicyEngine.Directory)
		if err != nil {
			writeAdminError(w, http.StatusInternalServerError, err)
			return
		}
		eng.Load(policies)
		writeAdminJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "count": len(policies)})
	})

	mux.HandleFunc("GET /api/policies", func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, http.StatusOK, map[string]any{"policies": eng.Policies(), "count": eng.PolicyCount()})
	})

	mux.HandleFunc("GET /api/approvals", func(w http.ResponseWriter, r *http.Request) {
		pending := approvals.ListPending()
		out := make([]map[string]any, 0, len(pending))
		for _, req := range pending {
			out = append(out, map[string]any{
				"id": req.ID, "agent_id": req.AgentID, "risk_level": req.RiskLevel,
				"reason": req.Reason, "requested_at": req.RequestedAt,
			})
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"approvals": out})
	})

	mux.HandleFunc("POST /api/approvals/{id}/decide", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var req struct {
			Decision  string `json:"decision"`
			ActorID   string `json:"actor_id"`
			ActorRole string `json:"actor_role"`
			Rationale string `json:"rationale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, err)
			return
		}
		var decided *approval.Request
		var err error
		switch req.Decision {
		case "approve":
			decided, err = approvals.Approve(id, req.ActorID, req.ActorRole, req.Rationale)
		case "reject":
			decided, err = approvals.Reject(id, req.ActorID, req.ActorRole, req.Rationale)
		default:
			writeAdminError(w, http.StatusBadRequest, cperrors.New(cperrors.NotAuthorized, "decision must be approve or reject", nil))
			return
		}
		if err != nil {
			writeAdminError(w, statusForAdmin(err), err)
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{"id": decided.ID, "status": decided.Status})
	})

	mux.HandleFunc("GET /api/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		report := trail.VerifyIntegrity()
		writeAdminJSON(w, http.StatusOK, map[string]any{
			"valid": report.Valid, "total_entries": report.TotalEntries, "issues": report.Issues,
		})
	})

	mux.HandleFunc("GET /api/audit/export", func(w http.ResponseWriter, r *http.Request) {
		bundle := trail.Export(audit.Filters{})
		writeAdminJSON(w, http.StatusOK, bundle)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		overall, _, breakerState := enforcer.Status()
		global, _ := ks.IsActive(killswitch.ScopeGlobal, "")
		writeAdminJSON(w, http.StatusOK, map[string]any{
			"health":           overall,
			"circuit_breaker":  breakerState,
			"kill_switch":      global,
			"policies_loaded":  eng.PolicyCount(),
			"agents":           len(reg.List(registry.Filters{})),
			"pending_approvals": len(approvals.ListPending()),
			"audit_entries":    trail.Len(),
		})
	})

	mux.HandleFunc("POST /api/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		if tokens == nil {
			writeAdminError(w, http.StatusNotImplemented, cperrors.New(cperrors.NotAuthorized, "auth is not enabled on this deployment", nil))
			return
		}
		var req struct {
			Role     string `json:"role"`
			AgentID  string `json:"agent_id"`
			Email    string `json:"email"`
			SourceIP string `json:"source_ip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, err)
			return
		}
		issued, err := tokens.Issue(req.Role, req.AgentID, req.Email, req.SourceIP)
		if err != nil {
			writeAdminError(w, http.StatusInternalServerError, err)
			return
		}
		writeAdminJSON(w, http.StatusOK, map[string]any{
			"id": issued.ID, "secret": issued.Secret, "role": issued.Role,
			"agent_id": issued.AgentID, "expires_at": issued.ExpiresAt,
		})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		overall, _, _ := enforcer.Status()
		status := http.StatusOK
		if overall == failclosed.StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeAdminJSON(w, status, map[string]any{"status": overall})
	})
}

func statusForAdmin(err error) int {
	if cpe, ok := err.(*cperrors.Error); ok {
		return cpe.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func writeAdminJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeAdminError(w http.ResponseWriter, status int, err error) {
	writeAdminJSON(w, status, map[string]any{"error": err.Error()})
}
