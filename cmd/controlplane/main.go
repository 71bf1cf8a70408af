package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/controlplane/aicp/internal/approval"
	"github.com/controlplane/aicp/internal/audit"
	"github.com/controlplane/aicp/internal/auth"
	"github.com/controlplane/aicp/internal/clockid"
	"github.com/controlplane/aicp/internal/config"
	"github.com/controlplane/aicp/internal/executor"
	"github.com/controlplane/aicp/internal/failclosed"
	"github.com/controlplane/aicp/internal/ingress"
	"github.com/controlplane/aicp/internal/killswitch"
	"github.com/controlplane/aicp/internal/modelclient"
	"github.com/controlplane/aicp/internal/observability"
	"github.com/controlplane/aicp/internal/pluginbus"
	"github.com/controlplane/aicp/internal/policy"
	"github.com/controlplane/aicp/internal/registry"
	"github.com/controlplane/aicp/internal/sanitize"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "controlplane",
		Short: "In-path governance gateway for LLM and agent calls",
		Long:  "controlplane — kill switch, policy, approval and audit for every model call.\nEvery request passes through before it reaches the model.",
	}

	var configFile string
	var port int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the control plane gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: controlplane.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 6777)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter controlplane.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── status / version ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running gateway's health and counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("controlplane %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	// ─── policy ───
	policyCmd := &cobra.Command{Use: "policy", Short: "Policy management commands"}

	policyValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the policy directory without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(configFile)
		},
	}
	policyValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	policyReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-reload the policy directory without restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/policies/reload", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to controlplane: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Policies reloaded")
			} else {
				fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}
	policyCmd.AddCommand(policyValidateCmd, policyReloadCmd)

	// ─── killswitch ───
	killswitchCmd := &cobra.Command{Use: "killswitch", Short: "Emergency stop commands"}

	var ksAgentID, ksReason, ksActor string
	killswitchActivateCmd := &cobra.Command{
		Use:   "activate",
		Short: "Trip the kill switch (global, or --agent for one agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "global"
			if ksAgentID != "" {
				scope = "agent"
			}
			p := resolvePort(port)
			body, _ := json.Marshal(map[string]string{"scope": scope, "agent_id": ksAgentID, "reason": ksReason, "activated_by": ksActor})
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/killswitch/activate", p), "application/json", strings.NewReader(string(body)))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Printf("✓ Kill switch activated (%s)\n", scope)
			} else {
				fmt.Printf("✗ Activation failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}
	killswitchActivateCmd.Flags().StringVar(&ksAgentID, "agent", "", "Agent id to scope the trip to (default: global)")
	killswitchActivateCmd.Flags().StringVar(&ksReason, "reason", "manual activation", "Reason recorded in the audit trail")
	killswitchActivateCmd.Flags().StringVar(&ksActor, "actor", "cli", "Identity recorded as activated_by")

	killswitchDeactivateCmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Clear the kill switch (global, or --agent for one agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "global"
			if ksAgentID != "" {
				scope = "agent"
			}
			p := resolvePort(port)
			body, _ := json.Marshal(map[string]string{"scope": scope, "agent_id": ksAgentID})
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/killswitch/deactivate", p), "application/json", strings.NewReader(string(body)))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Kill switch deactivated")
			} else {
				fmt.Printf("✗ Deactivation failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}
	killswitchDeactivateCmd.Flags().StringVar(&ksAgentID, "agent", "", "Agent id to scope the clear to (default: global)")

	killswitchStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current kill-switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/killswitch/status", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			_ = decodeJSON(resp, &result)
			fmt.Printf("Global active: %v\n", result["global_active"])
			return nil
		},
	}
	killswitchCmd.AddCommand(killswitchActivateCmd, killswitchDeactivateCmd, killswitchStatusCmd)

	// ─── agent ───
	agentCmd := &cobra.Command{Use: "agent", Short: "Agent registry commands"}

	var agentModel, agentEnv, agentRisk string
	agentRegisterCmd := &cobra.Command{
		Use:   "register [name]",
		Short: "Register a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			body, _ := json.Marshal(map[string]string{"name": args[0], "model": agentModel, "environment": agentEnv, "risk_level": agentRisk})
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/agents", p), "application/json", strings.NewReader(string(body)))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if resp.StatusCode != 200 {
				fmt.Printf("✗ Registration failed (HTTP %d): %v\n", resp.StatusCode, result["error"])
				return nil
			}
			fmt.Printf("✓ Registered agent %v\n", result["id"])
			return nil
		},
	}
	agentRegisterCmd.Flags().StringVar(&agentModel, "model", "", "Underlying model identifier")
	agentRegisterCmd.Flags().StringVar(&agentEnv, "env", "dev", "Deployment environment (dev|staging|prod|test)")
	agentRegisterCmd.Flags().StringVar(&agentRisk, "risk", "low", "Risk level (low|medium|high|critical)")

	agentListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/agents", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			agents, _ := result["agents"].([]interface{})
			if len(agents) == 0 {
				fmt.Println("No agents registered.")
				return nil
			}
			fmt.Printf("%-20s %-20s %-10s %-10s %s\n", "ID", "NAME", "ENV", "RISK", "STATUS")
			fmt.Println(strings.Repeat("─", 75))
			for _, a := range agents {
				m := a.(map[string]interface{})
				fmt.Printf("%-20v %-20v %-10v %-10v %v\n", m["id"], m["name"], m["environment"], m["risk_level"], m["status"])
			}
			return nil
		},
	}
	agentCmd.AddCommand(agentRegisterCmd, agentListCmd)

	// ─── approval ───
	approvalCmd := &cobra.Command{Use: "approval", Short: "Human approval queue commands"}

	approvalListCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/approvals", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			reqs, _ := result["approvals"].([]interface{})
			if len(reqs) == 0 {
				fmt.Println("No pending approvals.")
				return nil
			}
			fmt.Printf("%-20s %-15s %-10s %s\n", "ID", "AGENT", "RISK", "REASON")
			fmt.Println(strings.Repeat("─", 75))
			for _, r := range reqs {
				m := r.(map[string]interface{})
				fmt.Printf("%-20v %-15v %-10v %v\n", m["id"], m["agent_id"], m["risk_level"], m["reason"])
			}
			return nil
		},
	}

	var decideActor, decideRole, decideRationale string
	approvalDecideCmd := &cobra.Command{
		Use:   "decide [approval-id] [approve|reject]",
		Short: "Approve or reject a pending request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			body, _ := json.Marshal(map[string]string{"decision": args[1], "actor_id": decideActor, "actor_role": decideRole, "rationale": decideRationale})
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/approvals/%s/decide", p, args[0]), "application/json", strings.NewReader(string(body)))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Decision recorded")
			} else {
				var result map[string]interface{}
				_ = decodeJSON(resp, &result)
				fmt.Printf("✗ Decision failed (HTTP %d): %v\n", resp.StatusCode, result["error"])
			}
			return nil
		},
	}
	approvalDecideCmd.Flags().StringVar(&decideActor, "actor", "cli", "Deciding actor id")
	approvalDecideCmd.Flags().StringVar(&decideRole, "role", "approver", "Deciding actor role")
	approvalDecideCmd.Flags().StringVar(&decideRationale, "rationale", "", "Rationale for the decision (required by some workflows)")
	approvalCmd.AddCommand(approvalListCmd, approvalDecideCmd)

	// ─── audit ───
	auditCmd := &cobra.Command{Use: "audit", Short: "Audit trail commands"}

	auditVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain's integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/audit/verify", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if valid, _ := result["valid"].(bool); valid {
				fmt.Printf("✓ Chain intact (%v entries)\n", result["total_entries"])
			} else {
				fmt.Printf("✗ Chain integrity violated: %v\n", result["issues"])
			}
			return nil
		},
	}

	auditExportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail as a signed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/audit/export", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(resp.Body); err != nil {
				return err
			}
			fmt.Println(buf.String())
			return nil
		},
	}
	auditCmd.AddCommand(auditVerifyCmd, auditExportCmd)

	authCmd := &cobra.Command{Use: "auth", Short: "Development token issuance (see auth.enabled)"}

	var tokenRole, tokenAgent, tokenEmail string
	authIssueTokenCmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			body, _ := json.Marshal(map[string]string{"role": tokenRole, "agent_id": tokenAgent, "email": tokenEmail})
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/auth/tokens", p), "application/json", strings.NewReader(string(body)))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			if resp.StatusCode != 200 {
				fmt.Printf("✗ Token issuance failed (HTTP %d): %v\n", resp.StatusCode, result["error"])
				return nil
			}
			fmt.Printf("✓ Issued token %v for role %q (expires %v)\n  secret: %v\n", result["id"], tokenRole, result["expires_at"], result["secret"])
			return nil
		},
	}
	authIssueTokenCmd.Flags().StringVar(&tokenRole, "role", "", "Actor role bound to the token (required)")
	authIssueTokenCmd.Flags().StringVar(&tokenAgent, "agent", "", "Optional agent id to bind the token to")
	authIssueTokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Optional actor email")
	authCmd.AddCommand(authIssueTokenCmd)

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, policyCmd, killswitchCmd, agentCmd, approvalCmd, auditCmd, authCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := cfgLoader.Get()

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	if cfg.Audit.Secret == "" {
		return fmt.Errorf("audit.secret is required; refusing to start unsigned")
	}

	clock := clockid.New(clockid.SystemClock{})

	ks := killswitch.New(logger)
	reg := registry.New(clock).WithLogger(logger)

	trail, err := audit.New([]byte(cfg.Audit.Secret), clock, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	if cfg.Storage.Driver == "sqlite" {
		auditStore, err := audit.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit storage: %w", err)
		}
		if trail, err = trail.WithStore(auditStore); err != nil {
			return fmt.Errorf("failed to attach audit storage: %w", err)
		}

		registryStore, err := registry.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open registry storage: %w", err)
		}
		if reg, err = reg.WithStore(registryStore); err != nil {
			return fmt.Errorf("failed to attach registry storage: %w", err)
		}
	}

	policyEngine := policy.NewEngine(logger)
	policyLoader := policy.NewLoader(logger)
	if cfg.PolicyEngine.Directory != "" {
		policies, err := policyLoader.LoadDirectory(cfg.PolicyEngine.Directory)
		if err != nil {
			logger.Warn("failed to load policy directory", "dir", cfg.PolicyEngine.Directory, "error", err)
		} else {
			policyEngine.Load(policies)
		}
		if err := policyLoader.Watch(cfg.PolicyEngine.Directory, func(dir string) {
			policies, err := policyLoader.LoadDirectory(dir)
			if err != nil {
				logger.Error("policy hot-reload failed", "error", err)
				return
			}
			policyEngine.Load(policies)
			logger.Info("policies hot-reloaded", "count", len(policies))
		}); err != nil {
			logger.Warn("failed to watch policy directory", "error", err)
		}
		defer policyLoader.StopWatch()
	}

	approvals := approval.NewManager(clock, trail, logger)
	approvals.RegisterWorkflow(approval.Workflow{
		ID: "standard", Name: "Standard approval", AcceptedRoles: []string{"approver", "admin"},
		TimeoutSeconds: 3600, TimeoutAction: approval.TimeoutReject,
	})
	approvals.RegisterWorkflow(approval.Workflow{
		ID: "high-risk", Name: "High-risk approval", AcceptedRoles: []string{"senior_approver", "admin"},
		TimeoutSeconds: 1800, TimeoutAction: approval.TimeoutEscalate, RequireRationale: true,
		EscalationRules: []approval.EscalationRule{
			{ID: "to-admin", TimeoutSeconds: 900, TargetRoles: []string{"admin"}, MaxAttempts: 1},
		},
	})
	approvals.RegisterWorkflow(approval.Workflow{
		ID: "critical", Name: "Critical approval", AcceptedRoles: []string{"admin"},
		TimeoutSeconds: 900, TimeoutAction: approval.TimeoutReject, RequireRationale: true,
	})

	go func() {
		interval := time.Duration(cfg.Approval.SweepIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for now := range ticker.C {
			approvals.TimeoutSweep(now)
		}
	}()

	plugins := pluginbus.New(logger)
	if cfg.Sanitize.Enabled {
		scanner := sanitize.NewScanner(sanitize.Config{Enabled: true, Mode: cfg.Sanitize.Mode}, logger)
		if err := plugins.Register(sanitize.NewHook("prompt-injection-scanner", scanner)); err != nil {
			logger.Warn("failed to register sanitize hook", "error", err)
		}
	}

	breakerCfg := failclosed.DefaultBreakerConfig("model-invoke")
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
	}
	if cfg.CircuitBreaker.SuccessThreshold > 0 {
		breakerCfg.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
	}
	if cfg.CircuitBreaker.TimeoutSeconds > 0 {
		breakerCfg.Timeout = time.Duration(cfg.CircuitBreaker.TimeoutSeconds) * time.Second
	}
	enforcer := failclosed.NewEnforcer(breakerCfg, logger)
	enforcer.SetEnforceMode(cfg.EnforceMode)
	enforcer.RegisterProbe("policy_engine", failclosed.PolicyEngineProbe(func() bool { return true }))
	enforcer.RegisterProbe("audit_trail", failclosed.AuditTrailProbe(func() error {
		if cfg.Audit.Secret == "" {
			return fmt.Errorf("no signing secret configured")
		}
		return nil
	}))
	enforcer.RegisterProbe("kill_switch", failclosed.KillSwitchProbe(func() error { return nil }))

	var invoker modelclient.Invoker
	if cfg.Model.APIKey != "" {
		invoker = modelclient.NewAnthropicInvoker(cfg.Model.APIKey, cfg.Model.MaxTokens)
	} else {
		invoker = modelclient.NoopInvoker{}
	}

	hub := observability.NewHub(logger, cfg.Server.CORS)
	obsStore := observability.New(clock, 10000, hub, logger)

	exec := executor.New(clock, ks, reg, policyEngine, plugins, approvals, trail, enforcer, invoker, logger,
		executor.WithEventRecorder(obsStore))

	ingressHandler := ingress.New(exec, logger)
	var tokens *auth.TokenManager
	if cfg.Auth.Enabled {
		tokens = auth.NewTokenManager(cfg.Auth.TokenTTL, logger)
		ingressHandler = ingressHandler.WithValidator(tokens)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/requests", ingressHandler.Routes())
	registerAdminRoutes(mux, ks, reg, policyEngine, policyLoader, approvals, trail, enforcer, tokens, cfg)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", hub.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Println()
	fmt.Println("  controlplane " + version)
	fmt.Printf("  → HTTP:     http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  → Submit:   http://localhost:%d/v1/requests\n", cfg.Server.Port)
	fmt.Printf("  → Events:   ws://localhost:%d/ws\n", cfg.Server.Port)
	fmt.Printf("  → Metrics:  http://localhost:%d/metrics\n", cfg.Server.Port)
	fmt.Printf("  → Storage:  %s\n", cfg.Storage.Driver)
	fmt.Printf("  → Policies: %d loaded\n", policyEngine.PolicyCount())
	fmt.Printf("  → Enforce:  %v\n", cfg.EnforceMode)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		hub.Close()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = httpServer.Shutdown(shutCtx)
	}()

	logger.Info("starting HTTP server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runInit() error {
	configPath := "controlplane.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("%s already exists, skipping\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}
	fmt.Printf("✓ Wrote %s\n", configPath)
	fmt.Println("✓ Set audit.secret before running `controlplane start`")
	return nil
}

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", p))
	if err != nil {
		fmt.Printf("controlplane is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var status map[string]interface{}
	if err := decodeJSON(resp, &status); err != nil {
		return err
	}
	fmt.Println("controlplane status")
	fmt.Println("───────────────────")
	for k, v := range status {
		fmt.Printf("  %-20s %v\n", k+":", v)
	}
	return nil
}

func runPolicyValidate(configFile string) error {
	if configFile == "" {
		configFile = findConfigFile()
	}
	cfgLoader := config.NewLoader()
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	cfg := cfgLoader.Get()
	if cfg.PolicyEngine.Directory == "" {
		fmt.Println("No policy_engine.directory configured; policy set is empty.")
		return nil
	}
	loader := policy.NewLoader(nil)
	policies, err := loader.LoadDirectory(cfg.PolicyEngine.Directory)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return err
	}
	fmt.Printf("✓ %d polic%s loaded from %s\n", len(policies), plural(len(policies)), cfg.PolicyEngine.Directory)
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func findConfigFile() string {
	candidates := []string{
		"controlplane.yaml",
		"controlplane.yml",
	}
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, home+"/.config/controlplane/config.yaml")
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port != 0 {
		return port
	}
	return 6777
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
