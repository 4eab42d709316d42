package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cleoai/cleo/internal/a2a"
	"github.com/cleoai/cleo/internal/config"
	"github.com/cleoai/cleo/internal/contextbus"
	"github.com/cleoai/cleo/internal/doctor"
	"github.com/cleoai/cleo/internal/gateway"
	"github.com/cleoai/cleo/internal/llm"
	"github.com/cleoai/cleo/internal/orchestrator"
	"github.com/cleoai/cleo/internal/taskboard"
	"github.com/cleoai/cleo/internal/tools"
	"github.com/cleoai/cleo/internal/usage"
	"github.com/cleoai/cleo/internal/wsgateway"
)

func main() {
	_ = godotenv.Load(".env")

	switch cmd, rest := shiftArg(os.Args[1:]); cmd {
	case "gateway":
		runGatewayCmd(rest)
	case "doctor":
		runDoctorCmd(rest)
	default:
		runServer()
	}
}

func shiftArg(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	return args[0], args[1:]
}

func runGatewayCmd(args []string) {
	sub, _ := shiftArg(args)
	switch sub {
	case "status":
		resp, err := http.Get("http://127.0.0.1:" + gatewayPort() + "/health")
		if err != nil {
			fmt.Fprintf(os.Stderr, "gateway unreachable: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		fmt.Printf("%+v\n", out)
	case "stop", "restart", "install", "uninstall":
		fmt.Printf("cleo gateway %s: process management is left to the host's service "+
			"manager (systemd unit, launchd plist, etc); run `cleo gateway start` in the "+
			"foreground under one.\n", sub)
	case "start", "":
		runServer()
	default:
		fmt.Fprintf(os.Stderr, "unknown gateway subcommand %q\n", sub)
		os.Exit(1)
	}
}

func runDoctorCmd(args []string) {
	asJSON := false
	deep := false
	for _, a := range args {
		switch a {
		case "--json":
			asJSON = true
		case "--deep":
			deep = true
		case "--repair", "--export":
			// collaborator-level flags; the core health-check set has no
			// repair or export action of its own (spec §6.4).
		}
	}

	workDir := workspaceDir()
	cfg, err := config.Load(filepath.Join(workDir, "config", "agents.yaml"))
	var ids []string
	if err == nil {
		for _, a := range cfg.Agents {
			ids = append(ids, a.ID)
		}
	}

	report := doctor.Run(doctor.Options{WorkDir: workDir, AgentIDs: ids, Deep: deep})
	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(report)
	} else {
		fmt.Printf("healthy: %v\n", report.Healthy)
		for _, c := range report.Checks {
			status := "ok"
			if !c.OK {
				status = "FAIL"
			}
			fmt.Printf("  [%s] %s %s\n", status, c.Name, c.Detail)
		}
	}
	if !report.Healthy {
		os.Exit(1)
	}
}

func workspaceDir() string {
	if v := os.Getenv("CLEO_WORKSPACE"); v != "" {
		return v
	}
	return "workspace"
}

func gatewayPort() string {
	if v := os.Getenv("CLEO_GATEWAY_PORT"); v != "" {
		return v
	}
	return "19789"
}

// runServer wires every collaborator into one process: TaskBoard,
// ContextBus, UsageTracker, the agent worker pool, the A2A inbound/outbound
// subsystem, and the HTTP/WebSocket gateways (spec §4, §6.3).
func runServer() {
	cacheDir := filepath.Join(workspaceDir())
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		log.Fatalf("cleo: create workspace dir: %v", err)
	}
	if f, err := os.OpenFile(filepath.Join(cacheDir, "debug.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		log.SetOutput(f)
		defer f.Close()
	}

	board, err := taskboard.New(filepath.Join(cacheDir, ".task_board.json"))
	if err != nil {
		log.Fatalf("cleo: open task board: %v", err)
	}
	bus := contextbus.New(filepath.Join(cacheDir, ".context_bus.json"))

	budget, err := config.LoadBudget(filepath.Join(cacheDir, "config", "budget.json"))
	if err != nil {
		log.Printf("[cleo] budget config: %v (continuing with budget disabled)", err)
	}
	tracker := usage.New(filepath.Join(cacheDir, "memory"), budget)

	cfg, err := config.Load(filepath.Join(cacheDir, "config", "agents.yaml"))
	if err != nil {
		log.Fatalf("cleo: load config/agents.yaml: %v", err)
	}

	registry := a2a.NewRegistry(remotesFromConfig(cfg), cfg.A2A.Client.Registries)
	filter := a2a.NewSecurityFilter()
	var a2aClient *a2a.Client
	if cfg.A2A.Client.Enabled {
		a2aClient = a2a.NewClient(registry, filter, cacheDir)
	}

	agents := buildAgents(cfg, bus, a2aClient, cacheDir)
	orch := orchestrator.New(board, bus, tracker, cacheDir, agents)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Printf("[cleo] shutting down")
		cancel()
	}()

	orch.LaunchAll(ctx)

	token := os.Getenv("CLEO_GATEWAY_TOKEN")
	gw := gateway.New(orch, cfg, cacheDir, token)
	if cfg.A2A.Server.Enabled {
		card := a2a.AgentCard{Name: "cleo", Description: "Cleo multi-agent orchestration runtime", URL: "http://" + os.Getenv("CLEO_HOSTNAME") + gatewayPort()}
		bridge := a2a.NewBridge(board, cacheDir)
		gw.A2A = a2a.NewServer(bridge, card)
	}
	httpAddr := ":" + gatewayPort()
	httpSrv := &http.Server{Addr: httpAddr, Handler: gw.Router()}
	go func() {
		log.Printf("[cleo] http gateway listening on %s", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[cleo] http gateway: %v", err)
		}
	}()

	var wsSrv *http.Server
	if os.Getenv("CLEO_DISABLE_WS") == "" {
		wsPort := wsPortFrom(gatewayPort())
		wsgw := wsgateway.New(orch, cacheDir, token)
		wsSrv = &http.Server{Addr: ":" + wsPort, Handler: http.HandlerFunc(wsgw.ServeHTTP)}
		stop := make(chan struct{})
		go wsgw.Run(stop)
		go func() {
			log.Printf("[cleo] ws gateway listening on :%s", wsPort)
			if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[cleo] ws gateway: %v", err)
			}
		}()
		defer close(stop)
	}

	<-ctx.Done()
	_ = httpSrv.Shutdown(context.Background())
	if wsSrv != nil {
		_ = wsSrv.Shutdown(context.Background())
	}
}

func wsPortFrom(httpPort string) string {
	n, err := strconv.Atoi(httpPort)
	if err != nil {
		return "19790"
	}
	return strconv.Itoa(n + 1)
}

func remotesFromConfig(cfg *config.Config) []a2a.RemoteAgent {
	out := make([]a2a.RemoteAgent, 0, len(cfg.A2A.Client.Remotes))
	for _, r := range cfg.A2A.Client.Remotes {
		out = append(out, a2a.RemoteAgent{
			URL: r.URL, Name: r.Name, Description: r.Description,
			Skills: r.Skills, TrustLevel: r.TrustLevel,
		})
	}
	return out
}

func buildAgents(cfg *config.Config, bus *contextbus.Bus, a2aClient *a2a.Client, workDir string) []orchestrator.AgentConfig {
	agents := make([]orchestrator.AgentConfig, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		executor := &tools.Executor{WorkDir: workDir, Bus: bus, A2AClient: a2aClient}
		agents = append(agents, orchestrator.AgentConfig{
			ID:             a.ID,
			Role:           a.Role,
			Model:          a.Model,
			Skills:         a.Skills,
			ToolsProfile:   a.Tools.Profile,
			Allow:          a.Tools.Allow,
			Deny:           a.Tools.Deny,
			FallbackModels: a.FallbackModels,
			Reviewer:       a.Role == "reviewer" || a.Role == "auditor",
			Reputation:     a.Reputation,
			LLM:            llm.NewTier(tierPrefix(a.ID)),
			Executor:       executor,
		})
	}
	return agents
}

func tierPrefix(agentID string) string {
	out := make([]byte, 0, len(agentID))
	for _, c := range agentID {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, byte(c))
	}
	return string(out)
}
