package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rohan/waypoint/internal/agent"
	"github.com/rohan/waypoint/internal/browser"
	"github.com/rohan/waypoint/internal/extract"
	"github.com/rohan/waypoint/internal/gateway"
	"github.com/rohan/waypoint/internal/governance"
	"github.com/rohan/waypoint/internal/monitor"
	"github.com/rohan/waypoint/internal/observability"
	"github.com/rohan/waypoint/internal/schema"
	"github.com/rohan/waypoint/internal/store"
	"github.com/rohan/waypoint/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: waypoint \"<task>\"")
	}
	task := strings.Join(os.Args[1:], " ")

	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the status line's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.yaml")

	history, err := store.NewRunStore(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer history.Close()

	prompts := agent.NewPromptManager(cfg.PromptsDir)

	gov := governance.NewDefaultPolicyEngine()
	// Default safety rules: keep the navigator off local resources and
	// away from destructive query fragments.
	_ = gov.DenyArguments(`file://`)
	_ = gov.DenyArguments(`(?i)delete[_\s]account`)

	events := observability.NewLogger()

	if tgCfg, ok := cfg.Gateway("telegram"); ok {
		tg, err := gateway.NewTelegramNotifier(tgCfg.Token, tgCfg.ChatID)
		if err != nil {
			log.Printf("Warning: telegram notifier unavailable: %v", err)
		} else {
			events.Subscribe(tg)
			defer tg.Stop()
		}
	}
	if dcCfg, ok := cfg.Gateway("discord"); ok {
		dc, err := gateway.NewDiscordNotifier(dcCfg.Token, dcCfg.ChatID)
		if err != nil {
			log.Printf("Warning: discord notifier unavailable: %v", err)
		} else {
			events.Subscribe(dc)
			defer dc.Stop()
		}
	}

	mon := monitor.New(extract.New())

	planner, err := buildInvoker(cfg, schema.RolePlanner, cfg.Roles.Planner, mon)
	if err != nil {
		log.Fatal(err)
	}
	navigator, err := buildInvoker(cfg, schema.RoleNavigator, cfg.Roles.Navigator, mon)
	if err != nil {
		log.Fatal(err)
	}

	env := browser.New(true)

	orchestrator := agent.NewOrchestrator(planner, navigator, env, gov, events, prompts,
		history, cfg.Memory.RetainHistory, cfg.Agent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		orchestrator.Cancel()
	}()

	// Live status line (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				observability.PrintLiveStatus()
			}
		}
	}()

	run, err := orchestrator.Run(ctx, task)
	if err != nil {
		log.Fatal(err)
	}

	counters := mon.CounterSnapshot()
	log.Printf("run %s finished: %s (%s) [pipeline: %d total, %d valid, %d corrected, %d failed]",
		run.ID, run.Status, run.Result, counters.Total, counters.Valid, counters.Corrected, counters.Failed)

	observability.CleanupTerminal()
}

func buildInvoker(cfg *config.Config, role schema.Role, rc config.RoleConfig, mon *monitor.Monitor) (*agent.Invoker, error) {
	pCfg, ok := cfg.Provider(rc.Provider)
	if !ok {
		log.Fatalf("provider %q for role %s is not enabled in config", rc.Provider, role)
	}

	var model llms.Model
	var err error
	switch rc.Provider {
	case "openai", "openrouter", "deepseek":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(rc.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		log.Fatalf("provider %s not yet implemented in main", rc.Provider)
	}
	if err != nil {
		return nil, err
	}

	return agent.NewInvoker(role, model, rc.Provider, pCfg.StructuredOutput,
		cfg.IsUnreliable(rc.Provider), mon), nil
}
