package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/calendar"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/conversation"
	"github.com/harunnryd/brain/internal/digest"
	"github.com/harunnryd/brain/internal/goal"
	"github.com/harunnryd/brain/internal/intent"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/mode"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/orchestrator"
	"github.com/harunnryd/brain/internal/performance"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/scorer"
	"github.com/harunnryd/brain/internal/situation"
	"github.com/harunnryd/brain/internal/skill"

	"github.com/spf13/cobra"
)

// app is the fully wired service graph behind every command.
type app struct {
	cfg      *config.Config
	repos    *repository.Repositories
	platform *platform.Memory
	registry *agent.Registry
	modes    *mode.Controller
	goals    *goal.Planner
	advancer *goal.Advancer
	tracker  *performance.Tracker
	convs    *conversation.Manager
	calendar *calendar.Service
	digest   *digest.Service
	orch     *orchestrator.Orchestrator
}

// newApp opens the store and builds the services over the configured
// model providers.
func newApp(cfg *config.Config) (*app, error) {
	router, err := model.NewModelRouter(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to init model router: %w", err)
	}
	repos, err := repository.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a, err := buildApp(cfg, repos, model.NewCompleter(router))
	if err != nil {
		_ = repos.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(cfg *config.Config, repos *repository.Repositories, completer *model.Completer) (*app, error) {
	pf := platform.NewMemory()
	if cfg.Platform.Fixture != "" {
		if err := pf.LoadFixtureFile(cfg.Platform.Fixture); err != nil {
			return nil, err
		}
	}
	sk := skill.Marketing()

	var index *knowledge.VectorIndex
	if cfg.Knowledge.VectorEnabled {
		var err error
		index, err = knowledge.NewVectorIndex(cfg.Knowledge.VectorPath, completer)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
	}
	kb := knowledge.NewService(repos, completer, index, cfg.Knowledge)

	planOpts, err := plan.OptionsFromConfig(cfg.Brain)
	if err != nil {
		return nil, err
	}
	registry, err := agent.NewDefaultRegistry(agent.Deps{
		Generator: completer,
		Knowledge: kb,
		Platform:  pf,
		Engine:    plan.NewEngine(planOpts, plan.NewRecorder(repos)),
		Repos:     repos,
		Skill:     sk,
	})
	if err != nil {
		return nil, err
	}

	modeOpts, err := mode.OptionsFromConfig(cfg.Brain)
	if err != nil {
		return nil, err
	}
	modes := mode.NewController(repos, registry, modeOpts)
	planner := goal.NewPlanner(completer, repos, kb, pf, sk, goal.OptionsFromConfig(cfg.Brain))
	advancer := goal.NewAdvancer(planner, registry, modes, cfg.Scheduler.MaxGoalsPerCycle)
	tracker := performance.NewTracker(repos, completer, kb, pf, performance.OptionsFromConfig(cfg.Performance))
	convs := conversation.NewManager(repos, registry, cfg.Brain.HistoryLimit)
	cal := calendar.NewService(completer, repos, pf)

	orch := orchestrator.New(orchestrator.Deps{
		Completer:     completer,
		Repos:         repos,
		Conversations: convs,
		Classifier:    intent.NewClassifier(completer, registry, sk),
		Registry:      registry,
		Modes:         modes,
		Goals:         planner,
		Advancer:      advancer,
		Knowledge:     kb,
		Situation:     situation.NewAnalyzer(completer, repos, pf, planner, tracker, kb, sk).WithCalendar(cal),
		Scorer:        scorer.New(repos, pf),
		Platform:      pf,
		Skill:         sk,
	}, orchestrator.OptionsFromConfig(cfg))

	return &app{
		cfg:      cfg,
		repos:    repos,
		platform: pf,
		registry: registry,
		modes:    modes,
		goals:    planner,
		advancer: advancer,
		tracker:  tracker,
		convs:    convs,
		calendar: cal,
		digest:   digest.NewService(completer, repos, pf),
		orch:     orch,
	}, nil
}

func (a *app) Close() {
	if err := a.repos.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}

// appFactory is swapped by tests for an app over fake providers.
var appFactory = newApp

// withApp runs fn against a freshly built app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, userID string) error) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	a, err := appFactory(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a, workspaceUser(cmd))
}
