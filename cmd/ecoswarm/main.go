package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ecoswarm/internal/agents"
	"ecoswarm/internal/bus"
	"ecoswarm/internal/config"
	"ecoswarm/internal/dao"
	"ecoswarm/internal/generate"
	"ecoswarm/internal/registry"
	"ecoswarm/internal/sink"
	"ecoswarm/internal/swarm"
	"ecoswarm/internal/trust"
	"ecoswarm/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ecoswarm",
	Short: "ecoswarm - regenerative infrastructure agent swarm",
	Long: `ecoswarm orchestrates a swarm of role-typed agents over an in-process
message bus: proposals flow through risk assessment and grant drafting to
execution, a trust graph adjusts agent reputation from experiment outcomes,
and a stake-weighted DAO governs the swarm's goal metrics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// roundCmd drives one real workflow round for a blueprint.
var roundCmd = &cobra.Command{
	Use:   "round [description]",
	Short: "Run one workflow round: propose, assess risk, draft grant, execute",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRound,
}

// daydreamCmd simulates N candidate rounds and prints the winner.
var daydreamCmd = &cobra.Command{
	Use:   "daydream [topic]",
	Short: "Simulate candidate rounds for a topic and pick the best blueprint",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDaydream,
}

// governCmd demonstrates a DAO norm-update vote.
var governCmd = &cobra.Command{
	Use:   "govern",
	Short: "Propose a norm update and run a stake-weighted vote",
	RunE:  runGovern,
}

var (
	roundFinancial  float64
	roundEcological float64
	roundSocial     float64
	roundHighRisk   bool
	iterations      int
	useLLM          bool
	governFinancial float64
)

// swarmEnv bundles the wired subsystems for one command invocation.
type swarmEnv struct {
	coordinator *swarm.Coordinator
	messageBus  *bus.Bus
	governance  *dao.DAO
	agents      []*types.Agent
	cleanup     func()
}

// buildSwarm wires the full stack: sink, bus, registry, trust graph, DAO,
// coordinator, and the five built-in agents.
func buildSwarm(cfg *config.Config) (*swarmEnv, error) {
	var events sink.EventSink = sink.NopSink{}
	cleanup := func() {}
	switch cfg.Sink.Driver {
	case "sqlite":
		s, err := sink.NewSQLiteSink(cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite sink: %w", err)
		}
		events = s
		cleanup = func() { _ = s.Close() }
	case "jsonl":
		s, err := sink.NewJSONLSink(cfg.Sink.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open jsonl sink: %w", err)
		}
		events = s
		cleanup = func() { _ = s.Close() }
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	proposer := types.NewAgent("agent-proposal", types.RoleProposal)
	proposer.Goals = &types.Metrics{Financial: 70, Ecological: 70, Social: 70}
	riskAgent := types.NewAgent("agent-risk", types.RoleRisk)
	grantAgent := types.NewAgent("agent-grant", types.RoleGrant)
	builderAgent := types.NewAgent("agent-builder", types.RoleBuilder)
	esgAgent := types.NewAgent("agent-esg", types.RoleESG)
	all := []*types.Agent{proposer, riskAgent, grantAgent, builderAgent, esgAgent}

	b := bus.New(events, logger.Named("bus"), bus.Config{
		MaxAttempts: cfg.Bus.MaxAttempts,
		BackoffBase: cfg.Bus.BackoffBase,
	})
	reg := registry.NewRoleRegistry(logger.Named("registry"))
	tg := trust.New(all, rng, logger.Named("trust"), trust.Config{
		AuditProbability: cfg.Trust.AuditProbability,
		ShunThreshold:    cfg.Trust.ShunThreshold,
		EscrowPenalty:    cfg.Trust.EscrowPenalty,
	})
	governance := dao.New(all, cfg.DAO.Weights, cfg.DAO.VotingWindow, logger.Named("dao"))

	coordinator := swarm.New(b, reg, tg, logger.Named("swarm"))
	coordinator.SetWeights(swarm.WeightsOverride{
		Financial:  &cfg.Daydream.Financial,
		Ecological: &cfg.Daydream.Ecological,
		Social:     &cfg.Daydream.Social,
		Risk:       &cfg.Daydream.Risk,
		ESGBonus:   &cfg.Daydream.ESGBonus,
		ESGPenalty: &cfg.Daydream.ESGPenalty,
	})

	coordinator.AddMember(types.RoleProposal, proposer, &agents.ProposalExecutor{Agent: proposer, Logger: logger.Named("proposal")})
	coordinator.AddMember(types.RoleRisk, riskAgent, &agents.RiskExecutor{Agent: riskAgent})
	coordinator.AddMember(types.RoleGrant, grantAgent, &agents.GrantExecutor{Agent: grantAgent})
	coordinator.AddMember(types.RoleBuilder, builderAgent, &agents.BuilderExecutor{Agent: builderAgent, Rng: rng})
	coordinator.AddMember(types.RoleESG, esgAgent, &agents.ESGExecutor{Agent: esgAgent})

	if useLLM {
		client := generate.NewGeminiClient(generate.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		coordinator.SetCandidateGenerator(
			generate.NewLLMGenerator(client, generate.NewRandomGenerator(rng), logger.Named("generate")))
	} else {
		coordinator.SetCandidateGenerator(generate.NewRandomGenerator(rng))
	}

	return &swarmEnv{
		coordinator: coordinator,
		messageBus:  b,
		governance:  governance,
		agents:      all,
		cleanup:     cleanup,
	}, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	return cfg, nil
}

func runRound(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildSwarm(cfg)
	if err != nil {
		return err
	}
	defer env.cleanup()

	blueprint := types.Blueprint{
		Description: strings.Join(args, " "),
		Metrics: types.Metrics{
			Financial:  roundFinancial,
			Ecological: roundEcological,
			Social:     roundSocial,
		},
		IsHighRisk: roundHighRisk,
	}
	sensorData := map[string]any{
		"source":   "cli",
		"observed": time.Now().Format(time.RFC3339),
	}

	if err := env.coordinator.RunRound(context.Background(), blueprint, sensorData); err != nil {
		return fmt.Errorf("round failed: %w", err)
	}

	for _, dl := range env.messageBus.DeadLetters() {
		fmt.Fprintf(os.Stderr, "dead letter: role=%s kind=%s err=%s\n", dl.Role, dl.Message.Kind, dl.Error)
	}
	for _, ev := range env.coordinator.Evaluations() {
		if ev.Err != "" {
			fmt.Printf("trust: evaluation skipped (%s)\n", ev.Err)
			continue
		}
		fmt.Printf("trust: agent=%s delta=%+.0f score=%.0f\n",
			ev.Evaluation.AgentID, ev.Evaluation.Delta, ev.Evaluation.ScoreAfter)
	}
	fmt.Println("round complete")
	return nil
}

func runDaydream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildSwarm(cfg)
	if err != nil {
		return err
	}
	defer env.cleanup()

	topic := strings.Join(args, " ")
	best, err := env.coordinator.RunDaydream(context.Background(), topic, iterations)
	if err != nil {
		return fmt.Errorf("daydream failed: %w", err)
	}
	if best == nil {
		fmt.Println("no candidate selected")
		return nil
	}

	fmt.Printf("best candidate: %s\n", best.Experiment.Description)
	fmt.Printf("score: %.2f (risk %.0f, admissible %v)\n", best.Score, best.Assessment.RiskScore, best.Admissible)
	return nil
}

func runGovern(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env, err := buildSwarm(cfg)
	if err != nil {
		return err
	}
	defer env.cleanup()

	p := env.governance.ProposeNormUpdate("agent-proposal",
		&types.MetricsDelta{Financial: &governFinancial},
		fmt.Sprintf("raise the financial goal to %.0f", governFinancial))
	if p == nil {
		return fmt.Errorf("proposal was rejected at creation")
	}

	env.governance.VoteOnProposal(p.ID, "community", true)
	env.governance.VoteOnProposal(p.ID, "experts", true)
	env.governance.VoteOnProposal(p.ID, "funders", false)

	resolved := env.governance.Proposal(p.ID)
	fmt.Printf("proposal %s: %s (for %.1f / against %.1f)\n",
		resolved.ID, resolved.Status, resolved.For, resolved.Against)
	for _, a := range env.agents {
		if a.Goals != nil {
			fmt.Printf("agent %s goals: financial %.0f ecological %.0f social %.0f\n",
				a.ID, a.Goals.Financial, a.Goals.Ecological, a.Goals.Social)
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".ecoswarm/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and environment)")

	roundCmd.Flags().Float64Var(&roundFinancial, "financial", 70, "projected financial score")
	roundCmd.Flags().Float64Var(&roundEcological, "ecological", 70, "projected ecological score")
	roundCmd.Flags().Float64Var(&roundSocial, "social", 70, "projected social score")
	roundCmd.Flags().BoolVar(&roundHighRisk, "high-risk", false, "flag the blueprint as high risk")

	daydreamCmd.Flags().IntVarP(&iterations, "iterations", "n", 4, "number of candidates to simulate")
	daydreamCmd.Flags().BoolVar(&useLLM, "llm", false, "generate candidates with Gemini instead of the random generator")

	governCmd.Flags().Float64Var(&governFinancial, "financial", 80, "proposed financial goal")

	rootCmd.AddCommand(roundCmd)
	rootCmd.AddCommand(daydreamCmd)
	rootCmd.AddCommand(governCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
