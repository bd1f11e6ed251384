package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/gather"
	"github.com/sells-group/hydra/internal/mission"
	"github.com/sells-group/hydra/internal/model"
	"github.com/sells-group/hydra/internal/search"
	"github.com/sells-group/hydra/internal/verify"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

var (
	searchPlatform string
	searchKind     string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:         "search <query>",
	Short:       "Run the gather cascade for a query and print the candidates",
	Args:        cobra.ExactArgs(1),
	Annotations: withMode("search"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initSearch(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		kind := mission.KindFor(searchPlatform)
		if searchKind != "" {
			kind = search.ParseKind(searchKind)
		}
		limit := searchLimit
		if limit <= 0 {
			limit = cfg.Mission.MaxCandidates
		}

		res, err := env.Gatherer.Gather(ctx, gather.Request{
			Query:    args[0],
			Kind:     kind,
			Platform: searchPlatform,
			Limit:    limit,
		})
		if err != nil {
			return fmt.Errorf("gather: %w", err)
		}
		zap.L().Info("search complete", zap.Int("candidates", len(res.Candidates)), zap.String("provider", res.API.Provider))
		return printJSON(cmd, res)
	},
}

var verifyCmd = &cobra.Command{
	Use:         "verify <email>",
	Short:       "Run the staged email verifier",
	Args:        cobra.ExactArgs(1),
	Annotations: withMode("verify"),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := verify.New(cfg.Verify).Verify(cmd.Context(), args[0])
		return printJSON(cmd, res)
	},
}

var (
	enqueueOrg        string
	enqueueCategory   string
	enqueuePlatform   string
	enqueueCompliance string
)

func parseCompliance(s string) (model.ComplianceMode, error) {
	switch m := model.ComplianceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", model.ComplianceStandard:
		return model.ComplianceStandard, nil
	case model.ComplianceGDPR, model.ComplianceCCPA:
		return m, nil
	default:
		return "", fmt.Errorf("unknown compliance mode %q (want standard, gdpr or ccpa)", s)
	}
}

var enqueueCmd = &cobra.Command{
	Use:         "enqueue <query>",
	Short:       "Create a queued mission",
	Args:        cobra.ExactArgs(1),
	Annotations: withMode("enqueue"),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(args[0])
		if query == "" {
			return fmt.Errorf("query is required")
		}
		compliance, err := parseCompliance(enqueueCompliance)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := st.CreateMission(ctx, model.Mission{
			Query:          query,
			Platform:       enqueuePlatform,
			ComplianceMode: compliance,
			OrgID:          enqueueOrg,
			Category:       enqueueCategory,
		})
		if err != nil {
			return fmt.Errorf("create mission: %w", err)
		}
		zap.L().Info("mission enqueued", zap.String("mission_id", m.ID))
		return printJSON(cmd, m)
	},
}

var migrateCmd = &cobra.Command{
	Use:         "migrate",
	Short:       "Create or update the database schema",
	Annotations: withMode("migrate"),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return st.Close()
	},
}

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "List live workers",
	Annotations: withMode("status"),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workers, err := st.ListWorkers(ctx)
		if err != nil {
			return fmt.Errorf("list workers: %w", err)
		}
		return printJSON(cmd, workers)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchPlatform, "platform", "", "target platform (linkedin, maps, ...)")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "search kind: web, business or person (default from platform)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max candidates (default mission.max_candidates)")

	enqueueCmd.Flags().StringVar(&enqueueOrg, "org", "", "organization id for delivery dedup")
	enqueueCmd.Flags().StringVar(&enqueueCategory, "category", "", "delivery category")
	enqueueCmd.Flags().StringVar(&enqueuePlatform, "platform", "", "target platform")
	enqueueCmd.Flags().StringVar(&enqueueCompliance, "compliance", "standard", "compliance mode: standard, gdpr or ccpa")

	rootCmd.AddCommand(searchCmd, verifyCmd, enqueueCmd, migrateCmd, statusCmd)
}
