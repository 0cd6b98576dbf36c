package cmd

import (
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/classops/gradefetch/application"
	"github.com/classops/gradefetch/config"
	"github.com/classops/gradefetch/domain"
	githubClient "github.com/classops/gradefetch/infrastructure/github"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	mapPath      string
	suite        string
	dataRoot     string
	renameTo     string
	scope        string
	keepOriginal bool
	forceRename  bool
	respectLimit bool
	flatten      bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and stage all submissions from a roster",
	Long: `Process a roster file (a JSON list of {id, url} or an object with a
"students" list and an optional "limit" cutoff) and stage every student's
C sources under <data-root>/<suite>/<student-id>/.

Per-student failures are recorded in each student's sidecar metadata and
never abort the run.`,
	RunE: runFetch,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	fetchCmd.Flags().StringVar(&mapPath, "map", "", "Path to the roster JSON file (required)")
	fetchCmd.Flags().StringVar(&suite, "suite", "", "Suite name, staged under <data-root>/<suite>/ (required)")
	fetchCmd.Flags().StringVar(&dataRoot, "data-root", "", "Root staging directory (default from config, else \"data\")")
	fetchCmd.Flags().StringVar(&renameTo, "rename-to", "", "Conventional entry-point name at the student root (default \"main.c\")")
	fetchCmd.Flags().StringVar(&scope, "scope", "", "Collection scope for file submissions: repo or dir")
	fetchCmd.Flags().BoolVar(&keepOriginal, "keep-original", false, "Also keep the representative file under its original name")
	fetchCmd.Flags().BoolVar(&forceRename, "force-rename", false, "Duplicate the representative even when it already is a .c file")
	fetchCmd.Flags().BoolVar(&respectLimit, "respect-limit", false, "Honor the roster's cutoff timestamp")
	fetchCmd.Flags().BoolVar(&flatten, "flatten", false, "Flatten staged files to the student root instead of preserving subdirectories")
	_ = fetchCmd.MarkFlagRequired("map")
	_ = fetchCmd.MarkFlagRequired("suite")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if cfg.Scope != config.ScopeRepo && cfg.Scope != config.ScopeDir {
		return fmt.Errorf("scope must be %q or %q, got %q", config.ScopeRepo, config.ScopeDir, cfg.Scope)
	}

	rosterData, err := os.ReadFile(mapPath)
	if err != nil {
		return fmt.Errorf("failed to read roster file %q: %w", mapPath, err)
	}
	roster, err := domain.ParseRoster(rosterData)
	if err != nil {
		return err
	}

	container := dig.New()
	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return fmt.Errorf("failed to register config: %w", err)
	}
	if err := container.Provide(func(c *config.Config) (domain.RepoClient, error) {
		return githubClient.NewClient(c.Token)
	}); err != nil {
		return fmt.Errorf("failed to register remote client: %w", err)
	}
	if err := container.Provide(application.NewStageService); err != nil {
		return fmt.Errorf("failed to register staging service: %w", err)
	}

	return container.Invoke(func(svc *application.StageService) error {
		result, runErr := svc.Run(cmd.Context(), cfg, roster, application.RunOptions{
			Suite:   suite,
			Verbose: verbose,
		})
		if runErr != nil {
			return runErr
		}
		fmt.Printf("Staged students: %d, Suite: %s, Root: %s\n",
			result.StagedStudents, suite, cfg.SuiteDir(suite))
		return nil
	})
}

// loadConfig loads the configured file, a discovered one, or defaults when
// no config file exists at all.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	found, err := config.FindConfigFile()
	if err != nil {
		logger.Debug("No config file found; using defaults")
		return config.Default(), nil
	}
	logger.Infof("Using config file: %s", found)
	return config.Load(found)
}

// applyFlagOverrides lets explicitly-set CLI flags win over config values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("data-root") {
		cfg.DataRoot = dataRoot
	}
	if cmd.Flags().Changed("rename-to") {
		cfg.RenameTo = renameTo
	}
	if cmd.Flags().Changed("scope") {
		cfg.Scope = scope
	}
	if cmd.Flags().Changed("keep-original") {
		cfg.KeepOriginal = keepOriginal
	}
	if cmd.Flags().Changed("force-rename") {
		cfg.ForceRename = forceRename
	}
	if cmd.Flags().Changed("respect-limit") {
		cfg.RespectLimit = respectLimit
	}
	if cmd.Flags().Changed("flatten") {
		cfg.Flatten = flatten
	}
}
