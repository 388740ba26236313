package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// embeddedConfig is the default configuration compiled into the binary.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// Version is set at build time.
var Version = "0.1.0"

// globalFlags are shared by every command.
type globalFlags struct {
	envFile     string
	profile     string
	profilesDir string
	overrides   []string
	dryRun      bool
	logLevel    string
}

// cli holds the state of one invocation.
type cli struct {
	flags     globalFlags
	cfg       *config.Config
	closeLogs func() error
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "serendip",
		Short: "Plan and run combinatorial image generation campaigns",
		Long: `Serendip expands an axis x vocabulary registry into a frozen plan, runs it
against the Gemini image API either one request at a time or as batch jobs,
and keeps an append-only manifest so every run can be resumed.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.closeLogs != nil {
				return c.closeLogs()
			}
			return nil
		},
	}

	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.envFile, "env-file", envFile, ".env file to load")
	pf.StringVarP(&c.flags.profile, "profile", "p", "", "profile name (default from config)")
	pf.StringVar(&c.flags.profilesDir, "profiles-dir", "", "directory holding the profiles")
	pf.StringArrayVar(&c.flags.overrides, "set", nil, "override a config value, e.g. --set retry.max_retries=5")
	pf.BoolVar(&c.flags.dryRun, "dry-run", false, "build prompts without calling the remote service")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		c.newGenerateCmd(),
		c.newPlanCmd(),
		c.newBatchCmd(),
		c.newManifestCmd(),
		c.newReportCmd(),
		c.newDBCmd(),
		c.newFilesCmd(),
	)
	return root
}

// load builds the configuration from the global flags and sets up logging.
func (c *cli) load() error {
	overrides := append([]string{}, c.flags.overrides...)
	if c.flags.dryRun {
		overrides = append(overrides, "dry_run=true")
	}
	if c.flags.logLevel != "" {
		overrides = append(overrides, "system.logging.level="+c.flags.logLevel)
	}
	cfg, err := config.LoadConfig(config.LoadOptions{
		EnvFilePath: c.flags.envFile,
		Embedded:    config.EmbeddedConfig(embeddedConfig),
		Profile:     c.flags.profile,
		ProfilesDir: c.flags.profilesDir,
		Overrides:   overrides,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if file := cfg.Serendip.System.Logging.File; file != "" {
		if c.closeLogs, err = logger.OpenFile(file); err != nil {
			return err
		}
	}
	logger.Debugf("Profile '%s', output root %s.", cfg.Serendip.Profile, cfg.OutputRoot())
	c.cfg = cfg
	return nil
}
