// Package commands defines all Cobra CLI commands for the tutorrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorrag/internal/audit"
	"github.com/tutorstack/tutorrag/internal/config"
	"github.com/tutorstack/tutorrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutorrag",
		Short: "TutorRAG — a personal AI tutor grounded in the student's own study material",
		Long: `TutorRAG is a retrieval-augmented tutoring system.

Students upload their study material (PDF and DOCX files); the material is
indexed per student, and a tutoring agent answers questions grounded in each
student's own documents. Material is strictly isolated per student.

The binary hosts two processes:
  serve    the agent host — HTTP chat (SSE), uploads, session history
  gateway  the knowledge-base tool gateway (MCP over streamable HTTP)

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.tutorrag/config.yaml).
See 'tutorrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.tutorrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewGatewayCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
