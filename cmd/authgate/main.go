package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/auditup/authgate/internal/callback"
	"github.com/auditup/authgate/internal/config"
	"github.com/auditup/authgate/internal/logger"
	"github.com/auditup/authgate/internal/manager"
	"github.com/auditup/authgate/internal/oidc"
	"github.com/auditup/authgate/internal/profile"
	"github.com/auditup/authgate/internal/server"
	"github.com/auditup/authgate/internal/session"
	"github.com/auditup/authgate/internal/transport"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Session gateway for the audit platform",
	Long: `authgate brokers authentication between the audit platform's front
end, its Keycloak realm and its REST backend: authorization-code exchange,
session storage, token refresh and supervised teardown of dead sessions.`,
	Run: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file")
	rootCmd.PersistentFlags().String("provider.issuer_url", "", "OIDC issuer URL (Keycloak realm)")
	rootCmd.PersistentFlags().String("provider.client_id", "", "OAuth client id")
	rootCmd.PersistentFlags().String("provider.redirect_url", "", "Callback redirect URL")
	rootCmd.PersistentFlags().String("backend.base_url", "", "Audit platform backend base URL")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
	pflag.CommandLine.AddFlagSet(rootCmd.PersistentFlags())
}

func runServer(cmd *cobra.Command, args []string) {
	app := fx.New(
		config.Module,
		fx.Invoke(func(cfg *config.Config) error {
			return logger.InitLogger(&cfg.Logging)
		}),
		session.Module,
		oidc.Module,
		profile.Module,
		transport.Module,
		callback.Module,
		manager.Module,
		server.Module,
	)
	app.Run()
}
