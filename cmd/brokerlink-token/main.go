// brokerlink-token mints bearer tokens for the BrokerLink status API.
//
// It signs with the api.jwt settings of the daemon's own config file, so a
// token it prints is accepted by any BrokerLink sharing that config:
//
//	brokerlink-token --subject grafana --ttl 720h
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-brokerlink/internal/api"
	"github.com/nerrad567/gray-logic-brokerlink/internal/infrastructure/config"
)

const defaultConfigPath = "configs/config.yaml"

// errNoSecret is returned when the config leaves API auth disabled.
var errNoSecret = errors.New("api.jwt.secret is not set; authentication is disabled")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "brokerlink-token",
		Short: "Issue a bearer token for the BrokerLink status API",
		Long: "Issues an HS256 bearer token for the BrokerLink status API, signed with\n" +
			"the api.jwt secret and issuer from the BrokerLink config file.",
		Example:       "  brokerlink-token --subject dashboard --ttl 24h",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %v", ttl)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.API.JWT.Secret == "" {
				return errNoSecret
			}

			token, err := api.IssueToken(subject, cfg.API.JWT, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	defaultPath := defaultConfigPath
	if env := os.Getenv("BROKERLINK_CONFIG"); env != "" {
		defaultPath = env
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", defaultPath, "path to the BrokerLink config file")
	flags.StringVarP(&subject, "subject", "s", "", "token subject, e.g. the dashboard or operator name")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag is defined above

	return cmd
}
