package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cluelyguard.com/internal/auth"
	"cluelyguard.com/internal/config"
	"cluelyguard.com/internal/obs"
)

type lookupFunc func(string) (string, bool)

func newRootCmd(out io.Writer, lookup lookupFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "cluelyguard-api",
		Short: "ClueLyGuard API server",
		Long: `cluelyguard-api serves the dashboard and agent ingest API.
Secrets are read from JWT_SECRET and COOKIE_SECRET; everything else comes from
the environment or the file named by CONFIG_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.AddCommand(
		newServeCmd(lookup),
		newTokenCmd(lookup),
		newAPIKeyCmd(lookup),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(obs.CurrentBuild())
		},
	}
}

func newTokenCmd(lookup lookupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Session token helpers",
	}

	var sub, org, role string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed session token for use as a bearer credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(lookup)
			if err != nil {
				return err
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			secrets, err := auth.LoadSecrets(lookup, cfg.Mode())
			if err != nil {
				return err
			}
			for _, name := range secrets.EphemeralNames() {
				if name == auth.EnvJWTSecret {
					return fmt.Errorf("%s must be set: a token signed with a generated secret is useless to the server", auth.EnvJWTSecret)
				}
			}
			tokens, err := auth.NewTokenCodec(secrets)
			if err != nil {
				return err
			}
			token, _, err := tokens.Issue(sub, org, r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	issue.Flags().StringVar(&sub, "sub", "", "subject (user id)")
	issue.Flags().StringVar(&org, "org", "", "organization id")
	issue.Flags().StringVar(&role, "role", string(auth.RoleViewer), "role: admin or viewer")
	_ = issue.MarkFlagRequired("sub")
	_ = issue.MarkFlagRequired("org")

	cmd.AddCommand(issue)
	return cmd
}

func newAPIKeyCmd(lookup lookupFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Agent API key helpers",
	}

	var org, agent, prefix string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Mint an agent API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prefix) == "" {
				cfg, err := config.Load(lookup)
				if err != nil {
					return err
				}
				prefix = cfg.APIKeyPrefix
			}
			key, err := auth.GenerateAPIKey(prefix, org, agent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			fmt.Fprintf(out, "fingerprint: %s\n", auth.Fingerprint(key))
			return nil
		},
	}
	generate.Flags().StringVar(&org, "org", "", "organization id")
	generate.Flags().StringVar(&agent, "agent", "", "agent id")
	generate.Flags().StringVar(&prefix, "prefix", "", "key prefix (default from API_KEY_PREFIX)")
	_ = generate.MarkFlagRequired("org")
	_ = generate.MarkFlagRequired("agent")

	cmd.AddCommand(generate)
	return cmd
}
