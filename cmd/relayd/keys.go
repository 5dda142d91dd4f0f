package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipflow/relay"
	"github.com/ipflow/relay/credential"
	"github.com/ipflow/relay/id"
)

// cliActor is the audit actor for keys managed from the command line.
const cliActor = "relayd-cli"

func keysCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(keysIssueCmd(configPath))
	cmd.AddCommand(keysRevokeCmd(configPath))
	cmd.AddCommand(keysListCmd(configPath))
	return cmd
}

// withRelay runs fn against a Relay built from config, then closes the store.
func withRelay(cmd *cobra.Command, configPath string, fn func(r *relay.Relay) error) error {
	cfg, logger, b, cleanup, err := bootstrap(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	r, err := relay.New(relayOptions(cfg, logger, b)...)
	if err != nil {
		return err
	}
	return fn(r)
}

func keysIssueCmd(configPath *string) *cobra.Command {
	var (
		in      credential.Input
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a key and print it once",
		Long: `Issue an API key for a tenant. The raw key is printed once and
cannot be recovered afterwards.

Examples:
  relayd keys issue --tenant acme --name ci --scope webhooks.* --scope events.write
  relayd keys issue --tenant acme --name root --scope '*' --expires 720h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if expires > 0 {
				at := time.Now().UTC().Add(expires)
				in.ExpiresAt = &at
			}
			in.ActorID = cliActor

			return withRelay(cmd, *configPath, func(r *relay.Relay) error {
				issued, err := r.IssueCredential(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id:     %s\nprefix: %s\nkey:    %s\n",
					issued.ID, issued.KeyPrefix, issued.Key)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in.TenantID, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&in.Scopes, "scope", nil, "granted scope, repeatable")
	cmd.Flags().DurationVar(&expires, "expires", 0, "lifetime, e.g. 720h (default never)")
	cmd.Flags().IntVar(&in.RateLimit, "rate-limit", 0, "requests per window (default from config)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

func keysRevokeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credID, err := id.ParseCredentialID(args[0])
			if err != nil {
				return fmt.Errorf("invalid key ID: %w", err)
			}
			return withRelay(cmd, *configPath, func(r *relay.Relay) error {
				if err := r.RevokeCredential(cmd.Context(), credID, cliActor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", credID)
				return nil
			})
		},
	}
}

func keysListCmd(configPath *string) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's keys as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRelay(cmd, *configPath, func(r *relay.Relay) error {
				creds, err := r.Credentials().List(cmd.Context(), tenant, credential.ListOpts{})
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(creds)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
