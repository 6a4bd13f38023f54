package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/casfos/registry/internal/auth/apikey"
)

func keysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage directory API keys",
		Long:  "Create, list and revoke API keys directly in PostgreSQL.",
		Example: heredoc.Doc(`
			$ casfosctl keys create --name verify-desk --roles verifier
			$ casfosctl keys create --name office --roles hoo,dataentry --expires-in 720h
			$ casfosctl keys list
			$ casfosctl keys revoke <raw-key>
		`),
	}
	cmd.AddCommand(createKeyCommand(a), listKeysCommand(a), revokeKeyCommand(a))
	return cmd
}

func createKeyCommand(a *app) *cobra.Command {
	var (
		name      string
		roles     string
		rateLimit int
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			parsed, err := apikey.ParseRoles(roles)
			if err != nil {
				return err
			}
			if len(parsed) == 0 {
				return errors.New("--roles needs at least one role")
			}
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}
			store, err := a.keyStore(cmd.Context())
			if err != nil {
				return err
			}
			key, err := store.CreateKey(cmd.Context(), name, parsed, rateLimit, expiresAt)
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return writeJSON(a.out, map[string]any{"api_key": key, "name": name, "roles": parsed})
			}
			fmt.Fprintln(a.out, key)
			fmt.Fprintln(a.out, "store this key securely, it cannot be retrieved again")
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&name, "name", "", "key name")
	fs.StringVar(&roles, "roles", "viewer", "comma-separated roles: "+roleList())
	fs.IntVar(&rateLimit, "rate-limit", 100, "requests per minute")
	fs.DurationVar(&expiresIn, "expires-in", 0, "lifetime of the key, e.g. 720h (default never)")
	return cmd
}

func listKeysCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.keyStore(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := store.ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				if keys == nil {
					keys = []apikey.KeyInfo{}
				}
				return writeJSON(a.out, keys)
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROLES\tRATE LIMIT\tCREATED\tEXPIRES")
			for _, k := range keys {
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format(time.RFC3339)
				}
				roles := make([]string, len(k.Roles))
				for i, r := range k.Roles {
					roles[i] = string(r)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					k.ID, k.Name, strings.Join(roles, ","), k.RateLimit, k.CreatedAt.Format(time.RFC3339), expires)
			}
			return tw.Flush()
		},
	}
}

func revokeKeyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <raw-key>",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.keyStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "revoked")
			return nil
		},
	}
}

func roleList() string {
	names := make([]string, len(apikey.Roles))
	for i, r := range apikey.Roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
