package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/device"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/exporter"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
)

// cli holds the state shared by all subcommands
type cli struct {
	configFile    string
	adminUser     string
	adminPassword string
	timeout       time.Duration

	cfg    *config.Config
	logger *slog.Logger

	// newAuthority is swapped in tests
	newAuthority func(ctx context.Context, cfg config.AuthorityConfig, logger *slog.Logger) (authority.Authority, error)
}

func newRootCmd() *cobra.Command {
	c := &cli{newAuthority: authority.New}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "licensectl",
		Short: "Operator tool for Bodega POS licenses",
		Long: `licensectl issues activation codes for customer devices and revokes or
restores license records on the license authority.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: $BODEGA_CONFIG_FILE or ./config.yaml)")
	root.PersistentFlags().StringVar(&c.adminUser, "admin-user", "", "authority admin user (default: authority_server.admin_user)")
	root.PersistentFlags().StringVar(&c.adminPassword, "admin-password", os.Getenv("BODEGA_ADMIN_PASSWORD"), "authority admin password")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "timeout for authority calls")

	root.AddCommand(
		c.codeCmd(),
		c.deviceCmd(),
		c.setActiveCmd("revoke", false),
		c.setActiveCmd("restore", true),
		c.listCmd(),
	)
	return root
}

func (c *cli) load() error {
	var err error
	if c.configFile != "" {
		c.cfg, err = config.LoadFrom(c.configFile)
	} else {
		c.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	c.logger = infrastructure.NewJSONLogger(os.Stderr, "warn")
	if c.adminUser == "" {
		c.adminUser = c.cfg.AuthorityServer.AdminUser
	}
	return nil
}

func (c *cli) codeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "code <device-id>",
		Short: "Print the activation code for a device",
		Long:  "Derive the activation code a customer enters to unlock premium on the given device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := normalizeDeviceID(args[0])
			code, err := activation.NewGenerator().Generate(deviceID, c.cfg.Entitlement.Secret)
			if err != nil {
				return fmt.Errorf("failed to generate code: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", deviceID, code)
			return nil
		},
	}
}

func (c *cli) deviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Print this machine's device id",
		Long:  "Read (or create) the device id stored in the local database configured for the POS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.EnsureParent(c.cfg.Storage.DatabasePath); err != nil {
				return err
			}
			store, err := storage.OpenSQLite(c.cfg.Storage.DatabasePath, c.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			identity := device.NewIdentity(store, c.cfg.Entitlement.DevicePrefix, c.logger)
			fmt.Fprintln(cmd.OutOrStdout(), identity.GetOrCreate(cmd.Context()))
			return nil
		},
	}
}

func (c *cli) setActiveCmd(name string, active bool) *cobra.Command {
	verb := "Revoke"
	if active {
		verb = "Restore"
	}
	return &cobra.Command{
		Use:   name + " <device-id>",
		Short: verb + " the license of a device",
		Long:  verb + " the license record on the authority. Connected devices are notified immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			admin, err := c.admin(ctx)
			if err != nil {
				return err
			}

			deviceID := normalizeDeviceID(args[0])
			if err := admin.SetActive(ctx, deviceID, c.cfg.Entitlement.ProductID, active); err != nil {
				return fmt.Errorf("failed to update license for %s: %w", deviceID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "License for %s %sd\n", deviceID, strings.ToLower(verb))
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List license records",
		Long:  "List license records as a table, or export them with --format csv|xlsx.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var export exporter.Format
			if format != "table" {
				f, err := exporter.ParseFormat(format)
				if err != nil {
					return err
				}
				export = f
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			admin, err := c.admin(ctx)
			if err != nil {
				return err
			}
			recs, err := admin.ListLicenses(ctx)
			if err != nil {
				return fmt.Errorf("failed to list licenses: %w", err)
			}
			if export != "" {
				return exporter.WriteLicenses(cmd.OutOrStdout(), export, recs)
			}
			return printLicenses(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, csv or xlsx")
	return cmd
}

// admin opens the configured authority and logs in when it is the HTTP
// backend
func (c *cli) admin(ctx context.Context) (authority.Admin, error) {
	auth, err := c.newAuthority(ctx, c.cfg.Authority, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open authority: %w", err)
	}

	if client, ok := auth.(*authority.Client); ok {
		if c.adminPassword == "" {
			return nil, fmt.Errorf("admin password is required for the http authority (--admin-password or BODEGA_ADMIN_PASSWORD)")
		}
		if err := client.Login(ctx, c.adminUser, c.adminPassword); err != nil {
			return nil, fmt.Errorf("admin login failed: %w", err)
		}
	}

	admin, ok := auth.(authority.Admin)
	if !ok {
		return nil, fmt.Errorf("authority backend %q does not support admin operations", c.cfg.Authority.Backend)
	}
	return admin, nil
}

func printLicenses(w io.Writer, recs []authority.LicenseRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tPRODUCT\tTYPE\tACTIVE\tEXPIRES\tLAST SEEN")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.DeviceID, rec.ProductID, rec.Type, rec.Active,
			formatTime(rec.ExpiresAt), formatTime(rec.LastSeenAt))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func normalizeDeviceID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
