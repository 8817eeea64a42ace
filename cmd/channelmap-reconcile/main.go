// Command channelmap-reconcile reconciles stream membership in a realm against
// a Rocket.Chat LDAP group to channel mapping file. It is meant to run from
// cron.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"channelmap/internal/config"
	"channelmap/internal/logging"
	"channelmap/internal/mapping"
	"channelmap/internal/reconcile"
	"channelmap/internal/runlock"
	"channelmap/internal/store"
)

type options struct {
	realm                         string
	configPath                    string
	removeObsoleteMembership      bool
	removeAllIndividualMembership bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "channelmap-reconcile [flags] <rocketchat mapping file>",
		Short:        "Reconcile stream membership against a group to channel mapping",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.removeObsoleteMembership, "remove-obsolete-membership", false,
		"Remove individual channel membership if membership covered by group.")
	cmd.Flags().BoolVar(&opts.removeAllIndividualMembership, "remove-all-individual-membership", false,
		"Remove all individual membership, only group memberships will be left.")
	cmd.Flags().StringVarP(&opts.realm, "realm", "r", "", "The string_id of the realm to reconcile.")
	cmd.Flags().StringVar(&opts.configPath, "config", os.Getenv("CM_CONFIG"), "Path to a YAML config file.")
	_ = cmd.MarkFlagRequired("realm")

	return cmd
}

func run(ctx context.Context, out io.Writer, opts options, mappingPath string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("logging error: %w", err)
	}
	defer logger.Close()

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}
	defer st.Close()

	if err := store.Migrate(ctx, st.DB()); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	realm, err := st.GetRealmByStringID(ctx, opts.realm)
	if err != nil {
		return err
	}

	m, err := mapping.Load(mappingPath)
	if err != nil {
		return err
	}

	if cfg.Redis.URL != "" {
		locker, err := runlock.New(cfg.Redis.URL, cfg.Lock.TTL)
		if err != nil {
			return fmt.Errorf("run lock error: %w", err)
		}
		defer locker.Close()

		lease, err := locker.Acquire(ctx, realm.StringID)
		if err != nil {
			return err
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				logger.Warn("run_lock_release_failed", "error", err)
			}
		}()
	}

	svc := reconcile.NewService(st, logger.Logger)
	report, err := svc.Run(ctx, realm, reconcile.Options{
		RemoveObsoleteMembership:      opts.removeObsoleteMembership,
		RemoveAllIndividualMembership: opts.removeAllIndividualMembership,
	}, m)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "reconciliation complete: channels_reset=%d recipients_deleted=%d assignments_resolved=%d missing_channels=%d\n",
		report.ChannelsReset, report.RecipientsDeleted, report.AssignmentsResolved, len(report.MissingChannels))
	return nil
}
