package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/config"
	"github.com/anthrotech-dev/partners/logging"
	"github.com/anthrotech-dev/partners/streams"
)

// env is opened once by the root command before any subcommand runs.
type env struct {
	db  *gorm.DB
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{}
	root := &cobra.Command{
		Use:           "partnersctl",
		Short:         "Administer partners, permissions and subscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCLI()
			if err != nil {
				return err
			}
			if e.log, err = logging.New(cfg.Log); err != nil {
				return err
			}
			e.db, _, err = partners.Open(cfg.Database, e.log)
			return err
		},
	}
	root.AddCommand(
		newMigrateCommand(e),
		newUserCommand(e),
		newGrantCommand(e),
		newRevokeCommand(e),
		newFollowCommand(e),
		newSubscribeCommand(e),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "partnersctl:", err)
		os.Exit(1)
	}
}

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := partners.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			e.log.Info("schema migrated")
			return nil
		},
	}
}

func newUserCommand(e *env) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "user <username>",
		Short: "Create a user and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := auth.User{Username: args[0], Email: email}
			if err := e.db.WithContext(cmd.Context()).Create(&user).Error; err != nil {
				return fmt.Errorf("create user %q: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func newGrantCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <username> <partner> <read|write|delete>...",
		Short: "Grant a user capabilities on a partner",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, partner, err := e.lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			caps := make([]auth.Capability, 0, len(args)-2)
			for _, arg := range args[2:] {
				c, ok := auth.ParseCapability(arg)
				if !ok {
					return fmt.Errorf("unknown capability %q", arg)
				}
				caps = append(caps, c)
			}
			return auth.Grant(ctx, e.db, user, partner, caps...)
		},
	}
}

func newRevokeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <username> <partner>",
		Short: "Revoke every capability of a user on a partner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, partner, err := e.lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return auth.Revoke(ctx, e.db, user, partner)
		},
	}
}

func newFollowCommand(e *env) *cobra.Command {
	var unfollow bool
	cmd := &cobra.Command{
		Use:   "follow <username> <partner>",
		Short: "Make a user follow the stream of a partner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, partner, err := e.lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			stream, err := streams.Of(ctx, e.db, partner)
			if err != nil {
				return err
			}
			if unfollow {
				return streams.Unfollow(ctx, e.db, stream, user)
			}
			return streams.Follow(ctx, e.db, stream, user)
		},
	}
	cmd.Flags().BoolVar(&unfollow, "undo", false, "unfollow instead")
	return cmd
}

func newSubscribeCommand(e *env) *cobra.Command {
	var unsubscribe bool
	cmd := &cobra.Command{
		Use:   "subscribe <username> <signature>",
		Short: "Subscribe a user to activities with a signature, e.g. partner-changed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := e.user(ctx, args[0])
			if err != nil {
				return err
			}
			if unsubscribe {
				return streams.Unsubscribe(ctx, e.db, user, args[1])
			}
			_, err = streams.Subscribe(ctx, e.db, user, args[1])
			return err
		},
	}
	cmd.Flags().BoolVar(&unsubscribe, "undo", false, "unsubscribe instead")
	return cmd
}

func (e *env) user(ctx context.Context, username string) (*auth.User, error) {
	var user auth.User
	if err := e.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return &user, nil
}

func (e *env) lookup(ctx context.Context, username, partnerName string) (*auth.User, *partners.Partner, error) {
	user, err := e.user(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	partner, err := partners.NewStore(e.db).PartnerByName(ctx, partnerName)
	if err != nil {
		return nil, nil, err
	}
	return user, partner, nil
}
