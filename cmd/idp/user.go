package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

func newUserCmd(opts *rootOptions, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local users",
	}
	cmd.AddCommand(newUserAddCmd(opts, v))
	return cmd
}

func newUserAddCmd(opts *rootOptions, v *viper.Viper) *cobra.Command {
	var u UserConfig

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local user and its profile record",
		Long: `Create a local user in the PostgreSQL user store configured by
storage.postgres.dsn. The password is read from stdin when --password is not given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts, v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Storage.Postgres.DSN == "" {
				return errors.New("user add needs a persistent user store: set storage.postgres.dsn")
			}
			if u.Password == "" {
				if u.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			// Only the user store is needed.
			cfg.Storage.Backend = backendMemory
			cfg.Providers = nil
			cfg.Metrics.Enabled = false

			c, err := newCore(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.addUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", u.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&u.Username, "username", "", "user name (required)")
	cmd.Flags().StringVar(&u.Password, "password", "", "password (read from stdin when empty)")
	cmd.Flags().StringVar(&u.DisplayName, "display-name", "", "display name (default: the user name)")
	cmd.Flags().StringVar(&u.Address, "address", "", "profile address")
	cmd.Flags().StringVar(&u.Contact, "contact", "", "profile contact")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newHashSecretCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret",
		Long: `Print the bcrypt hash of a client secret, for the secretHash field of the
clients file. The secret is read from stdin when not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				var err error
				if secret, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			hash, err := hashSecret(secret, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func hashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// readSecret reads a single line from r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret given on stdin")
	}
	return line, nil
}
