package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/keystore"
)

func newKeygenCmd() *cobra.Command {
	var (
		dir   string
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bits < keystore.MinKeyBits {
				return fmt.Errorf("key size must be at least %d bits", keystore.MinKeyBits)
			}
			priv, pub, err := keystore.WriteKeyPair(dir, bits, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote key pair:\n  private: %s\n  public:  %s\n", priv, pub)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "keys", "output directory")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")

	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the argon2id hash of a password (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func passwordArg(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		if args[0] == "" {
			return "", errors.New("password must not be empty")
		}
		return args[0], nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password must not be empty")
	}
	return line, nil
}
