package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"proofplus-coordinator/internal/contract"
	"proofplus-coordinator/internal/handlers"
	"proofplus-coordinator/internal/hashing"
	"proofplus-coordinator/internal/middleware"
	"proofplus-coordinator/internal/models"
)

func newDigestCmd(stdout io.Writer) *cobra.Command {
	var journalPath, sealPath string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the public input and proof digests a finalization would report",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			journal, err := readOptional(journalPath)
			if err != nil {
				return err
			}
			seal, err := readOptional(sealPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "public_input_hash: %s\nproof_hash: %s\n", //nolint:errcheck
				hashing.DigestPublicInput(journal).Hex(),
				hashing.DigestProof(seal).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal bytes file")
	cmd.Flags().StringVar(&sealPath, "seal", "", "Seal bytes file")
	return cmd
}

func newFFICalldataCmd(stdout io.Writer) *cobra.Command {
	var journalPath, sealPath, postState string
	cmd := &cobra.Command{
		Use:   "ffi-calldata",
		Short: "Print abi.encode(journal, postStateDigest, seal) as hex for Forge FFI",
		Long: `Print abi.encode(bytes journal, bytes32 postStateDigest, bytes seal) as
unprefixed hex with no trailing newline. Missing files encode as empty bytes.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			journal, err := readOptional(journalPath)
			if err != nil {
				return err
			}
			seal, err := readOptional(sealPath)
			if err != nil {
				return err
			}
			var digest [32]byte
			if postState != "" {
				raw, err := models.DecodeHex(postState)
				if err != nil || len(raw) != common.HashLength {
					return fmt.Errorf("--post-state-digest %q is not a 32-byte hex value", postState)
				}
				copy(digest[:], raw)
			}
			calldata, err := contract.FFICalldata(journal, digest, seal)
			if err != nil {
				return err
			}
			_, err = io.WriteString(stdout, hex.EncodeToString(calldata))
			return err
		},
	}
	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal bytes file")
	cmd.Flags().StringVar(&postState, "post-state-digest", "", "32-byte hex post state digest (default zero)")
	cmd.Flags().StringVar(&sealPath, "seal", "", "Seal bytes file")
	return cmd
}

func newTOTPSecretCmd(stdout io.Writer) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "totp-secret",
		Short: "Generate an operator TOTP secret for server.totpSecret",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			secret, url, err := handlers.GenerateTOTPSecret(account)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "secret: %s\nurl: %s\n", secret, url) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "operator", "Account name shown by the authenticator app")
	return cmd
}

func newGenerateJWTCmd(stdout io.Writer) *cobra.Command {
	var (
		operator string
		secret   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate-jwt",
		Short: "Sign an operator token for the status API",
		Long: `Sign an operator token with --secret, or with server.jwtSecret from the
config file and environment when --secret is omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return errors.New("no JWT secret: pass --secret or set server.jwtSecret")
			}
			token, err := middleware.GenerateToken([]byte(secret), operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "Operator name carried in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret (default server.jwtSecret)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
