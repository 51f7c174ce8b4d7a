package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/jmcleod/signet/signer"
)

var (
	signCAKey          string
	signCACert         string
	signCSR            string
	signOut            string
	signPassphraseFile string
	signValidityDays   int
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a certificate signing request",
	Long: `Sign reads a CA private key, the CA certificate and a CSR from PEM
files and writes the signed certificate to stdout or --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPEM, err := os.ReadFile(signCAKey)
		if err != nil {
			return fmt.Errorf("reading CA key: %w", err)
		}
		caCertPEM, err := os.ReadFile(signCACert)
		if err != nil {
			return fmt.Errorf("reading CA certificate: %w", err)
		}
		csrPEM, err := os.ReadFile(signCSR)
		if err != nil {
			return fmt.Errorf("reading CSR: %w", err)
		}

		opts, err := signerOptions(signPassphraseFile, signValidityDays)
		if err != nil {
			return err
		}

		certPEM, err := signer.New(opts...).SignCSR(keyPEM, caCertPEM, csrPEM)
		if err != nil {
			return err
		}

		if signOut == "" {
			_, err = os.Stdout.Write(certPEM)
			return err
		}
		return os.WriteFile(signOut, certPEM, 0o644)
	},
}

// signerOptions builds the issuance options shared by the sign and server
// commands.
func signerOptions(passphraseFile string, validityDays int) ([]signer.Option, error) {
	var opts []signer.Option
	if passphraseFile != "" {
		data, err := os.ReadFile(passphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase file: %w", err)
		}
		// Strip the trailing newline most editors leave; NewEnclave wipes
		// the source buffer.
		data = bytes.TrimRight(data, "\r\n")
		opts = append(opts, signer.WithPassphrase(memguard.NewEnclave(data)))
	}
	if validityDays > 0 {
		opts = append(opts, signer.WithValidity(time.Duration(validityDays)*24*time.Hour))
	}
	return opts, nil
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVar(&signCAKey, "ca-key", "", "Path to the CA private key PEM file")
	signCmd.Flags().StringVar(&signCACert, "ca-cert", "", "Path to the CA certificate PEM file")
	signCmd.Flags().StringVar(&signCSR, "csr", "", "Path to the CSR PEM file")
	signCmd.Flags().StringVarP(&signOut, "out", "o", "", "Write the certificate here instead of stdout")
	signCmd.Flags().StringVar(&signPassphraseFile, "passphrase-file", "", "File holding the CA key passphrase")
	signCmd.Flags().IntVar(&signValidityDays, "validity-days", 0, "Certificate lifetime in days (default 365)")
	signCmd.MarkFlagRequired("ca-key")
	signCmd.MarkFlagRequired("ca-cert")
	signCmd.MarkFlagRequired("csr")
}
