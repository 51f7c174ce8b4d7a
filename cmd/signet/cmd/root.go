package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signet",
	Short: "Signet signs X.509 certificate requests with a CA",
	Long: `Signet issues X.509 certificates from certificate signing requests,
either as a one-shot command or as an HTTP signing service.
Complete documentation is available at https://github.com/jmcleod/signet`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
