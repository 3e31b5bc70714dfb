// Command relay runs the signing-policy relay node: it serves the
// persistent-state query API and Prometheus metrics over HTTP while reading
// newline-delimited hex calldata from stdin and feeding each record through
// the single-threaded Core.Relay dispatcher (spec.md §5).
//
// Subcommand layout follows the same rootCmd/AddCommand/RunE shape as the
// retrieved luxfi-consensus cmd/consensus tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Signing-policy relay node",
	Long: `relay verifies committee-signed SigningPolicy rotations and protocol
message submissions and serves the resulting persistent state over a
read-only HTTP query API.`,
}

func main() {
	rootCmd.AddCommand(
		serveCmd(),
		installPolicyCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
