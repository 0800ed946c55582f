package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stakepool/cmd/internal/passphrase"
	"stakepool/crypto"
	sdk "stakepool/sdk/stakepool"
)

const (
	envRPCURL     = "STAKEPOOL_RPC_URL"
	envRPCToken   = "STAKEPOOL_RPC_TOKEN"
	envPassphrase = "STAKEPOOL_KEYSTORE_PASSPHRASE"

	defaultRPCURL    = "http://127.0.0.1:8547"
	defaultNamespace = "stakepool"
)

// keystoreOptions applies to every keystore keygen writes. Operator keys use
// the standard scrypt cost.
var keystoreOptions []crypto.KeystoreOption

// cli carries the global flags shared by every subcommand.
type cli struct {
	rpcURL     string
	token      string
	namespace  string
	passphrase *passphrase.Source
	out        io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{
		passphrase: passphrase.NewSource(envPassphrase),
		out:        out,
	}
	root := &cobra.Command{
		Use:           "stake-cli",
		Short:         "Operate a stakepool deployment through stakingd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.rpcURL, "rpc", envOr(envRPCURL, defaultRPCURL), "stakingd base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv(envRPCToken), "bearer token for stakingd")
	root.PersistentFlags().StringVar(&c.namespace, "namespace", defaultNamespace, "pool namespace used to derive addresses")

	root.AddCommand(
		c.keygenCmd(),
		c.addressCmd(),
		c.deriveCmd(),
		c.initPoolCmd(),
		c.stakeCmd(),
		c.unstakeCmd(),
		c.poolCmd(),
		c.stakerCmd(),
		c.previewCmd(),
		c.balanceCmd(),
		c.exportCmd(),
	)
	return root
}

func (c *cli) client() (*sdk.Client, error) {
	var opts []sdk.Option
	if c.token != "" {
		opts = append(opts, sdk.WithBearerToken(c.token))
	}
	return sdk.New(c.rpcURL, opts...)
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
