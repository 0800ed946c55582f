package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stakepool/crypto"
	"stakepool/native/stakepool"
)

func (c *cli) keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key and write it to an encrypted keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("refusing to overwrite existing keystore %s", out)
			}
			pass, err := c.passphrase.Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(out, key, pass, keystoreOptions...); err != nil {
				return fmt.Errorf("save keystore: %w", err)
			}
			return c.print(map[string]string{"address": key.Address().String(), "keystore": out})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "keystore file to create")
	return cmd
}

func (c *cli) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address <keystore>",
		Short: "Print the address controlled by a keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.loadKey(args[0])
			if err != nil {
				return err
			}
			return c.print(map[string]string{"address": key.Address().String()})
		},
	}
}

func (c *cli) deriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive",
		Short: "Print the pool and custody addresses for --namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(map[string]string{
				"namespace": c.namespace,
				"pool":      stakepool.PoolAddress(c.namespace).String(),
				"custody":   stakepool.CustodyAddress(c.namespace).String(),
			})
		},
	}
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("keystore path required")
	}
	pass, err := c.passphrase.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}
