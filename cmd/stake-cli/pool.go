package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stakepool/crypto"
	"stakepool/native/stakepool"
)

func (c *cli) initPoolCmd() *cobra.Command {
	var (
		keyPath string
		budget  uint64
	)
	cmd := &cobra.Command{
		Use:   "init-pool",
		Short: "Initialize the pool and fund its reward budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := c.loadKey(keyPath)
			if err != nil {
				return err
			}
			auth, err := stakepool.SignInitialize(key, stakepool.PoolAddress(c.namespace), budget)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			pool, err := client.InitializePool(cmd.Context(), auth, budget)
			if err != nil {
				return err
			}
			return c.print(pool)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "initializer keystore")
	cmd.Flags().Uint64Var(&budget, "budget", 0, "reward budget moved into custody")
	return cmd
}

func (c *cli) stakeCmd() *cobra.Command {
	var (
		keyPath string
		amount  uint64
		lock    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Stake tokens with a lock period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lock < 0 || lock%time.Second != 0 {
				return fmt.Errorf("--lock must be a non-negative whole number of seconds")
			}
			key, err := c.loadKey(keyPath)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := client.Pool(ctx)
			if err != nil {
				return err
			}
			nonce, err := client.NextNonce(ctx, key.Address())
			if err != nil {
				return err
			}
			auth, err := stakepool.SignStake(key, pool.ID, nonce, amount, uint64(lock/time.Second))
			if err != nil {
				return err
			}
			res, err := client.Stake(ctx, auth, key.Address(), amount, lock)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "staker keystore")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to stake")
	cmd.Flags().DurationVar(&lock, "lock", 0, "lock period, e.g. 720h")
	return cmd
}

func (c *cli) unstakeCmd() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "unstake",
		Short: "Withdraw principal and claim accrued rewards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := c.loadKey(keyPath)
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := client.Pool(ctx)
			if err != nil {
				return err
			}
			nonce, err := client.NextNonce(ctx, key.Address())
			if err != nil {
				return err
			}
			auth, err := stakepool.SignUnstake(key, pool.ID, nonce)
			if err != nil {
				return err
			}
			res, err := client.UnstakeAndClaim(ctx, auth, key.Address())
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "staker keystore")
	return cmd
}

func (c *cli) poolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show the pool snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			pool, err := client.Pool(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(pool)
		},
	}
}

func (c *cli) stakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "staker <address>",
		Short: "Show a staker account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			acc, err := client.Staker(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return c.print(acc)
		},
	}
}

func (c *cli) previewCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "preview <address>",
		Short: "Preview what an unstake would pay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			var when time.Time
			if at != "" {
				when, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return errors.New("--at must be RFC3339")
				}
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			preview, err := client.PreviewReward(cmd.Context(), addr, when)
			if err != nil {
				return err
			}
			return c.print(preview)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC3339 time instead of now")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show a ledger balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := crypto.ParseAddress(args[0])
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			balance, err := client.Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return c.print(map[string]string{"address": addr.String(), "balance": fmt.Sprint(balance)})
		},
	}
}
