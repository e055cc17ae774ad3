// Command agent runs the mixer agent: a long-lived process hosting the
// DHT node, the tree-sharing/relayer HTTP service, the LAN beacon, and
// (when requested) the auto-mix loop. Grounded on the teacher's
// synnergy_main.go rootCmd.AddCommand(...)/Execute() shape, generalized
// from mock testnet/token subcommands to this agent's start/deposit/
// withdraw/mix operations.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cipherlabs/mixagent/internal/agent"
	"github.com/cipherlabs/mixagent/internal/chain"
	"github.com/cipherlabs/mixagent/internal/config"
	"github.com/cipherlabs/mixagent/internal/poseidon"
	"github.com/cipherlabs/mixagent/internal/prover"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{Use: "mixagent"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(startCmd(&configPath))
	root.AddCommand(depositCmd(&configPath))
	root.AddCommand(withdrawCmd(&configPath))
	root.AddCommand(mixCmd(&configPath))
	return root
}

func buildAgent(configPath string, log *logrus.Logger) (*agent.Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var chainAdapter chain.Adapter
	var pv prover.Prover
	if cfg.Chain.RPCEndpoint == "" {
		log.Warn("chain.rpc_endpoint not set; running against in-memory chain and prover stubs")
		chainAdapter = chain.NewMemoryAdapter()
		pv = prover.MemoryProver{}
	} else {
		chainAdapter = chain.NewRPCAdapter(cfg.Chain.RPCEndpoint, &http.Client{Timeout: cfg.Chain.CallTimeout})
		pv = prover.NewHTTPProver(cfg.Prover.Endpoint, &http.Client{Timeout: cfg.Prover.CallTimeout})
	}

	return agent.New(cfg, chainAdapter, pv, log)
}

func startCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the agent's background services until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			a, err := buildAgent(*configPath, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			a.Stop()
			return nil
		},
	}
}

func depositCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit [amount]",
		Short: "submit a single deposit and print its deposit code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			log := logrus.StandardLogger()
			a, err := buildAgent(*configPath, log)
			if err != nil {
				return err
			}

			// Warm up Poseidon before the first real hash (here, the
			// commitment) so a one-shot command doesn't leak a timing
			// fingerprint the way a long-running `start`/`mix` process
			// would not (spec section 4.A).
			poseidon.Init()

			res, err := a.Deposit(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("tx_id=%s commitment=%s deposit_code=%s chunk=%d\n", res.TxID, res.Commitment, res.DepositCode, res.ChunkID)
			return nil
		},
	}
}

func withdrawCmd(configPath *string) *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   "withdraw [recipient]",
		Short: "withdraw the oldest unwithdrawn deposit to recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			a, err := buildAgent(*configPath, log)
			if err != nil {
				return err
			}

			poseidon.Init()

			var amountPtr *uint64
			if amount != 0 {
				amountPtr = &amount
			}
			res, err := a.Withdraw(cmd.Context(), amountPtr, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("queue_id=%s\n", res.QueueID)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "restrict to a deposit of this amount (default: oldest unwithdrawn)")
	return cmd
}

func mixCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mix [amount]",
		Short: "run the auto-mix loop until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}

			log := logrus.StandardLogger()
			a, err := buildAgent(*configPath, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}
			defer a.Stop()
			return a.RunAutoMix(ctx, amount)
		},
	}
}
