// Command console replays a JSON scenario of pool operations against an
// in-memory engine and prints the resulting pool states and balances.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/defistate/amm-engine-go/amm"
	"github.com/defistate/amm-engine-go/engine"
	"github.com/defistate/amm-engine-go/settlement"
)

const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Red   = "\033[31m"
	Green = "\033[32m"
	Cyan  = "\033[36m"
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// Scenario is the replay input: pools to initialize, then operations to
// run in order. Big integers are decimal strings to survive JSON.
type Scenario struct {
	Pools      []ScenarioPool `json:"pools"`
	Operations []ScenarioOp   `json:"operations"`
}

type ScenarioPool struct {
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint64         `json:"fee"`
	TickSpacing  int32          `json:"tickSpacing"`
	Extension    common.Address `json:"extension"`
	SqrtPriceX96 string         `json:"sqrtPriceX96"`
}

type ScenarioOp struct {
	Type  string         `json:"type"` // addLiquidity | removeLiquidity | swap | collect
	Pool  int            `json:"pool"`
	Actor common.Address `json:"actor"`

	// addLiquidity / removeLiquidity / collect
	TickLower int32  `json:"tickLower"`
	TickUpper int32  `json:"tickUpper"`
	Liquidity string `json:"liquidity"`

	// swap
	Amount   string `json:"amount"`
	IsToken1 bool   `json:"isToken1"`
}

func (p ScenarioPool) key() amm.PoolKey {
	return amm.PoolKey{
		Token0: p.Token0,
		Token1: p.Token1,
		Config: amm.PoolConfig{
			Fee:         p.Fee,
			TickSpacing: p.TickSpacing,
			Extension:   p.Extension,
		},
	}
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return n, nil
}

// priceOf renders sqrtPriceX96 as a human price: (sqrt / 2^96)^2.
func priceOf(sqrtPriceX96 *big.Int) decimal.Decimal {
	q96 := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)
	sqrt := decimal.NewFromBigInt(sqrtPriceX96, 0).Div(q96)
	return sqrt.Mul(sqrt)
}

// settle pays off or withdraws every outstanding delta the actor holds for
// the pool's tokens, so each scenario operation commits cleanly.
func settle(eng *engine.Engine, s *settlement.Session, actor common.Address, key amm.PoolKey) error {
	for _, token := range []amm.Token{key.Token0, key.Token1} {
		delta := s.Delta(actor, token)
		switch delta.Sign() {
		case 1:
			if err := eng.Pay(s, token, delta); err != nil {
				return err
			}
		case -1:
			if err := eng.Withdraw(s, token, delta.Neg(delta)); err != nil {
				return err
			}
		}
	}
	return nil
}

func run(scenarioPath, logPath string) error {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewJSONHandler(logFile, nil))

	raw, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	var scenario Scenario
	if err := json.Unmarshal(raw, &scenario); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}

	operator := common.HexToAddress("0x00000000000000000000000000000000000000a0")

	header("INITIALIZING POOLS")
	keys := make([]amm.PoolKey, len(scenario.Pools))
	for i, sp := range scenario.Pools {
		sqrtPrice, err := parseBig(sp.SqrtPriceX96)
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		keys[i] = sp.key()
		var tick int32
		err = eng.Lock(operator, func(s *settlement.Session) error {
			tick, err = eng.InitializePool(s, keys[i], sqrtPrice)
			return err
		})
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		fmt.Printf("  pool %d: %s / %s  fee=%d  spacing=%d  tick=%d  price=%s\n",
			i, sp.Token0.Hex(), sp.Token1.Hex(), sp.Fee, sp.TickSpacing, tick, priceOf(sqrtPrice).StringFixed(8))
	}

	header("RUNNING OPERATIONS")
	for i, op := range scenario.Operations {
		if op.Pool < 0 || op.Pool >= len(keys) {
			return fmt.Errorf("op %d: pool index %d out of range", i, op.Pool)
		}
		key := keys[op.Pool]
		switch op.Type {
		case "addLiquidity", "removeLiquidity":
			liquidity, err := parseBig(op.Liquidity)
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if op.Type == "removeLiquidity" {
				liquidity.Neg(liquidity)
			}
			var delta amm.BalanceDelta
			err = eng.Lock(op.Actor, func(s *settlement.Session) error {
				delta, _, _, err = eng.UpdatePosition(s, key, amm.UpdatePositionParams{
					Owner:          op.Actor,
					TickLower:      op.TickLower,
					TickUpper:      op.TickUpper,
					LiquidityDelta: liquidity,
				})
				if err != nil {
					return err
				}
				return settle(eng, s, op.Actor, key)
			})
			if err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Type, err)
			}
			fmt.Printf("  %s[%d]%s %s [%d, %d] liquidity=%s amount0=%s amount1=%s\n",
				Green, i, Reset, op.Type, op.TickLower, op.TickUpper, liquidity, delta.Amount0, delta.Amount1)

		case "swap":
			amount, err := parseBig(op.Amount)
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			var delta amm.BalanceDelta
			err = eng.Lock(op.Actor, func(s *settlement.Session) error {
				delta, err = eng.Swap(s, key, amm.SwapParams{
					Amount:   amount,
					IsToken1: op.IsToken1,
				})
				if err != nil {
					return err
				}
				return settle(eng, s, op.Actor, key)
			})
			if err != nil {
				return fmt.Errorf("op %d (swap): %w", i, err)
			}
			fmt.Printf("  %s[%d]%s swap amount0=%s amount1=%s\n", Green, i, Reset, delta.Amount0, delta.Amount1)

		case "collect":
			var fees0, fees1 *big.Int
			err = eng.Lock(op.Actor, func(s *settlement.Session) error {
				var err error
				fees0, fees1, err = eng.CollectFees(s, key, amm.PositionRef{
					Owner:     op.Actor,
					TickLower: op.TickLower,
					TickUpper: op.TickUpper,
				})
				if err != nil {
					return err
				}
				return settle(eng, s, op.Actor, key)
			})
			if err != nil {
				return fmt.Errorf("op %d (collect): %w", i, err)
			}
			fmt.Printf("  %s[%d]%s collect fees0=%s fees1=%s\n", Green, i, Reset, fees0, fees1)

		default:
			return fmt.Errorf("op %d: unknown type %q", i, op.Type)
		}
	}

	header("FINAL POOL STATES")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tTICK\tPRICE\tLIQUIDITY\tRESERVE0\tRESERVE1")
	for i, key := range keys {
		st, err := eng.PoolState(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			i, st.Tick, priceOf(st.SqrtPriceX96).StringFixed(8), st.Liquidity,
			eng.Reserve(key.Token0), eng.Reserve(key.Token1))
	}
	return w.Flush()
}

func main() {
	var scenarioPath, logPath string

	rootCmd := &cobra.Command{
		Use:   "console",
		Short: "Replay a pool-operation scenario against an in-memory engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(scenarioPath, logPath)
		},
	}
	rootCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "scenario.json", "path to the scenario JSON file")
	rootCmd.Flags().StringVar(&logPath, "log", "console.log", "path to the JSON log file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(Red + "error: " + err.Error() + Reset)
		os.Exit(1)
	}
}
