package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/coordinator"
	"github.com/blocklotto/aa-pipeline/core/operr"
	"github.com/blocklotto/aa-pipeline/core/paymaster"
	"github.com/blocklotto/aa-pipeline/storage"
)

var (
	submitOwner   string
	submitTarget  string
	submitValue   string
	submitPayload string
	submitPayment string
	submitToken   string
)

// submitCmd runs one call through the full pipeline and prints the outcome.
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "submit an operation through the pipeline",
	Long: `Submit a single call from a smart wallet through the full pipeline:
deployment check, approval, sponsorship, signing, bundler submission and
receipt wait.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.NewConfig(configFile)
		if err != nil {
			fmt.Printf("cannot load config: %v\n", err)
			os.Exit(1)
		}

		if !common.IsHexAddress(submitOwner) || !common.IsHexAddress(submitTarget) {
			fmt.Println("owner and target must be hex addresses")
			os.Exit(1)
		}

		value := big.NewInt(0)
		if submitValue != "" {
			if _, ok := value.SetString(submitValue, 10); !ok {
				fmt.Printf("invalid value %q\n", submitValue)
				os.Exit(1)
			}
		}

		db, err := storage.NewWithPath(cfg.DbPath)
		if err != nil {
			fmt.Printf("cannot open db: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		coord := coordinator.NewCoordinator(cfg, db)
		defer coord.Close()

		req := coordinator.Request{
			Owner: common.HexToAddress(submitOwner),
			Calls: []coordinator.Call{{
				Target:  common.HexToAddress(submitTarget),
				Value:   value,
				Payload: common.FromHex(submitPayload),
			}},
		}

		if method, ok := parsePayment(cfg); ok {
			req.Payment = &method
		}

		res, err := coord.Submit(context.Background(), req)
		if err != nil {
			fmt.Printf("submission failed (%s): %v\n", operr.KindOf(err), err)
			if res != nil && res.OpHash != "" {
				fmt.Printf("opHash: %s (submitted; may still confirm)\n", res.OpHash)
			}
			if hint := operr.HintOf(err); hint != "" {
				fmt.Printf("hint: %s\n", hint)
			}
			os.Exit(1)
		}

		fmt.Printf("confirmed: id=%s opHash=%s payment=%s\n", res.ID, res.OpHash, res.Payment.String())
		if res.Receipt != nil {
			txHash := res.Receipt.Receipt.TransactionHash.Hex()
			fmt.Printf("tx=%s block=%s\n", txHash, res.Receipt.Receipt.BlockNumber.String())
			fmt.Printf("explorer: %s/tx/%s\n", config.ExplorerURL(), txHash)
		}
	},
}

func parsePayment(cfg *config.SmartWalletConfig) (paymaster.PaymentMethod, bool) {
	token := cfg.DefaultGasToken
	if submitToken != "" && common.IsHexAddress(submitToken) {
		token = common.HexToAddress(submitToken)
	}
	switch submitPayment {
	case "sponsored":
		return paymaster.SponsoredMethod(), true
	case "prepay":
		return paymaster.PrepayMethod(token), true
	case "postpay":
		return paymaster.PostpayMethod(token), true
	default:
		return paymaster.PaymentMethod{}, false
	}
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "wallet owner EOA address")
	submitCmd.Flags().StringVar(&submitTarget, "target", "", "contract to call")
	submitCmd.Flags().StringVar(&submitValue, "value", "0", "native value in wei")
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "ABI-encoded calldata, hex")
	submitCmd.Flags().StringVar(&submitPayment, "payment", "", "payment method: sponsored|prepay|postpay (default: sponsored with fallback)")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "gas token address for prepay/postpay")
	_ = submitCmd.MarkFlagRequired("owner")
	_ = submitCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(submitCmd)
}
