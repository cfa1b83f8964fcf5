package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/blocklotto/aa-pipeline/core/chainio/aa"
	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/coordinator"
	"github.com/blocklotto/aa-pipeline/storage"
)

var statusOwner string

// walletStatusCmd prints the deployment and funding state of an owner's
// smart wallet.
var walletStatusCmd = &cobra.Command{
	Use:   "wallet-status",
	Short: "show a smart wallet's deployment and funding state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.NewConfig(configFile)
		if err != nil {
			fmt.Printf("cannot load config: %v\n", err)
			os.Exit(1)
		}

		if !common.IsHexAddress(statusOwner) {
			fmt.Println("owner must be a hex address")
			os.Exit(1)
		}
		owner := common.HexToAddress(statusOwner)

		db, err := storage.NewWithPath(cfg.DbPath)
		if err != nil {
			fmt.Printf("cannot open db: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		ctx := context.Background()
		coord := coordinator.NewCoordinator(cfg, db)
		defer coord.Close()

		deployments, err := coord.Deployments(ctx)
		if err != nil {
			fmt.Printf("cannot reach services: %v\n", err)
			os.Exit(1)
		}

		client, err := ethclient.DialContext(ctx, cfg.EthRpcUrl)
		if err != nil {
			fmt.Printf("cannot dial eth node: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()

		walletAddr, err := aa.GetSenderAddress(ctx, client, owner, nil)
		if err != nil {
			fmt.Printf("cannot derive wallet address: %v\n", err)
			os.Exit(1)
		}

		deployed, err := deployments.IsDeployed(ctx, *walletAddr)
		if err != nil {
			fmt.Printf("cannot check deployment: %v\n", err)
			os.Exit(1)
		}

		prefunded, deposit, err := deployments.CheckPrefunding(ctx, *walletAddr)
		if err != nil {
			fmt.Printf("cannot check prefunding: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("owner:     %s\n", owner.Hex())
		fmt.Printf("wallet:    %s\n", walletAddr.Hex())
		fmt.Printf("deployed:  %v\n", deployed)
		fmt.Printf("prefunded: %v (deposit %s wei)\n", prefunded, deposit.String())
		fmt.Printf("explorer:  %s/address/%s\n", config.ExplorerURL(), walletAddr.Hex())
	},
}

func init() {
	walletStatusCmd.Flags().StringVar(&statusOwner, "owner", "", "wallet owner EOA address")
	_ = walletStatusCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(walletStatusCmd)
}
