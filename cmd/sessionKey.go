package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/blocklotto/aa-pipeline/core/config"
	"github.com/blocklotto/aa-pipeline/core/sessionkey"
	"github.com/blocklotto/aa-pipeline/storage"
)

var (
	skOwner    string
	skDuration time.Duration
	skScope    string
)

// sessionKeyCmd groups the session-key lifecycle subcommands. These operate
// on the local record only; on-chain registration happens in the pipeline
// when a registrar is wired.
var sessionKeyCmd = &cobra.Command{
	Use:   "session-key",
	Short: "manage delegated session keys",
}

var sessionKeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "create a session key valid for the given duration",
	Run: func(cmd *cobra.Command, args []string) {
		m := openManager()
		sk, err := m.Create(context.Background(), skDuration, []byte(skScope))
		if err != nil {
			fmt.Printf("cannot create session key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("key:       %s\n", sk.Address.Hex())
		fmt.Printf("expiresAt: %s\n", sk.ExpiresAt.Format(time.RFC3339))
		if sk.Unregistered {
			fmt.Println("warning: key is local-only, the wallet contract does not recognize it")
		}
	},
}

var sessionKeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the active session key, if any",
	Run: func(cmd *cobra.Command, args []string) {
		m := openManager()
		if !m.HasActiveKey() {
			fmt.Println("no active session key")
			return
		}
		fmt.Printf("key:       %s\n", m.Address().Hex())
		fmt.Printf("remaining: %s\n", m.TimeRemaining().Round(time.Second))
	},
}

var sessionKeyRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "revoke the active session key",
	Run: func(cmd *cobra.Command, args []string) {
		m := openManager()
		if err := m.Revoke(context.Background()); err != nil {
			fmt.Printf("cannot revoke session key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("revoked")
	},
}

func openManager() *sessionkey.Manager {
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("cannot load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewWithPath(cfg.DbPath)
	if err != nil {
		fmt.Printf("cannot open db: %v\n", err)
		os.Exit(1)
	}

	m, err := sessionkey.NewManager(db, clockwork.NewRealClock(), nil, skOwner, cfg.Logger)
	if err != nil {
		fmt.Printf("cannot open session-key store: %v\n", err)
		os.Exit(1)
	}
	return m
}

func init() {
	sessionKeyCmd.PersistentFlags().StringVar(&skOwner, "owner", "", "wallet owner EOA address (empty for anonymous)")
	sessionKeyCreateCmd.Flags().DurationVar(&skDuration, "duration", time.Hour, "validity window")
	sessionKeyCreateCmd.Flags().StringVar(&skScope, "scope", "", "authorization scope, hashed into the record")

	sessionKeyCmd.AddCommand(sessionKeyCreateCmd)
	sessionKeyCmd.AddCommand(sessionKeyStatusCmd)
	sessionKeyCmd.AddCommand(sessionKeyRevokeCmd)
	rootCmd.AddCommand(sessionKeyCmd)
}
