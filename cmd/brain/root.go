package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "brain",
	Short: "Brain marketing agent orchestrator",
	Long:  `Brain turns chat messages and scheduled cycles into approved, executed marketing plans.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// workspaceUser is the user every command acts for.
func workspaceUser(cmd *cobra.Command) string {
	if flag := cmd.Flags().Lookup("workspace"); flag != nil && flag.Value.String() != "" {
		return flag.Value.String()
	}
	return config.DefaultUserID
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.brain/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("workspace", "w", config.DefaultUserID, "user id to act for")
	rootCmd.PersistentFlags().String("store.backend", config.DefaultStoreBackend, "store backend (file, sqlite, memory)")
}
