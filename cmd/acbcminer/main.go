// Command acbcminer drives a standalone proof-of-work search against a
// daemon's block template endpoint: load configuration, stand up logging,
// and hand off to the mining manager until interrupted or the configured
// block limit is reached.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acbcminer/acbcminer/internal/config"
	"github.com/acbcminer/acbcminer/internal/daemonclient"
	"github.com/acbcminer/acbcminer/internal/mining"
	"github.com/acbcminer/acbcminer/log"
)

func main() {
	if err := acbcMinerMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func acbcMinerMain() error {
	v := viper.New()

	var cfgFile string
	root := &cobra.Command{
		Use:           "acbcminer",
		Short:         "Standalone CPU miner for the acbc daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		// PersistentPreRunE runs after cobra has parsed flags, so
		// cfgFile reflects any --config the user passed; reading it
		// any earlier would always see the zero value.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else {
				v.SetConfigName("acbcminer")
				v.AddConfigPath(".")
			}
			v.SetEnvPrefix("ACBCMINER")
			v.AutomaticEnv()

			if err := v.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMiner(v)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (YAML, JSON, or TOML)")
	config.BindFlags(root.Flags(), v)

	return root.Execute()
}

func runMiner(v *viper.Viper) error {
	cfg := config.Load(v)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.LogDir != "" {
		logFile := filepath.Join(cfg.LogDir, "acbcminer.log")
		if err := log.InitLogRotator(logFile); err != nil {
			return err
		}
	}
	log.SetLogLevels(cfg.LogLevel)
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	log.MgrLog.Infof("connecting to daemon at %s", cfg.DaemonAddr())
	client := daemonclient.New("http://" + cfg.DaemonAddr())
	manager := mining.NewManager(cfg, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForInterrupt(cancel)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("mining manager exited: %w", err)
	}
	log.MgrLog.Info("shutdown complete")
	return nil
}

// waitForInterrupt cancels ctx on the first SIGINT/SIGTERM; a second signal
// forces an immediate process exit for a stuck shutdown.
func waitForInterrupt(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.MgrLog.Info("received interrupt, shutting down...")
	cancel()

	<-sigCh
	log.MgrLog.Warn("received second interrupt, forcing exit")
	os.Exit(1)
}
