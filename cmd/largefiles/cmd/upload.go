package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stefando/largeFileUpload/internal/client"
	"github.com/stefando/largeFileUpload/internal/config"
	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/transfer"
)

const (
	strategyFlagName    = "strategy"
	endpointFlagName    = "endpoint"
	unitSizeFlagName    = "unit-size"
	concurrencyFlagName = "concurrency"
	bufferSizeFlagName  = "buffer-size"
	noProgressFlagName  = "no-progress"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a local file to the ingestion server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.Default()
		ctx := cmd.Context()

		strategyName, _ := cmd.Flags().GetString(strategyFlagName)
		strategy, err := transfer.ParseStrategy(strategyName)
		if err != nil {
			logger.WithError(err).Fatal("Invalid strategy")
		}
		noProgress, _ := cmd.Flags().GetBool(noProgressFlagName)

		c, err := client.New(cfg.Client.Endpoint,
			client.WithTimeout(cfg.Client.Timeout),
			client.WithUnitSize(cfg.Client.UnitSize),
			client.WithConcurrency(cfg.Client.Concurrency),
			client.WithBufferSize(cfg.Client.BufferSize),
		)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create client")
		}

		fileName := args[0]
		f, err := os.Open(fileName)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open file")
		}
		defer func() { _ = f.Close() }()
		stat, err := f.Stat()
		if err != nil {
			logger.WithError(err).Fatal("Failed to stat file")
		}

		op := transfer.NewOperation(filepath.Base(fileName), stat.Size(), strategy)
		events := op.Subscribe(1)
		rendered := make(chan struct{})
		go func() {
			defer close(rendered)
			renderProgress(events, stat.Size(), fmt.Sprintf("%s (%s)", op.FileName, strategy), noProgress)
		}()

		target, err := c.Upload(ctx, op, f)
		<-rendered
		if err != nil {
			logger.WithError(err).Fatal("Upload failed")
		}
		fmt.Println(target)
	},
}

// renderProgress drains events until the operation ends.
func renderProgress(events <-chan transfer.Event, size int64, description string, quiet bool) {
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.DefaultBytes(size, description)
	}
	for ev := range events {
		if bar == nil {
			continue
		}
		switch ev.State {
		case transfer.StateInProgress:
			_ = bar.Set64(ev.BytesTransferred)
		case transfer.StateCompleted:
			_ = bar.Finish()
		case transfer.StateFailed:
			_ = bar.Exit()
		}
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringP(strategyFlagName, "s", string(transfer.StrategyBlock), "upload strategy: stream, chunk or block")
	uploadCmd.Flags().StringP(endpointFlagName, "e", config.DefaultClientEndpoint, "ingestion server base URL")
	uploadCmd.Flags().Int(unitSizeFlagName, config.DefaultClientUnitSize, "chunk and block size in bytes")
	uploadCmd.Flags().Int(concurrencyFlagName, config.DefaultClientConcurrency, "blocks in flight at once")
	uploadCmd.Flags().Int(bufferSizeFlagName, config.DefaultClientBufferSize, "stream copy buffer in bytes")
	uploadCmd.Flags().Bool(noProgressFlagName, false, "do not render a progress bar")

	for key, flag := range map[string]string{
		config.ClientEndpointKey:    endpointFlagName,
		config.ClientUnitSizeKey:    unitSizeFlagName,
		config.ClientConcurrencyKey: concurrencyFlagName,
		config.ClientBufferSizeKey:  bufferSizeFlagName,
	} {
		if err := viper.BindPFlag(key, uploadCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
