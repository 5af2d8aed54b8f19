package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/idcheck/internal/config"
	"github.com/example/idcheck/internal/logging"
	"github.com/example/idcheck/internal/normalize"
	"github.com/example/idcheck/internal/pipeline"
)

func newValidateCommand(load func() (*config.Config, error)) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "validate <image-file>",
		Short: "Validate a local card image and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			comp, err := buildPipeline(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := comp.Close(); err != nil {
					logger.Warn("failed to release pipeline resources", zap.Error(err))
				}
			}()

			ctx := pipeline.WithRequestID(cmd.Context(), uuid.NewString())
			result, runErr := comp.pipeline.Run(ctx, userID, data)
			if result == nil {
				return runErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if runErr != nil && !errors.Is(runErr, normalize.ErrDecode) {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "identifier expected on the card")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
