package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	vaultgrpc "github.com/wyfcoding/optionvault/internal/vault/interfaces/grpc"
	"github.com/wyfcoding/optionvault/pkg/config"
	"github.com/wyfcoding/optionvault/pkg/grpcclient"
	"github.com/wyfcoding/optionvault/pkg/logger"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health status of a running vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		if target == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			target = fmt.Sprintf("127.0.0.1:%d", cfg.GRPC.Port)
		}
		conn, err := grpcclient.NewClient(grpcclient.ClientConfig{
			Target:         target,
			ConnTimeout:    3,
			RequestTimeout: 3,
			MaxRetries:     2,
			RetryDelay:     200,
		}, logger.Get())
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		st, err := grpcclient.CheckHealth(ctx, conn, vaultgrpc.ServiceName)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		if st != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("vault is %s", st)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("target", "", "gRPC address, defaults to the configured port on localhost")
}
