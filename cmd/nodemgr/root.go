package nodemgr

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/node-manager/pkg/config"
)

var Version = "dev"

// NewRootCmd 根命令：不带子命令时运行 manager
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "node-manager",
		Short:         "Per-node manager: database engine supervisor and host health time series",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.PersistentFlags().StringP("config", "c", "", "配置文件路径")
	// 注册分组 flag
	initServerFlags(root)
	initManagerFlags(root)
	initHealthFlags(root)
	initEngineFlags(root)
	initClusterFlags(root)
	initLogFlags(root)

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the manager (default when no subcommand is given)",
		RunE:  run,
	})
	root.AddCommand(newConfigCmd(), newDBECmd(), newVersionCmd())
	return root
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithCli(cmd)
	if err != nil {
		return fmt.Errorf("%w\n请检查配置文件路径或使用 -c 参数指定", err)
	}
	return runManager(cmd.Context(), cfg)
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
