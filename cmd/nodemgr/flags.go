package nodemgr

import (
	"github.com/spf13/cobra"

	"github.com/node-manager/pkg/config"
)

// flag 名即配置键（server.addr），由 config.LoadConfigWithCli 绑定到 viper
var defaultCfg = config.NewDefaultConfig()

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address (HTTP监听地址)")
	f.Duration("server.read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration (读取超时时间)")
	f.Duration("server.write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration (写入超时时间)")
	f.Duration("server.idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration (空闲连接超时时间)")
}

func initManagerFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "manager."

	f.String(prefix+"cluster_name", defaultCfg.Manager.ClusterName, "-> Cluster name | 集群名称")
	f.String(prefix+"node_id", defaultCfg.Manager.NodeID, "-> This node id host:port | 本节点 id")
	f.String(prefix+"leader", defaultCfg.Manager.Leader, "-> Leader node id | leader 节点 id")
	f.String(prefix+"data_dir", defaultCfg.Manager.DataDir, "-> Data directory | 数据目录")
	f.Duration(prefix+"poll_timeout", defaultCfg.Manager.PollTimeout, "-> Control channel poll timeout | 控制通道轮询超时")
	f.Duration(prefix+"status_interval", defaultCfg.Manager.StatusInterval, "-> Engine status interval, 0 disables | 引擎状态查询间隔")
}

func initHealthFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "health."

	f.Duration(prefix+"interval", defaultCfg.Health.Interval, "采集间隔")
	f.StringSlice(prefix+"tiers", defaultCfg.Health.Tiers, "存档档位 resolution:retention")
	f.StringSlice(prefix+"ignore_disks", defaultCfg.Health.IgnoreDisks, "忽略磁盘")
	f.StringSlice(prefix+"ignore_networks", defaultCfg.Health.IgnoreNetworks, "忽略网络网卡")
	f.Bool(prefix+"thresholds.enable", defaultCfg.Health.Thresholds.Enable, "启用内存/交换分区健康判定")
}

func initEngineFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "engine."

	f.String(prefix+"executable", defaultCfg.Engine.Executable, "-> Engine executable | 引擎可执行文件")
	f.String(prefix+"log_dir", defaultCfg.Engine.LogDir, "-> Engine log directory | 引擎日志目录")
	f.String(prefix+"control_ip", defaultCfg.Engine.ControlIP, "-> Control bind ip, * for any | 控制端口绑定地址")
	f.Int(prefix+"control_port", defaultCfg.Engine.ControlPort, "-> Control port | 控制端口")
	f.Duration(prefix+"graceful_timeout", defaultCfg.Engine.GracefulTimeout, "-> Graceful stop timeout | 优雅停止等待时间")
	f.Duration(prefix+"kill_timeout", defaultCfg.Engine.KillTimeout, "-> Wait after kill | 强制终止后等待时间")
}

func initClusterFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "cluster."

	f.Bool(prefix+"enable", defaultCfg.Cluster.Enable, "-> Enable gossip membership | 启用 gossip")
	f.String(prefix+"bind_addr", defaultCfg.Cluster.BindAddr, "-> Gossip bind address | gossip 监听地址")
	f.Int(prefix+"bind_port", defaultCfg.Cluster.BindPort, "-> Gossip port | gossip 端口")
	f.StringSlice(prefix+"seeds", defaultCfg.Cluster.Seeds, "-> Seed nodes host:port | 种子节点")
}

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "log."

	f.String(
		prefix+"level",
		defaultCfg.Log.Level,
		"-> Log level [debug,info,warn,error] | 日志级别")
	f.String(
		prefix+"format",
		defaultCfg.Log.Format,
		"-> Log format [console,json] | 日志格式 [console,json]")
	f.String(
		prefix+"path",
		defaultCfg.Log.Path,
		"-> Log file storage path | 日志路径")
	f.Int(
		prefix+"max_size",
		defaultCfg.Log.MaxSize,
		"-> Max size of single log file (MB) | 单文件最大MB")
	f.Int(
		prefix+"max_age",
		defaultCfg.Log.MaxAge,
		"-> Maximum retention days of log files | 保存天数")
}
