package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix 环境变量前缀：NODE_MANAGER_SERVER_ADDR -> server.addr
const EnvPrefix = "NODE_MANAGER"

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Manager ManagerConfig `yaml:"manager" mapstructure:"manager" comment:"管理节点配置"`
	Health  HealthConfig  `yaml:"health" mapstructure:"health" comment:"主机健康采集配置"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine" comment:"数据库引擎进程配置"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster" comment:"集群成员（gossip）配置"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"SERVER_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"SERVER_READ_TIMEOUT" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"SERVER_WRITE_TIMEOUT" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
}

// ManagerConfig 管理节点身份与 reactor 参数
type ManagerConfig struct {
	ClusterName    string        `yaml:"cluster_name" mapstructure:"cluster_name" env:"MANAGER_CLUSTER_NAME" validate:"required" comment:"集群名称" default:"default_cluster"`
	NodeID         string        `yaml:"node_id" mapstructure:"node_id" env:"MANAGER_NODE_ID" validate:"required,hostname_port" comment:"本管理节点 id（host:port）"`
	Leader         string        `yaml:"leader" mapstructure:"leader" env:"MANAGER_LEADER" validate:"omitempty,hostname_port" comment:"leader 节点 id，由外部给定"`
	DataDir        string        `yaml:"data_dir" mapstructure:"data_dir" env:"MANAGER_DATA_DIR" validate:"required" comment:"数据目录（健康时间序列）" default:"./data"`
	PollTimeout    time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout" env:"MANAGER_POLL_TIMEOUT" validate:"required,gt=0" comment:"控制通道轮询超时" default:"100ms"`
	StatusInterval time.Duration `yaml:"status_interval" mapstructure:"status_interval" env:"MANAGER_STATUS_INTERVAL" validate:"gte=0" comment:"引擎状态查询间隔，0 关闭" default:"10s"`
}

// HealthConfig 健康采集
type HealthConfig struct {
	Interval       time.Duration    `yaml:"interval" mapstructure:"interval" env:"HEALTH_INTERVAL" validate:"required,gt=0" comment:"采集间隔" default:"1s"`
	Tiers          []string         `yaml:"tiers" mapstructure:"tiers" env:"HEALTH_TIERS" validate:"required,min=1" comment:"存档档位 resolution:retention，如 1s:3600"`
	IgnoreDisks    []string         `yaml:"ignore_disks" mapstructure:"ignore_disks" env:"HEALTH_IGNORE_DISKS" comment:"忽略的磁盘列表（如/dev/sda）" default:"[]"`
	IgnoreNetworks []string         `yaml:"ignore_networks" mapstructure:"ignore_networks" env:"HEALTH_IGNORE_NETWORKS" comment:"忽略的网络接口列表（如eth0）" default:"[]"`
	Thresholds     ThresholdsConfig `yaml:"thresholds" mapstructure:"thresholds" comment:"内存/交换分区告警阈值"`
}

// ThresholdsConfig 滞回阈值（百分比），进入告警用 high，解除告警用 low
type ThresholdsConfig struct {
	Enable     bool          `yaml:"enable" mapstructure:"enable" env:"HEALTH_THRESHOLDS_ENABLE" comment:"是否启用健康判定" default:"true"`
	Window     time.Duration `yaml:"window" mapstructure:"window" env:"HEALTH_THRESHOLDS_WINDOW" validate:"gt=0" comment:"判定窗口" default:"1m"`
	MemoryLow  float64       `yaml:"memory_low" mapstructure:"memory_low" validate:"gte=0,lte=100" default:"70"`
	MemoryHigh float64       `yaml:"memory_high" mapstructure:"memory_high" validate:"gte=0,lte=100" default:"90"`
	SwapLow    float64       `yaml:"swap_low" mapstructure:"swap_low" validate:"gte=0,lte=100" default:"20"`
	SwapHigh   float64       `yaml:"swap_high" mapstructure:"swap_high" validate:"gte=0,lte=100" default:"50"`
}

// EngineConfig 数据库引擎进程
type EngineConfig struct {
	Executable       string        `yaml:"executable" mapstructure:"executable" env:"ENGINE_EXECUTABLE" validate:"required" comment:"引擎可执行文件路径"`
	LogDir           string        `yaml:"log_dir" mapstructure:"log_dir" env:"ENGINE_LOG_DIR" validate:"required" comment:"引擎日志目录" default:"./logs/engine"`
	ControlIP        string        `yaml:"control_ip" mapstructure:"control_ip" env:"ENGINE_CONTROL_IP" comment:"控制端口绑定地址，空为节点 host，* 为任意"`
	ControlPort      int           `yaml:"control_port" mapstructure:"control_port" env:"ENGINE_CONTROL_PORT" validate:"required,gt=0,lte=65535" comment:"控制端口" default:"21000"`
	GracefulTimeout  time.Duration `yaml:"graceful_timeout" mapstructure:"graceful_timeout" env:"ENGINE_GRACEFUL_TIMEOUT" validate:"required,gt=0" comment:"优雅停止等待时间" default:"5s"`
	KillTimeout      time.Duration `yaml:"kill_timeout" mapstructure:"kill_timeout" env:"ENGINE_KILL_TIMEOUT" validate:"required,gt=0" comment:"强制终止后等待退出时间" default:"5s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" env:"ENGINE_CONNECT_TIMEOUT" validate:"required,gt=0" comment:"连接控制端口的总重试时间" default:"30s"`
	ConnectRetries   uint          `yaml:"connect_retries" mapstructure:"connect_retries" env:"ENGINE_CONNECT_RETRIES" validate:"gte=0" comment:"连接重试次数上限，0 不限" default:"20"`
	OutputMaxSize    int           `yaml:"output_max_size" mapstructure:"output_max_size" env:"ENGINE_OUTPUT_MAX_SIZE" validate:"gt=0" comment:"子进程输出单文件最大MB" default:"100"`
	OutputMaxBackups int           `yaml:"output_max_backups" mapstructure:"output_max_backups" env:"ENGINE_OUTPUT_MAX_BACKUPS" validate:"gte=0" comment:"子进程输出备份数量" default:"5"`
}

// ClusterConfig memberlist 参数；未启用时集群只有本节点
type ClusterConfig struct {
	Enable         bool          `yaml:"enable" mapstructure:"enable" env:"CLUSTER_ENABLE" comment:"是否启用 gossip" default:"false"`
	BindAddr       string        `yaml:"bind_addr" mapstructure:"bind_addr" env:"CLUSTER_BIND_ADDR" validate:"omitempty,ip" comment:"gossip 监听地址" default:"0.0.0.0"`
	BindPort       int           `yaml:"bind_port" mapstructure:"bind_port" env:"CLUSTER_BIND_PORT" validate:"gte=0,lte=65535" comment:"gossip 端口" default:"7946"`
	Seeds          []string      `yaml:"seeds" mapstructure:"seeds" env:"CLUSTER_SEEDS" validate:"dive,hostname_port" comment:"种子节点 host:port" default:"[]"`
	GossipInterval time.Duration `yaml:"gossip_interval" mapstructure:"gossip_interval" env:"CLUSTER_GOSSIP_INTERVAL" validate:"gt=0" default:"200ms"`
	ProbeInterval  time.Duration `yaml:"probe_interval" mapstructure:"probe_interval" env:"CLUSTER_PROBE_INTERVAL" validate:"gt=0" default:"1s"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout" env:"CLUSTER_PROBE_TIMEOUT" validate:"gt=0" default:"500ms"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level   string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format  string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path    string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxAge  int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"required,gte=0" comment:"日志文件最大保存天数" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Manager: ManagerConfig{
			ClusterName:    "default_cluster",
			NodeID:         "127.0.0.1:21000",
			DataDir:        "./data",
			PollTimeout:    100 * time.Millisecond,
			StatusInterval: 10 * time.Second,
		},
		Health: HealthConfig{
			Interval:       time.Second,
			Tiers:          []string{"1s:3600", "1m:1440", "10m:1008", "1h:720"},
			IgnoreDisks:    []string{},
			IgnoreNetworks: []string{},
			Thresholds: ThresholdsConfig{
				Enable:     true,
				Window:     time.Minute,
				MemoryLow:  70,
				MemoryHigh: 90,
				SwapLow:    20,
				SwapHigh:   50,
			},
		},
		Engine: EngineConfig{
			Executable:       "/opt/infinisql/bin/infinisqld",
			LogDir:           "./logs/engine",
			ControlPort:      21000,
			GracefulTimeout:  5 * time.Second,
			KillTimeout:      5 * time.Second,
			ConnectTimeout:   30 * time.Second,
			ConnectRetries:   20,
			OutputMaxSize:    100,
			OutputMaxBackups: 5,
		},
		Cluster: ClusterConfig{
			Enable:         false,
			BindAddr:       "0.0.0.0",
			BindPort:       7946,
			Seeds:          []string{},
			GossipInterval: 200 * time.Millisecond,
			ProbeInterval:  time.Second,
			ProbeTimeout:   500 * time.Millisecond,
		},
		Log: ZapLogConfig{
			Level:   "info",
			Format:  "json",
			Path:    "./logs",
			MaxSize: 100,
			MaxAge:  7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 0. 默认值逐键注册，没有 flag 的键也能被 AutomaticEnv 覆盖
	if err := setDefaults(v, "", cfg); err != nil {
		return nil, err
	}

	// 1. 绑定 Cobra Flags → Viper（flag 名即配置键，如 server.addr）
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （NODE_MANAGER_SERVER_ADDR -> server.addr）
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. 解码反序列化到结构体（支持 time.Duration）
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// setDefaults 按 mapstructure 标签展开结构体，叶子键如 engine.connect_timeout
func setDefaults(v *viper.Viper, prefix string, value interface{}) error {
	fields := map[string]interface{}{}
	if err := mapstructure.Decode(value, &fields); err != nil {
		return fmt.Errorf("flatten defaults %q: %w", prefix, err)
	}
	for name, field := range fields {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		rv := reflect.ValueOf(field)
		if rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct {
			if err := setDefaults(v, key, field); err != nil {
				return err
			}
			continue
		}
		v.SetDefault(key, field)
	}
	return nil
}

func decode(settings map[string]interface{}, cfg *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验管理节点与引擎配置
	if err := c.Manager.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	// 	3，校验采集配置
	if err := c.Health.Validate(); err != nil {
		return err
	}
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
