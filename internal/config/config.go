package config

import (
	"fmt"
	"os"
	"time"

	"satcontracts/internal/logging"

	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Server     *ServerConfig      `mapstructure:"server"`
	LLM        *LLMConfig         `mapstructure:"llm"`
	Blockchain *BlockchainConfig  `mapstructure:"blockchain"`
	Store      *StoreConfig       `mapstructure:"store"`
	Tracker    *TrackerConfig     `mapstructure:"tracker"`
	Compiler   *CompilerConfig    `mapstructure:"compiler"`
	Verifier   *VerifierConfig    `mapstructure:"verifier"`
	Output     *OutputConfig      `mapstructure:"output"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	StaticDir   string   `mapstructure:"static_dir"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig 大模型服务配置
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Timeout string `mapstructure:"timeout"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Nodes                  []*NodeConfig `mapstructure:"nodes"`
	ChainID                int64         `mapstructure:"chain_id"`
	WalletConnectProjectID string        `mapstructure:"walletconnect_project_id"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Type      string `mapstructure:"type"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// StoreConfig 合约存储配置
type StoreConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// TrackerConfig 部署跟踪器配置
type TrackerConfig struct {
	Workers      int    `mapstructure:"workers"`
	BatchSize    int    `mapstructure:"batch_size"`
	RetryLimit   int    `mapstructure:"retry_limit"`
	PollInterval string `mapstructure:"poll_interval"`
	Timeout      string `mapstructure:"timeout"`
	ProgressDB   string `mapstructure:"progress_db"`
}

// CompilerConfig 远程编译服务配置
type CompilerConfig struct {
	URL       string `mapstructure:"url"`
	Timeout   string `mapstructure:"timeout"`
	CacheSize int    `mapstructure:"cache_size"`
}

// VerifierConfig 合约验证服务配置
type VerifierConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout string `mapstructure:"timeout"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"`
	Directory string       `mapstructure:"directory"`
	Compress  bool         `mapstructure:"compress"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// LoadConfig 加载配置并应用环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// applyEnvOverrides 环境变量优先于配置文件中的敏感项
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SATCONTRACTS_LLM_API_KEY"); v != "" && config.LLM != nil {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("SATCONTRACTS_RPC_URL"); v != "" && config.Blockchain != nil {
		if len(config.Blockchain.Nodes) > 0 {
			config.Blockchain.Nodes[0].URL = v
		} else {
			config.Blockchain.Nodes = []*NodeConfig{
				{Name: "env_node", URL: v, Type: "remote", RateLimit: 10, Priority: 1},
			}
		}
	}
	if v := os.Getenv("SATCONTRACTS_WALLETCONNECT_PROJECT_ID"); v != "" && config.Blockchain != nil {
		config.Blockchain.WalletConnectProjectID = v
	}
	if v := os.Getenv("SATCONTRACTS_DB_DSN"); v != "" && config.Store != nil {
		config.Store.PostgresDSN = v
	}
}

// Validate 校验配置完整性
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置为空")
	}
	if err := validateServerConfig(config.Server); err != nil {
		return err
	}
	if err := validateLLMConfig(config.LLM); err != nil {
		return err
	}
	if err := validateBlockchainConfig(config.Blockchain); err != nil {
		return err
	}
	if err := validateTrackerConfig(config.Tracker); err != nil {
		return err
	}
	if err := validateOutputConfig(config.Output); err != nil {
		return err
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config == nil {
		return fmt.Errorf("缺少server配置")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("无效的服务端口: %d", config.Port)
	}
	return nil
}

func validateLLMConfig(config *LLMConfig) error {
	if config == nil {
		return fmt.Errorf("缺少llm配置")
	}
	if config.Model == "" {
		return fmt.Errorf("llm模型不能为空")
	}
	if config.Timeout != "" {
		if _, err := time.ParseDuration(config.Timeout); err != nil {
			return fmt.Errorf("无效的llm超时配置: %s", config.Timeout)
		}
	}
	return nil
}

func validateBlockchainConfig(config *BlockchainConfig) error {
	if config == nil {
		return fmt.Errorf("缺少blockchain配置")
	}
	if len(config.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个节点")
	}
	for _, node := range config.Nodes {
		if node.Name == "" || node.URL == "" {
			return fmt.Errorf("节点名称和URL不能为空")
		}
		if node.RateLimit < 0 {
			return fmt.Errorf("节点%s的限流配置无效", node.Name)
		}
	}
	if config.ChainID <= 0 {
		return fmt.Errorf("无效的链ID: %d", config.ChainID)
	}
	return nil
}

func validateTrackerConfig(config *TrackerConfig) error {
	if config == nil {
		return fmt.Errorf("缺少tracker配置")
	}
	if config.Workers <= 0 || config.BatchSize <= 0 {
		return fmt.Errorf("tracker的workers和batch_size必须大于0")
	}
	if config.PollInterval != "" {
		if _, err := time.ParseDuration(config.PollInterval); err != nil {
			return fmt.Errorf("无效的轮询间隔: %s", config.PollInterval)
		}
	}
	if config.Timeout != "" {
		if _, err := time.ParseDuration(config.Timeout); err != nil {
			return fmt.Errorf("无效的tracker超时配置: %s", config.Timeout)
		}
	}
	return nil
}

func validateOutputConfig(config *OutputConfig) error {
	if config == nil {
		return fmt.Errorf("缺少output配置")
	}
	switch config.Format {
	case "json", "json_async", "kafka", "kafka_async":
	default:
		return fmt.Errorf("不支持的输出格式: %s", config.Format)
	}
	if config.Format == "kafka" || config.Format == "kafka_async" {
		if config.Kafka == nil {
			return fmt.Errorf("kafka输出需要kafka配置")
		}
		if len(config.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers不能为空")
		}
		if len(config.Kafka.Topics) == 0 {
			return fmt.Errorf("kafka topics不能为空")
		}
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Port:        8080,
			StaticDir:   "",
			CORSOrigins: []string{"*"},
		},
		LLM: &LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			APIKey:  "", // 通过SATCONTRACTS_LLM_API_KEY注入
			Model:   "gpt-4o-mini",
			Timeout: "60s",
		},
		Blockchain: &BlockchainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "http://localhost:8545",
					Type:      "local",
					RateLimit: 1000,
					Priority:  1,
				},
			},
			ChainID:                11155111,
			WalletConnectProjectID: "",
		},
		Store: &StoreConfig{
			PostgresDSN: "",
		},
		Tracker: &TrackerConfig{
			Workers:      2,
			BatchSize:    100,
			RetryLimit:   3,
			PollInterval: "12s",
			Timeout:      "30s",
			ProgressDB:   "./data/tracker_progress.db",
		},
		Compiler: &CompilerConfig{
			URL:       "http://localhost:9000/compile",
			Timeout:   "30s",
			CacheSize: 256,
		},
		Verifier: &VerifierConfig{
			URL:     "https://api-sepolia.etherscan.io/api",
			APIKey:  "",
			Timeout: "30s",
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Compress:  false,
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"contract_events": "satcontracts_contract_events",
					"contributions":   "satcontracts_contributions",
				},
			},
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
