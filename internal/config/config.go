package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	AI        AIConfig        `toml:"ai"`
	Store     StoreConfig     `toml:"store"`
	Log       LogConfig       `toml:"log"`
}

// Default returns the configuration used when neither a config file nor
// environment variables override a value.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:9090/Monolith",
			Timeout: 2 * time.Minute,
		},
		Knowledge: KnowledgeConfig{
			ResultLimit:      3,
			Temperature:      0,
			EmbedderEngineID: "e4449559-bcff-4941-ae72-0e3f18e06660",
			ProjectTag:       "DHA",
			MaxUploadBytes:   100 << 20,
		},
		AI: AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
		Store: StoreConfig{Path: "portal.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load 从配置文件（可选）和环境变量加载配置，环境变量优先。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("PORTAL_CONFIG")); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyServerEnv(&cfg.Server); err != nil {
		return nil, err
	}
	if err := applyGatewayEnv(&cfg.Gateway); err != nil {
		return nil, err
	}
	if err := applyKnowledgeEnv(&cfg.Knowledge); err != nil {
		return nil, err
	}
	if err := applyAIEnv(&cfg.AI); err != nil {
		return nil, err
	}
	applyStoreEnv(&cfg.Store)
	if err := applyLogEnv(&cfg.Log); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile decodes a TOML file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return fmt.Errorf("gateway base url is required")
	}
	if c.Knowledge.ResultLimit < 1 || c.Knowledge.ResultLimit > 10 {
		return fmt.Errorf("knowledge result limit %d out of range [1,10]", c.Knowledge.ResultLimit)
	}
	if math.IsNaN(c.Knowledge.Temperature) || c.Knowledge.Temperature < 0 || c.Knowledge.Temperature > 1 {
		return fmt.Errorf("knowledge temperature %v out of range [0,1]", c.Knowledge.Temperature)
	}
	if c.Knowledge.MaxUploadBytes <= 0 {
		return fmt.Errorf("knowledge max upload bytes must be positive")
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// applyServerEnv 解析服务器监听地址与 CORS 白名单。
func applyServerEnv(cfg *ServerConfig) error {
	if origins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return nil
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return nil
	}

	if strings.Contains(port, " ") {
		return fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return nil
}

// GatewayConfig 描述远程执行引擎（runPixel）的连接参数。
type GatewayConfig struct {
	BaseURL   string        `toml:"base_url"`
	InsightID string        `toml:"insight_id"`
	AuthToken string        `toml:"auth_token"`
	Timeout   time.Duration `toml:"timeout"`
	// RateLimit is the number of pixel calls allowed per second; zero disables throttling.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

func applyGatewayEnv(cfg *GatewayConfig) error {
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("GATEWAY_BASE_URL", cfg.BaseURL), "/")
	cfg.InsightID = getEnvOrDefault("GATEWAY_INSIGHT_ID", cfg.InsightID)
	cfg.AuthToken = getEnvOrDefault("GATEWAY_AUTH_TOKEN", cfg.AuthToken)

	timeout, err := parseOptionalIntEnv("GATEWAY_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		cfg.Timeout = time.Duration(*timeout) * time.Second
	}

	rateLimit, err := parseOptionalFloatEnv("GATEWAY_RATE_LIMIT")
	if err != nil {
		return err
	}
	if rateLimit != nil {
		cfg.RateLimit = *rateLimit
	}

	burst, err := parseOptionalIntEnv("GATEWAY_BURST")
	if err != nil {
		return err
	}
	if burst != nil {
		cfg.Burst = *burst
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return nil
}

// KnowledgeConfig 描述检索增强问答的默认参数。
type KnowledgeConfig struct {
	DefaultModelID   string  `toml:"default_model_id"`
	DefaultStorageID string  `toml:"default_storage_id"`
	ResultLimit      int     `toml:"result_limit"`
	Temperature      float64 `toml:"temperature"`
	EmbedderEngineID string  `toml:"embedder_engine_id"`
	ProjectTag       string  `toml:"project_tag"`
	MaxUploadBytes   int64   `toml:"max_upload_bytes"`
}

func applyKnowledgeEnv(cfg *KnowledgeConfig) error {
	cfg.DefaultModelID = getEnvOrDefault("KNOWLEDGE_DEFAULT_MODEL", cfg.DefaultModelID)
	cfg.DefaultStorageID = getEnvOrDefault("KNOWLEDGE_DEFAULT_STORAGE", cfg.DefaultStorageID)
	cfg.EmbedderEngineID = getEnvOrDefault("KNOWLEDGE_EMBEDDER_ENGINE", cfg.EmbedderEngineID)
	cfg.ProjectTag = getEnvOrDefault("KNOWLEDGE_PROJECT_TAG", cfg.ProjectTag)

	limit, err := parseOptionalIntEnv("KNOWLEDGE_RESULT_LIMIT")
	if err != nil {
		return err
	}
	if limit != nil {
		cfg.ResultLimit = *limit
	}

	temperature, err := parseOptionalFloatEnv("KNOWLEDGE_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	return nil
}

// AIConfig 描述可选的直连大模型配置。配置后生成请求不再经由网关的 LLM 命令。
type AIConfig struct {
	APIKey    string   `toml:"api_key"`
	AccessKey string   `toml:"access_key"`
	SecretKey string   `toml:"secret_key"`
	Model     string   `toml:"model"`
	BaseURL   string   `toml:"base_url"`
	Region    string   `toml:"region"`
	TopP      *float64 `toml:"top_p"`
	MaxTokens *int     `toml:"max_tokens"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。温度由每次请求的参数决定。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		MaxTokens: maxTokens,
		TopP:      topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func applyAIEnv(cfg *AIConfig) error {
	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		cfg.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		cfg.MaxTokens = maxTokens
	}

	cfg.APIKey = getEnvOrDefault("ARK_API_KEY", cfg.APIKey)
	cfg.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", cfg.AccessKey)
	cfg.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", cfg.SecretKey)
	cfg.Model = getEnvOrDefault("ARK_MODEL", cfg.Model)
	cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", cfg.BaseURL)
	cfg.Region = getEnvOrDefault("ARK_REGION", cfg.Region)
	return nil
}

// StoreConfig 描述本地键值存储（用户自建应用磁贴）。
type StoreConfig struct {
	Path string `toml:"path"`
}

func applyStoreEnv(cfg *StoreConfig) {
	cfg.Path = getEnvOrDefault("STORE_PATH", cfg.Path)
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

func applyLogEnv(cfg *LogConfig) error {
	cfg.Level = getEnvOrDefault("LOG_LEVEL", cfg.Level)
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", cfg.Development)
	if err != nil {
		return err
	}
	cfg.Development = dev
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
