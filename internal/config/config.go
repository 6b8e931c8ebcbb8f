package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DriverMySQL 生产环境默认的数据库驱动
	DriverMySQL = "mysql"
	// DriverSQLite 本地单机运行与测试使用的嵌入式驱动
	DriverSQLite = "sqlite"

	defaultMaxUploadSizeMB = 10
)

// Config 应用程序配置
type Config struct {
	AppName string `yaml:"app_name"`

	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
	MinIO      MinIOConfig      `yaml:"minio"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Upload     UploadConfig     `yaml:"upload"`
	Competence CompetenceConfig `yaml:"competence"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080"
}

// DatabaseConfig 选择关系型存储的驱动
type DatabaseConfig struct {
	Driver     string `yaml:"driver"`      // mysql 或 sqlite
	SQLitePath string `yaml:"sqlite_path"` // driver为sqlite时的数据库文件
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// DSN 非空时直接使用，忽略上面的拼接字段
	DSN string `yaml:"dsn"`
	// 连接池
	MaxIdleConns           int `yaml:"max_idle_conns"`
	MaxOpenConns           int `yaml:"max_open_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"`
	// 超时
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds"`
	// 日志级别(1-4)，对应gorm的Silent/Error/Warn/Info
	LogLevel int `yaml:"log_level"`
}

// RedisConfig Redis配置，地址为空时不启用
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	PoolSize     int `yaml:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns"`

	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`

	MaxRetries int `yaml:"max_retries"`

	// 上传文件MD5去重记录的过期时间(天)
	MD5RecordExpireDays int `yaml:"md5_record_expire_days"`
}

// MinIOConfig MinIO配置，endpoint为空时原始PDF落本地磁盘
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	BucketName      string `yaml:"bucketName"`
	Location        string `yaml:"location"`
}

// RabbitMQConfig RabbitMQ配置，URL为空时不启用事件与自动合并
type RabbitMQConfig struct {
	URL                string `yaml:"url"`
	CVEventsExchange   string `yaml:"cv_events_exchange"`
	UploadedRoutingKey string `yaml:"uploaded_routing_key"`
	MergeQueue         string `yaml:"merge_queue"`
	PrefetchCount      int    `yaml:"prefetch_count"`
}

// LLMConfig OpenAI兼容的对话模型配置
type LLMConfig struct {
	APIKey         string            `yaml:"api_key"`
	APIURL         string            `yaml:"api_url"`
	Model          string            `yaml:"model"`
	TaskModels     map[string]string `yaml:"task_models"` // 任务专用模型，例如 structure / optimize
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	// QPM 每分钟请求上限，<=0 时使用默认值
	QPM        int `yaml:"qpm"`
	MaxRetries int `yaml:"max_retries"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`

	// 单次向量化的超时，向量化失败不影响合并与上传
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout 单次向量化的超时
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// UploadConfig 简历上传限制
type UploadConfig struct {
	MaxSizeMB  int      `yaml:"max_size_mb"`
	UploadDir  string   `yaml:"upload_dir"`
	AllowedExt []string `yaml:"allowed_ext"`
}

// CompetenceConfig 能力库合并相关配置
type CompetenceConfig struct {
	// AutoMerge 为true时，上传事件的消费者会把新简历自动并入能力库
	AutoMerge      bool `yaml:"auto_merge"`
	LockTTLSeconds int  `yaml:"lock_ttl_seconds"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
	File         string `yaml:"file"` // 为空时只输出到控制台
}

// TracingConfig OTLP导出配置，endpoint为空时不导出
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// MaxUploadBytes 返回上传大小上限(字节)
func (u UploadConfig) MaxUploadBytes() int64 {
	mb := u.MaxSizeMB
	if mb <= 0 {
		mb = defaultMaxUploadSizeMB
	}
	return int64(mb) * 1024 * 1024
}

// IsAllowedExt 判断扩展名是否允许上传，比较时忽略大小写
func (u UploadConfig) IsAllowedExt(ext string) bool {
	allowed := u.AllowedExt
	if len(allowed) == 0 {
		allowed = []string{".pdf"}
	}
	ext = strings.ToLower(ext)
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// LoadConfig 从文件加载配置，并用环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config/config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".competence-bank", "config.yaml"),
		}
		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths,
				filepath.Join(execDir, "config.yaml"),
				filepath.Join(execDir, "..", "config.yaml"),
			)
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
		// 找不到配置文件时使用默认配置，方便本地直接启动
		if configPath == "" {
			cfg := createDefaultConfig()
			applyEnvOverrides(cfg)
			applyDefaults(cfg)
			return cfg, nil
		}
	}

	cfg, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadConfigFromFileOnly 从文件加载配置，不读取环境变量
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("必须提供配置文件路径")
	}
	cfg, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func readConfigFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &config, nil
}

// applyEnvOverrides 环境变量优先于配置文件
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}

	setString("APP_NAME", &cfg.AppName)
	setString("SERVER_ADDRESS", &cfg.Server.Address)
	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("SQLITE_PATH", &cfg.Database.SQLitePath)
	setString("MYSQL_DSN", &cfg.MySQL.DSN)
	setString("REDIS_ADDR", &cfg.Redis.Address)
	setString("RABBITMQ_URL", &cfg.RabbitMQ.URL)
	setString("OPENAI_API_KEY", &cfg.LLM.APIKey)
	setString("LLM_API_KEY", &cfg.LLM.APIKey)
	setString("LLM_API_URL", &cfg.LLM.APIURL)
	setString("LLM_MODEL", &cfg.LLM.Model)
	setString("EMBEDDING_MODEL", &cfg.Embedding.Model)
	setString("UPLOAD_DIR", &cfg.Upload.UploadDir)

	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil && mb > 0 {
			cfg.Upload.MaxSizeMB = mb
		}
	}
}

// applyDefaults 为未填写的字段补默认值
func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "competence-bank"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMySQL
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/competence.db"
	}
	if cfg.Upload.MaxSizeMB <= 0 {
		cfg.Upload.MaxSizeMB = defaultMaxUploadSizeMB
	}
	if cfg.Upload.UploadDir == "" {
		cfg.Upload.UploadDir = "uploads"
	}
	if len(cfg.Upload.AllowedExt) == 0 {
		cfg.Upload.AllowedExt = []string{".pdf"}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1/embeddings"
	}
	if cfg.Embedding.TimeoutSeconds <= 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.LLM.APIURL == "" {
		cfg.LLM.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-3.5-turbo"
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.QPM <= 0 {
		cfg.LLM.QPM = 30
	}
	if cfg.LLM.MaxRetries <= 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.RabbitMQ.CVEventsExchange == "" {
		cfg.RabbitMQ.CVEventsExchange = "cv.events.exchange"
	}
	if cfg.RabbitMQ.UploadedRoutingKey == "" {
		cfg.RabbitMQ.UploadedRoutingKey = "cv.uploaded"
	}
	if cfg.RabbitMQ.MergeQueue == "" {
		cfg.RabbitMQ.MergeQueue = "q.competence_merge"
	}
	if cfg.RabbitMQ.PrefetchCount <= 0 {
		cfg.RabbitMQ.PrefetchCount = 1
	}
	if cfg.MinIO.BucketName == "" {
		cfg.MinIO.BucketName = "cv-originals"
	}
	if cfg.Redis.MD5RecordExpireDays <= 0 {
		cfg.Redis.MD5RecordExpireDays = 365
	}
	if cfg.Competence.LockTTLSeconds <= 0 {
		cfg.Competence.LockTTLSeconds = 300
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.AppName
	}
}

// createDefaultConfig 默认配置：SQLite + 本地磁盘，不依赖外部中间件
func createDefaultConfig() *Config {
	config := &Config{}
	config.AppName = "competence-bank"
	config.Server.Address = ":8080"

	config.Database.Driver = DriverSQLite
	config.Database.SQLitePath = "data/competence.db"

	config.MySQL.Host = "localhost"
	config.MySQL.Port = 3306
	config.MySQL.Username = "root"
	config.MySQL.Database = "competence_bank"
	config.MySQL.MaxIdleConns = 10
	config.MySQL.MaxOpenConns = 100
	config.MySQL.ConnMaxLifetimeMinutes = 60
	config.MySQL.ConnMaxIdleTimeMinutes = 30
	config.MySQL.ConnectTimeoutSeconds = 10
	config.MySQL.ReadTimeoutSeconds = 30
	config.MySQL.WriteTimeoutSeconds = 30
	config.MySQL.LogLevel = 2

	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 2
	config.Redis.DialTimeoutSeconds = 5
	config.Redis.ReadTimeoutSeconds = 3
	config.Redis.WriteTimeoutSeconds = 3
	config.Redis.MaxRetries = 3
	config.Redis.MD5RecordExpireDays = 365

	config.Upload.MaxSizeMB = defaultMaxUploadSizeMB
	config.Upload.UploadDir = "uploads"
	config.Upload.AllowedExt = []string{".pdf"}

	config.Competence.AutoMerge = true
	config.Competence.LockTTLSeconds = 300

	config.Logger.Level = "info"
	config.Logger.Format = "pretty"
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	return config
}

// CreateSampleConfig 生成一份示例配置文件，已存在时不覆盖
func CreateSampleConfig(filePath string) error {
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	config := createDefaultConfig()
	applyDefaults(config)

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}
	return nil
}

// GetModelForTask 返回任务专用模型，没有配置时返回默认模型
func (c *Config) GetModelForTask(taskName string) string {
	if c.LLM.TaskModels != nil {
		if model, ok := c.LLM.TaskModels[taskName]; ok && model != "" {
			return model
		}
	}
	return c.LLM.Model
}

// GetDuration 解析配置中的时长字符串，失败时返回默认值
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
