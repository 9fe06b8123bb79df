package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Locks    LocksConfig    `mapstructure:"locks"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Mode         string        `mapstructure:"mode"`
	Prefix       string        `mapstructure:"prefix"`
	Realm        string        `mapstructure:"realm"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig 后端数据库配置，Type 为 memory、sqlite 或 postgres
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig 资源内容存储配置，Type 为 database 或 minio
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	MinIO MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	BucketName string `mapstructure:"bucket_name"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// Users 用户名到bcrypt哈希
	Users map[string]string `mapstructure:"users"`
	// PolicyFile 为空时使用内置授权策略
	PolicyFile string `mapstructure:"policy_file"`
	CacheSize  int    `mapstructure:"cache_size"`
	Anonymous  bool   `mapstructure:"anonymous"`
}

// LocksConfig 锁配置，Registry 为 memory 或 redis
type LocksConfig struct {
	Registry       string        `mapstructure:"registry"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Load 加载配置
//
// 加载顺序：默认值、配置文件（path 为空时按默认位置查找）、.env、DAV_ 前缀环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/webdav-engine")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("DAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.prefix", "/dav")
	v.SetDefault("server.realm", "webdav")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_cors", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.type", "memory")
	v.SetDefault("database.sqlite.path", "./data/webdav.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "webdav")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("storage.type", "database")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.bucket_name", "webdav-content")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.policy_file", "")
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("auth.anonymous", false)
	v.SetDefault("locks.registry", "memory")
	v.SetDefault("locks.default_timeout", time.Hour)
	v.SetDefault("locks.max_timeout", 24*time.Hour)
	v.SetDefault("locks.redis.address", "localhost:6379")
	v.SetDefault("locks.redis.password", "")
	v.SetDefault("locks.redis.db", 0)
	v.SetDefault("locks.redis.prefix", "webdav:lock:")
}

// Validate 检查枚举取值
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	switch c.Storage.Type {
	case "database", "minio":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "minio" && c.Database.Type == "memory" {
		return fmt.Errorf("minio storage requires a sql database")
	}
	switch c.Locks.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported lock registry %q", c.Locks.Registry)
	}
	if c.Locks.MaxTimeout < c.Locks.DefaultTimeout {
		return fmt.Errorf("locks.max_timeout %s is below locks.default_timeout %s", c.Locks.MaxTimeout, c.Locks.DefaultTimeout)
	}
	return nil
}

// GetDSN 获取数据库连接字符串
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "postgres":
		return buildPostgresDSN(c.Database.Postgres)
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// buildPostgresDSN 构建PostgreSQL DSN
func buildPostgresDSN(config PostgresConfig) string {
	dsn := "host=" + config.Host
	dsn += " port=" + strconv.Itoa(config.Port)
	dsn += " user=" + config.Username
	dsn += " password=" + config.Password
	dsn += " dbname=" + config.Database
	dsn += " sslmode=" + config.SSLMode
	return dsn
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
