package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`
	Users       UsersConfig       `mapstructure:"users"`
	Business    BusinessConfig    `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// MercadoPagoConfig 支付渠道配置
//
// WebhookSecret 为空时签名校验进入开发模式（无条件放行），
// 生产环境必须配置，见 service.NewSignatureValidator。
type MercadoPagoConfig struct {
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RedirectURI   string `mapstructure:"redirect_uri"`
	AuthBaseURL   string `mapstructure:"auth_base_url"`
	APIBaseURL    string `mapstructure:"api_base_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// UsersConfig 内部用户服务（按邮箱解析操作者身份）
type UsersConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type BusinessConfig struct {
	HandshakeTTLMinutes    int `mapstructure:"handshake_ttl_minutes"`    // 授权握手有效期
	RefreshLeadHours       int `mapstructure:"refresh_lead_hours"`       // 凭证过期前多久开始刷新
	RefreshIntervalMinutes int `mapstructure:"refresh_interval_minutes"` // 刷新任务扫描间隔
	OutboxPollIntervalMs   int `mapstructure:"outbox_poll_interval_ms"`  // 发件箱轮询间隔
	OutboxBatchSize        int `mapstructure:"outbox_batch_size"`        // 发件箱单批条数
	MaxRetryCount          int `mapstructure:"max_retry_count"`          // 发件箱最大重试次数
}

// HandshakeTTL 返回握手有效期
func (b *BusinessConfig) HandshakeTTL() time.Duration {
	return time.Duration(b.HandshakeTTLMinutes) * time.Minute
}

// RefreshLead 返回凭证刷新提前量
func (b *BusinessConfig) RefreshLead() time.Duration {
	return time.Duration(b.RefreshLeadHours) * time.Hour
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
