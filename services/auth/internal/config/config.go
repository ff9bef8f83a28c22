package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	base "github.com/aksharshruti/platform/libs/config"
	"github.com/aksharshruti/platform/services/auth/internal/rate"
	"github.com/aksharshruti/platform/services/auth/internal/security"
	"github.com/spf13/viper"
)

const minSecretLength = 32

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type Argon2Config struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

func (a Argon2Config) Params() security.Argon2Params {
	return security.Argon2Params{
		Memory:      a.Memory,
		Iterations:  a.Iterations,
		Parallelism: a.Parallelism,
		SaltLength:  a.SaltLength,
		KeyLength:   a.KeyLength,
	}
}

type DBConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxConns     int32         `mapstructure:"max_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	Migrate      bool          `mapstructure:"migrate"`
}

// DSN prefers an explicit URL and otherwise assembles one from the parts.
func (d DBConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PolicyConfig struct {
	Max        int           `mapstructure:"max"`
	Window     time.Duration `mapstructure:"window"`
	FailClosed bool          `mapstructure:"fail_closed"`
}

func (p PolicyConfig) Policy() rate.Policy {
	return rate.Policy{Max: p.Max, Window: p.Window, FailClosed: p.FailClosed}
}

type RateLimitConfig struct {
	Register       PolicyConfig `mapstructure:"register"`
	Login          PolicyConfig `mapstructure:"login"`
	Refresh        PolicyConfig `mapstructure:"refresh"`
	ChangePassword PolicyConfig `mapstructure:"change_password"`
	Read           PolicyConfig `mapstructure:"read"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ClientID        string   `mapstructure:"client_id"`
	EventsTopic     string   `mapstructure:"events_topic"`
	EventsDLQTopic  string   `mapstructure:"events_dlq_topic"`
	ConsumerGroup   string   `mapstructure:"consumer_group"`
	ModerationTopic string   `mapstructure:"moderation_topic"`
	DLQTopic        string   `mapstructure:"dlq_topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// GRPCHealthConfig exposes readiness over gRPC. Port 0 disables it.
type GRPCHealthConfig struct {
	Port     int           `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	App           base.AppConfig   `mapstructure:",squash"`
	JWT           JWTConfig        `mapstructure:"jwt"`
	Argon2        Argon2Config     `mapstructure:"argon2"`
	DB            DBConfig         `mapstructure:"database"`
	Redis         RedisConfig      `mapstructure:"redis"`
	RateLimit     RateLimitConfig  `mapstructure:"rate_limit"`
	Kafka         KafkaConfig      `mapstructure:"kafka"`
	GRPCHealth    GRPCHealthConfig `mapstructure:"grpc_health"`
	SweepInterval time.Duration    `mapstructure:"sweep_interval"`
}

// Load reads AKS_CONFIG (default config.yaml) and AKS_* environment
// variables, e.g. AKS_JWT_SECRET or AKS_RATE_LIMIT_LOGIN_MAX.
func Load() (*Config, error) {
	path := os.Getenv("AKS_CONFIG")
	v := base.New(path)
	setDefaults(v)
	if err := base.ReadInto(v, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("AKS_JWT_SECRET must be set")
	}
	if !c.App.IsDev() && len(c.JWT.Secret) < minSecretLength {
		return fmt.Errorf("AKS_JWT_SECRET must be at least %d bytes outside dev", minSecretLength)
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("jwt ttls invalid: access=%s refresh=%s", c.JWT.AccessTTL, c.JWT.RefreshTTL)
	}
	if err := c.Argon2.Params().Validate(); err != nil {
		return err
	}
	if c.App.HTTP.Port <= 0 || c.App.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.App.HTTP.Port)
	}
	if c.GRPCHealth.Port < 0 || c.GRPCHealth.Port > 65535 {
		return fmt.Errorf("grpc_health.port out of range: %d", c.GRPCHealth.Port)
	}

	policies := map[string]PolicyConfig{
		"register":        c.RateLimit.Register,
		"login":           c.RateLimit.Login,
		"refresh":         c.RateLimit.Refresh,
		"change_password": c.RateLimit.ChangePassword,
		"read":            c.RateLimit.Read,
	}
	for name, p := range policies {
		if err := p.Policy().Validate(); err != nil {
			return fmt.Errorf("rate_limit.%s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "auth-service")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "aks-auth")
	v.SetDefault("jwt.access_ttl", "15m")
	v.SetDefault("jwt.refresh_ttl", "168h")

	d := security.DefaultArgon2Params()
	v.SetDefault("argon2.memory", d.Memory)
	v.SetDefault("argon2.iterations", d.Iterations)
	v.SetDefault("argon2.parallelism", d.Parallelism)
	v.SetDefault("argon2.salt_length", d.SaltLength)
	v.SetDefault("argon2.key_length", d.KeyLength)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "aks_auth")
	v.SetDefault("database.user", "aks")
	v.SetDefault("database.password", "aks")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.query_timeout", "3s")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "aks:ratelimit:")

	presets := map[string]string{
		"register":        "auth.register",
		"login":           "auth.login",
		"refresh":         "auth.refreshToken",
		"change_password": "auth.forgotPassword",
		"read":            "read.standard",
	}
	for key, preset := range presets {
		p := rate.Presets[preset]
		v.SetDefault("rate_limit."+key+".max", p.Max)
		v.SetDefault("rate_limit."+key+".window", p.Window.String())
		v.SetDefault("rate_limit."+key+".fail_closed", false)
	}

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "auth-service")
	v.SetDefault("kafka.events_topic", "auth.events")
	v.SetDefault("kafka.events_dlq_topic", "auth.events.dlq")
	v.SetDefault("kafka.consumer_group", "auth-service")
	v.SetDefault("kafka.moderation_topic", "moderation.actions")
	v.SetDefault("kafka.dlq_topic", "moderation.actions.dlq")

	v.SetDefault("grpc_health.port", 0)
	v.SetDefault("grpc_health.interval", "5s")

	v.SetDefault("sweep_interval", "1h")
}
