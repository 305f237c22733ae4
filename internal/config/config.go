package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"swasthai-triage/common/config"
	"swasthai-triage/internal/classifier"
)

// Config 分诊服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr        string   // 监听地址，默认 ":8080"
		CORSOrigins []string // 允许的来源，默认 "*"
	}

	// 可选依赖开关：关闭时使用内存存储 / 不发布对应通知
	DatabaseEnabled bool
	RedisEnabled    bool
	MQTTEnabled     bool

	Notify struct {
		Stream        string // 变更 stream，默认 "triage:intake-events"
		StreamMaxLen  int64  // 近似裁剪长度
		ConsumerGroup string // 组名前缀，每个实例使用 <prefix>:<consumer>
		ConsumerName  string // 实例名，默认主机名，需在实例间唯一
		MQTTTopic     string // 候诊大屏主题
	}

	Triage struct {
		RulesFile      string // 阈值 YAML，空则使用默认阈值
		Thresholds     classifier.Thresholds
		ExportLocation *time.Location // 导出时间所用时区
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "*"))

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "swasthai"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "swasthai-triage"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	if cfg.DatabaseEnabled, err = getBool("DB_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.RedisEnabled, err = getBool("REDIS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.MQTTEnabled, err = getBool("MQTT_ENABLED", false); err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "triage-1"
	}
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", "triage:intake-events")
	cfg.Notify.StreamMaxLen = 10000
	if v := os.Getenv("NOTIFY_STREAM_MAXLEN"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_STREAM_MAXLEN %q: %w", v, err)
		}
		cfg.Notify.StreamMaxLen = n
	}
	cfg.Notify.ConsumerGroup = getEnv("NOTIFY_GROUP", "triage-web")
	cfg.Notify.ConsumerName = getEnv("NOTIFY_CONSUMER", hostname)
	cfg.Notify.MQTTTopic = getEnv("MQTT_TOPIC", "triage/queue/changed")

	cfg.Triage.RulesFile = getEnv("RULES_FILE", "")
	if cfg.Triage.Thresholds, err = classifier.LoadThresholds(cfg.Triage.RulesFile); err != nil {
		return nil, err
	}
	tz := getEnv("EXPORT_TIMEZONE", "UTC")
	if cfg.Triage.ExportLocation, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid EXPORT_TIMEZONE %q: %w", tz, err)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
