package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "triage",
		Password: "secret",
		Database: "swasthai",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=db port=5432 user=triage password=secret dbname=swasthai sslmode=disable", cfg.GetDSN())
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "clinic")
	t.Setenv("DB_MAX_CONNS", "12")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres"}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, "pg.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "postgres", cfg.User)
	assert.Equal(t, "clinic", cfg.Database)
	assert.Equal(t, 12, cfg.MaxConns)
}

func TestRedisAndMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "1")

	var rc RedisConfig
	rc.LoadFromEnv("REDIS")
	assert.Equal(t, "redis:6380", rc.Addr)
	assert.Equal(t, 3, rc.DB)

	var mc MQTTConfig
	mc.LoadFromEnv("MQTT")
	assert.Equal(t, "tcp://broker:1883", mc.Broker)
	assert.Equal(t, byte(1), mc.QoS)
}
