package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "gpsd_influxdb.cfg.json"

// GPSDConfig holds the daemon address and poll cadence.
type GPSDConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
}

// InfluxConfig holds InfluxDB sink settings.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the InfluxDB server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// DBConfig holds SQL sink settings.
type DBConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Type          string        `json:"type" mapstructure:"type"` // postgres or sqlite
	Host          string        `json:"host" mapstructure:"host"`
	Port          string        `json:"port" mapstructure:"port"`
	Username      string        `json:"username" mapstructure:"username"`
	Password      string        `json:"password" mapstructure:"password"`
	Database      string        `json:"database" mapstructure:"database"`
	SQLitePath    string        `json:"sqlitePath" mapstructure:"sqlitePath"`
	BatchSize     int           `json:"batchSize" mapstructure:"batchSize"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// MQTTConfig holds MQTT sink settings.
type MQTTConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Broker   string `json:"broker" mapstructure:"broker"`
	ClientID string `json:"clientId" mapstructure:"clientId"`
	Topic    string `json:"topic" mapstructure:"topic"`
	QoS      byte   `json:"qos" mapstructure:"qos"`
	Retain   bool   `json:"retain" mapstructure:"retain"`
}

// WebsocketConfig holds websocket sink settings.
type WebsocketConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("gpsd.host", "127.0.0.1")
	viper.SetDefault("gpsd.port", 2947)
	viper.SetDefault("gpsd.pollInterval", "1s")

	viper.SetDefault("influx.enabled", true)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "gpsd")
	viper.SetDefault("influx.bucket", "gpsd")
	viper.SetDefault("influx.backupPath", "./gpsd_influx_backup.lp.gz")

	viper.SetDefault("db.enabled", false)
	viper.SetDefault("db.type", "postgres")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "gpsd")
	viper.SetDefault("db.sqlitePath", "./gpsd.db")
	viper.SetDefault("db.batchSize", 60)
	viper.SetDefault("db.flushInterval", "10s")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "gpsd-influxdb")
	viper.SetDefault("mqtt.topic", "gpsd/fix")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", true)

	viper.SetDefault("websocket.enabled", false)
	viper.SetDefault("websocket.url", "ws://localhost:5000/api/gps")
	viper.SetDefault("websocket.secret", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "gpsd-influxdb")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from the JSON file in configDir and sets default
// values. Defaults stay in effect when the file cannot be read.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// BindFlags binds command line flags onto their config keys. Flags that
// were set on the command line take precedence over the config file.
func BindFlags(flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"host":      "gpsd.host",
		"port":      "gpsd.port",
		"interval":  "gpsd.pollInterval",
		"log-level": "logLevel",
	}
	for flag, key := range bindings {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// GetGPSDConfig returns the daemon settings.
func GetGPSDConfig() GPSDConfig {
	return GPSDConfig{
		Host:         viper.GetString("gpsd.host"),
		Port:         viper.GetInt("gpsd.port"),
		PollInterval: viper.GetDuration("gpsd.pollInterval"),
	}
}

// GetInfluxConfig returns the InfluxDB sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Protocol:   viper.GetString("influx.protocol"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetDBConfig returns the SQL sink settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Enabled:       viper.GetBool("db.enabled"),
		Type:          viper.GetString("db.type"),
		Host:          viper.GetString("db.host"),
		Port:          viper.GetString("db.port"),
		Username:      viper.GetString("db.username"),
		Password:      viper.GetString("db.password"),
		Database:      viper.GetString("db.database"),
		SQLitePath:    viper.GetString("db.sqlitePath"),
		BatchSize:     viper.GetInt("db.batchSize"),
		FlushInterval: viper.GetDuration("db.flushInterval"),
	}
}

// GetMQTTConfig returns the MQTT sink settings.
func GetMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:  viper.GetBool("mqtt.enabled"),
		Broker:   viper.GetString("mqtt.broker"),
		ClientID: viper.GetString("mqtt.clientId"),
		Topic:    viper.GetString("mqtt.topic"),
		QoS:      byte(viper.GetUint("mqtt.qos")),
		Retain:   viper.GetBool("mqtt.retain"),
	}
}

// GetWebsocketConfig returns the websocket sink settings.
func GetWebsocketConfig() WebsocketConfig {
	return WebsocketConfig{
		Enabled: viper.GetBool("websocket.enabled"),
		URL:     viper.GetString("websocket.url"),
		Secret:  viper.GetString("websocket.secret"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
