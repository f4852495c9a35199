package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Servers  []string       `mapstructure:"servers"`
	Robot    RobotConfig    `mapstructure:"robot"`
	Sensors  SensorsConfig  `mapstructure:"sensors"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Trace    TraceConfig    `mapstructure:"trace"`
}

type RobotConfig struct {
	TickRate          time.Duration `mapstructure:"tick_rate"`
	TxRate            time.Duration `mapstructure:"tx_rate"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	LatencyAlarmBegin time.Duration `mapstructure:"latency_alarm_begin"`
	LatencyAlarmEnd   time.Duration `mapstructure:"latency_alarm_end"`
	BeaconRate        time.Duration `mapstructure:"beacon_rate"`
	ProfilePath       string        `mapstructure:"profile_path"`
	DryRun            bool          `mapstructure:"dry_run"`
}

type SensorsConfig struct {
	CPURate      time.Duration `mapstructure:"cpu_rate"`
	ThermalRate  time.Duration `mapstructure:"thermal_rate"`
	WifiRate     time.Duration `mapstructure:"wifi_rate"`
	ThermalKey   string        `mapstructure:"thermal_key"`
	WirelessPath string        `mapstructure:"wireless_path"`
	WifiIface    string        `mapstructure:"wifi_iface"`
}

type HardwareConfig struct {
	// I2CBus names the bus of the driver chips, empty for the first one.
	I2CBus string `mapstructure:"i2c_bus"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type TraceConfig struct {
	RemoteDebug bool `mapstructure:"remote_debug"`
}

// Loader reads the configuration file and watches it for changes.
type Loader struct {
	v *viper.Viper
}

func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("robot.tick_rate", "20ms")
	v.SetDefault("robot.tx_rate", "50ms")
	v.SetDefault("robot.inactivity_timeout", "1s")
	v.SetDefault("robot.latency_alarm_begin", "250ms")
	v.SetDefault("robot.latency_alarm_end", "200ms")
	v.SetDefault("robot.beacon_rate", "1s")
	v.SetDefault("robot.profile_path", "configs/profiles/rover.yaml")
	v.SetDefault("robot.dry_run", false)

	v.SetDefault("sensors.cpu_rate", "1s")
	v.SetDefault("sensors.thermal_rate", "5s")
	v.SetDefault("sensors.wifi_rate", "1s")
	v.SetDefault("sensors.thermal_key", "cpu_thermal")
	v.SetDefault("sensors.wireless_path", "/proc/net/wireless")
	v.SetDefault("sensors.wifi_iface", "wlan0")

	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("trace.remote_debug", false)

	v.AutomaticEnv()
	v.SetEnvPrefix("VIGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Watch calls fn with the new configuration after every change of the
// file. Changes that fail to decode are passed as errors.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// Path is the file the configuration was read from.
func (l *Loader) Path() string {
	return l.v.ConfigFileUsed()
}

func (c *Config) Validate() error {
	r := c.Robot
	if r.TickRate <= 0 {
		return fmt.Errorf("robot.tick_rate must be positive")
	}
	if r.LatencyAlarmEnd >= r.LatencyAlarmBegin {
		return fmt.Errorf("robot.latency_alarm_end (%s) must be below robot.latency_alarm_begin (%s)",
			r.LatencyAlarmEnd, r.LatencyAlarmBegin)
	}
	if r.ProfilePath == "" {
		return fmt.Errorf("robot.profile_path is required")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
