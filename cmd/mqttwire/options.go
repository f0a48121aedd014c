package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bromq-dev/mqttwire/pkg/packet"
)

// options is the serve configuration. Values come from, in increasing priority, the
// defaults below, the config file, MQTTWIRE_* environment variables and flags.
type options struct {
	Addr    string
	WSAddr  string
	WSPath  string
	TLSAddr string
	TLSCert string
	TLSKey  string

	AdminAddr   string
	InspectAddr string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	MaxPacketSize  int

	JournalCapacity int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKeyPrefix  string

	RateLimit           int
	RequireCredentials  bool
	DenyWill            bool
	MaxKeepAlive        uint16
	RequireCleanSession bool

	StatsInterval time.Duration

	LogLevel  string
	LogFormat string
}

func newOptions() *options {
	return &options{
		Addr:            ":1883",
		WSAddr:          ":8083",
		WSPath:          "/mqtt",
		TLSAddr:         ":8883",
		AdminAddr:       ":8080",
		InspectAddr:     ":7947",
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxPacketSize:   packet.MaxPacketSize,
		JournalCapacity: 1000,
		RedisKeyPrefix:  "mqttwire:",
		StatsInterval:   time.Minute,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"addr":                  "addr",
	"ws-addr":               "ws.addr",
	"ws-path":               "ws.path",
	"tls-addr":              "tls.addr",
	"tls-cert":              "tls.cert",
	"tls-key":               "tls.key",
	"admin-addr":            "admin.addr",
	"inspect-addr":          "inspect.addr",
	"connect-timeout":       "connectTimeout",
	"write-timeout":         "writeTimeout",
	"max-connections":       "maxConnections",
	"max-packet-size":       "maxPacketSize",
	"journal-capacity":      "journal.capacity",
	"redis-addr":            "redis.addr",
	"redis-password":        "redis.password",
	"redis-db":              "redis.db",
	"redis-key-prefix":      "redis.keyPrefix",
	"rate-limit":            "policy.rateLimit",
	"require-credentials":   "policy.requireCredentials",
	"deny-will":             "policy.denyWill",
	"max-keep-alive":        "policy.maxKeepAlive",
	"require-clean-session": "policy.requireCleanSession",
	"stats-interval":        "statsInterval",
	"log-level":             "log.level",
	"log-format":            "log.format",
}

// addFlags registers the serve flags with the defaults from o.
func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.String("addr", o.Addr, "MQTT TCP listen address (empty disables)")
	fs.String("ws-addr", o.WSAddr, "WebSocket listen address (empty disables)")
	fs.String("ws-path", o.WSPath, "WebSocket URL path")
	fs.String("tls-addr", o.TLSAddr, "MQTT over TLS listen address (requires --tls-cert and --tls-key)")
	fs.String("tls-cert", o.TLSCert, "TLS certificate file")
	fs.String("tls-key", o.TLSKey, "TLS private key file")
	fs.String("admin-addr", o.AdminAddr, "admin HTTP address (empty disables)")
	fs.String("inspect-addr", o.InspectAddr, "inspector gRPC address (empty disables)")
	fs.Duration("connect-timeout", o.ConnectTimeout, "time allowed for CONNECT to arrive")
	fs.Duration("write-timeout", o.WriteTimeout, "write deadline for replies")
	fs.Int("max-connections", o.MaxConnections, "maximum concurrent connections (0 = unlimited)")
	fs.Int("max-packet-size", o.MaxPacketSize, "maximum accepted packet size in bytes")
	fs.Int("journal-capacity", o.JournalCapacity, "handshake journal capacity")
	fs.String("redis-addr", o.RedisAddr, "Redis address for the journal (empty keeps it in memory)")
	fs.String("redis-password", o.RedisPassword, "Redis password")
	fs.Int("redis-db", o.RedisDB, "Redis database")
	fs.String("redis-key-prefix", o.RedisKeyPrefix, "Redis key prefix")
	fs.Int("rate-limit", o.RateLimit, "handshakes per second per remote host (0 = unlimited)")
	fs.Bool("require-credentials", o.RequireCredentials, "reject CONNECT without username and password flags")
	fs.Bool("deny-will", o.DenyWill, "reject CONNECT announcing a will message")
	fs.Uint16("max-keep-alive", o.MaxKeepAlive, "maximum keep-alive in seconds (0 = unlimited)")
	fs.Bool("require-clean-session", o.RequireCleanSession, "reject persistent sessions")
	fs.Duration("stats-interval", o.StatsInterval, "interval between stats log lines (0 disables)")
}

// bindFlags binds flags to their config keys so set flags override file and env values.
func bindFlags(vp *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			vp.BindPFlag(key, f)
		}
	})
}

func newViper(cfgFile string) (*viper.Viper, error) {
	vp := viper.New()
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	vp.SetEnvPrefix("mqttwire")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp, nil
}

func (o *options) configureWithViper(vp *viper.Viper) {
	get := func(key string) bool { return vp.IsSet(key) }

	if get("addr") {
		o.Addr = vp.GetString("addr")
	}
	if get("ws.addr") {
		o.WSAddr = vp.GetString("ws.addr")
	}
	if get("ws.path") {
		o.WSPath = vp.GetString("ws.path")
	}
	if get("tls.addr") {
		o.TLSAddr = vp.GetString("tls.addr")
	}
	if get("tls.cert") {
		o.TLSCert = vp.GetString("tls.cert")
	}
	if get("tls.key") {
		o.TLSKey = vp.GetString("tls.key")
	}
	if get("admin.addr") {
		o.AdminAddr = vp.GetString("admin.addr")
	}
	if get("inspect.addr") {
		o.InspectAddr = vp.GetString("inspect.addr")
	}
	if get("connectTimeout") {
		o.ConnectTimeout = vp.GetDuration("connectTimeout")
	}
	if get("writeTimeout") {
		o.WriteTimeout = vp.GetDuration("writeTimeout")
	}
	if get("maxConnections") {
		o.MaxConnections = vp.GetInt("maxConnections")
	}
	if get("maxPacketSize") {
		o.MaxPacketSize = vp.GetInt("maxPacketSize")
	}
	if get("journal.capacity") {
		o.JournalCapacity = vp.GetInt("journal.capacity")
	}
	if get("redis.addr") {
		o.RedisAddr = vp.GetString("redis.addr")
	}
	if get("redis.password") {
		o.RedisPassword = vp.GetString("redis.password")
	}
	if get("redis.db") {
		o.RedisDB = vp.GetInt("redis.db")
	}
	if get("redis.keyPrefix") {
		o.RedisKeyPrefix = vp.GetString("redis.keyPrefix")
	}
	if get("policy.rateLimit") {
		o.RateLimit = vp.GetInt("policy.rateLimit")
	}
	if get("policy.requireCredentials") {
		o.RequireCredentials = vp.GetBool("policy.requireCredentials")
	}
	if get("policy.denyWill") {
		o.DenyWill = vp.GetBool("policy.denyWill")
	}
	if get("policy.maxKeepAlive") {
		o.MaxKeepAlive = vp.GetUint16("policy.maxKeepAlive")
	}
	if get("policy.requireCleanSession") {
		o.RequireCleanSession = vp.GetBool("policy.requireCleanSession")
	}
	if get("statsInterval") {
		o.StatsInterval = vp.GetDuration("statsInterval")
	}
	if get("log.level") {
		o.LogLevel = vp.GetString("log.level")
	}
	if get("log.format") {
		o.LogFormat = vp.GetString("log.format")
	}
}

// policyEnabled reports whether any CONNECT policy option is set.
func (o *options) policyEnabled() bool {
	return o.RequireCredentials || o.DenyWill || o.MaxKeepAlive > 0 || o.RequireCleanSession
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(logOutput, handlerOpts)
	} else {
		handler = slog.NewTextHandler(logOutput, handlerOpts)
	}
	return slog.New(handler)
}
