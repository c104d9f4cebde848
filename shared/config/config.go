package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	JWTSecret        string
	JWTTTLHours      int
	JWTIssuer        string
	AdminEmail       string
	AdminPassword    string
	AdminName        string
	AdminSeedEnabled bool

	CORSAllowedOrigins []string
	LoginRateRPS       float64
	LoginRateBurst     int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	DBAutoMigrate    bool
	AuditEnabled     bool

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DirectoryCacheSec int
	RefreshLockTTLSec int

	AsynqRedisAddr     string
	AsynqRedisPass     string
	AsynqRedisDB       int
	AsynqQueue         string
	AsynqConcurrency   int
	AsynqEnabled       bool
	AutoRefreshEnabled bool
	AutoRefreshCron    string
	AutoRefreshHours   int

	ZoomAPIBaseURL    string
	ZoomOAuthURL      string
	ZoomHTTPTimeoutMS int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func defaults(serviceName string, httpPort int) Config {
	return Config{
		ServiceName:       serviceName,
		HTTPPort:          httpPort,
		LogLevel:          "info",
		RequestTimeoutMS:  60000,
		JWTTTLHours:       10,
		JWTIssuer:         "zcc-reporting",
		AdminEmail:        "admin@example.com",
		AdminPassword:     "admin123",
		AdminName:         "Administrator",
		AdminSeedEnabled:  true,
		LoginRateRPS:      1,
		LoginRateBurst:    5,
		DBMaxConns:        10,
		DBMinConns:        1,
		DBConnMaxIdleSec:  300,
		DBConnMaxLifeSec:  1800,
		DBAutoMigrate:     true,
		DirectoryCacheSec: 300,
		RefreshLockTTLSec: 600,
		AsynqQueue:        "default",
		AsynqConcurrency:  4,
		AutoRefreshCron:   "@every 1h",
		AutoRefreshHours:  24,
		ZoomAPIBaseURL:    "https://api.zoom.us/v2",
		ZoomOAuthURL:      "https://zoom.us/oauth/token",
		ZoomHTTPTimeoutMS: 30000,
		KafkaGroupID:      "zcc-reporting-cache",
		KafkaRetryMax:     5,
		KafkaWriteMS:      5000,
		InfluxTimeoutMS:   5000,
		OtelInsecure:      true,
		OtelSampleRatio:   1.0,
	}
}

// Load resolves configuration from defaults, an optional JSON file, a .env file and the
// process environment, in that order. Invalid values are reported as problems and fall
// back to their defaults so the service can still start and report itself unready.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	problems := make([]Problem, 0, 4)

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != "")
	problems = append(problems, fileProblems...)
	if ok {
		applyConfigMap(&cfg, fileData, &problems)
	}

	applyEnv(&cfg, &problems)
	validate(&cfg, httpPortDefault, &problems)
	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	def := defaults(cfg.ServiceName, httpPortDefault)
	report := func(field string, msg string) {
		*problems = append(*problems, Problem{Field: field, Message: msg})
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		report("HTTP_PORT", "HTTP_PORT must be 1-65535")
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		report("REQUEST_TIMEOUT_MS", "REQUEST_TIMEOUT_MS must be > 0")
		cfg.RequestTimeoutMS = def.RequestTimeoutMS
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		report("JWT_SECRET", "JWT_SECRET is required")
	}
	if cfg.JWTTTLHours <= 0 {
		report("JWT_TTL_HOURS", "JWT_TTL_HOURS must be > 0")
		cfg.JWTTTLHours = def.JWTTTLHours
	}
	if cfg.LoginRateRPS <= 0 {
		report("LOGIN_RATE_RPS", "LOGIN_RATE_RPS must be > 0")
		cfg.LoginRateRPS = def.LoginRateRPS
	}
	if cfg.LoginRateBurst <= 0 {
		report("LOGIN_RATE_BURST", "LOGIN_RATE_BURST must be > 0")
		cfg.LoginRateBurst = def.LoginRateBurst
	}
	if cfg.DBMaxConns <= 0 {
		report("DB_MAX_CONNS", "DB_MAX_CONNS must be > 0")
		cfg.DBMaxConns = def.DBMaxConns
	}
	if cfg.DBMinConns < 0 {
		report("DB_MIN_CONNS", "DB_MIN_CONNS must be >= 0")
		cfg.DBMinConns = def.DBMinConns
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		report("DB_MIN_CONNS", "DB_MIN_CONNS must be <= DB_MAX_CONNS")
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		report("DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_IDLE_SECONDS must be > 0")
		cfg.DBConnMaxIdleSec = def.DBConnMaxIdleSec
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		report("DB_CONN_MAX_LIFETIME_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS must be > 0")
		cfg.DBConnMaxLifeSec = def.DBConnMaxLifeSec
	}
	if cfg.RedisDB < 0 {
		report("REDIS_DB", "REDIS_DB must be >= 0")
		cfg.RedisDB = 0
	}
	if cfg.DirectoryCacheSec < 0 {
		report("DIRECTORY_CACHE_TTL_SECONDS", "DIRECTORY_CACHE_TTL_SECONDS must be >= 0")
		cfg.DirectoryCacheSec = def.DirectoryCacheSec
	}
	if cfg.RefreshLockTTLSec <= 0 {
		report("REFRESH_LOCK_TTL_SECONDS", "REFRESH_LOCK_TTL_SECONDS must be > 0")
		cfg.RefreshLockTTLSec = def.RefreshLockTTLSec
	}
	if cfg.AsynqRedisDB < 0 {
		report("ASYNQ_REDIS_DB", "ASYNQ_REDIS_DB must be >= 0")
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		report("ASYNQ_CONCURRENCY", "ASYNQ_CONCURRENCY must be > 0")
		cfg.AsynqConcurrency = def.AsynqConcurrency
	}
	if cfg.AsynqEnabled && cfg.AsynqRedisAddr == "" {
		cfg.AsynqRedisAddr = cfg.RedisAddr
	}
	if strings.TrimSpace(cfg.AutoRefreshCron) == "" {
		report("AUTO_REFRESH_CRON", "AUTO_REFRESH_CRON must not be empty")
		cfg.AutoRefreshCron = def.AutoRefreshCron
	}
	if cfg.AutoRefreshHours <= 0 {
		report("AUTO_REFRESH_LOOKBACK_HOURS", "AUTO_REFRESH_LOOKBACK_HOURS must be > 0")
		cfg.AutoRefreshHours = def.AutoRefreshHours
	}
	if cfg.ZoomHTTPTimeoutMS <= 0 {
		report("ZOOM_HTTP_TIMEOUT_MS", "ZOOM_HTTP_TIMEOUT_MS must be > 0")
		cfg.ZoomHTTPTimeoutMS = def.ZoomHTTPTimeoutMS
	}
	cfg.ZoomAPIBaseURL = strings.TrimRight(cfg.ZoomAPIBaseURL, "/")
	if cfg.KafkaRetryMax < 0 {
		report("KAFKA_RETRY_MAX", "KAFKA_RETRY_MAX must be >= 0")
		cfg.KafkaRetryMax = def.KafkaRetryMax
	}
	if cfg.KafkaWriteMS <= 0 {
		report("KAFKA_WRITE_TIMEOUT_MS", "KAFKA_WRITE_TIMEOUT_MS must be > 0")
		cfg.KafkaWriteMS = def.KafkaWriteMS
	}
	if cfg.InfluxTimeoutMS <= 0 {
		report("INFLUX_TIMEOUT_MS", "INFLUX_TIMEOUT_MS must be > 0")
		cfg.InfluxTimeoutMS = def.InfluxTimeoutMS
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		report("OTEL_SAMPLE_RATIO", "OTEL_SAMPLE_RATIO must be 0-1")
		cfg.OtelSampleRatio = 1.0
	}
}

// ZoomHTTPTimeout is the per-request deadline applied to every upstream call.
func (c Config) ZoomHTTPTimeout() time.Duration {
	return time.Duration(c.ZoomHTTPTimeoutMS) * time.Millisecond
}

func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func findRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 8; i++ {
		if fi, err := os.Stat(filepath.Join(dir, "configs")); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		if explicit {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

// source abstracts "a set of KEY -> value pairs" so the environment and a decoded
// JSON file are applied by the same table of bindings.
type source func(key string) (any, bool)

func envSource(key string) (any, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, false
	}
	return v, true
}

func mapSource(raw map[string]any) source {
	upper := make(map[string]any, len(raw))
	for k, v := range raw {
		upper[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return func(key string) (any, bool) {
		v, ok := upper[key]
		return v, ok && v != nil
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	// HTTP_PORT wins when both are set.
	if _, ok := envSource("HTTP_PORT"); !ok {
		bindInt(envSource, "PORT", &cfg.HTTPPort, problems)
	}
	apply(cfg, envSource, problems)
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	apply(cfg, mapSource(raw), problems)
}

func apply(cfg *Config, src source, problems *[]Problem) {
	bindString(src, "ENV", &cfg.Env)
	bindString(src, "SERVICE_NAME", &cfg.ServiceName)
	bindInt(src, "HTTP_PORT", &cfg.HTTPPort, problems)
	bindString(src, "LOG_LEVEL", &cfg.LogLevel)
	bindInt(src, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, problems)

	bindString(src, "JWT_SECRET", &cfg.JWTSecret)
	bindInt(src, "JWT_TTL_HOURS", &cfg.JWTTTLHours, problems)
	bindString(src, "JWT_ISSUER", &cfg.JWTIssuer)
	bindString(src, "ADMIN_EMAIL", &cfg.AdminEmail)
	bindString(src, "ADMIN_PASSWORD", &cfg.AdminPassword)
	bindString(src, "ADMIN_NAME", &cfg.AdminName)
	bindBool(src, "ADMIN_SEED_ENABLED", &cfg.AdminSeedEnabled, problems)

	bindCSV(src, "CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins)
	bindFloat(src, "LOGIN_RATE_RPS", &cfg.LoginRateRPS, problems)
	bindInt(src, "LOGIN_RATE_BURST", &cfg.LoginRateBurst, problems)

	bindString(src, "DATABASE_URL", &cfg.DatabaseURL)
	bindInt(src, "DB_MAX_CONNS", &cfg.DBMaxConns, problems)
	bindInt(src, "DB_MIN_CONNS", &cfg.DBMinConns, problems)
	bindInt(src, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, problems)
	bindInt(src, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, problems)
	bindBool(src, "DB_AUTO_MIGRATE", &cfg.DBAutoMigrate, problems)
	bindBool(src, "AUDIT_ENABLED", &cfg.AuditEnabled, problems)

	bindString(src, "REDIS_ADDR", &cfg.RedisAddr)
	bindString(src, "REDIS_PASSWORD", &cfg.RedisPassword)
	bindInt(src, "REDIS_DB", &cfg.RedisDB, problems)
	bindInt(src, "DIRECTORY_CACHE_TTL_SECONDS", &cfg.DirectoryCacheSec, problems)
	bindInt(src, "REFRESH_LOCK_TTL_SECONDS", &cfg.RefreshLockTTLSec, problems)

	bindString(src, "ASYNQ_REDIS_ADDR", &cfg.AsynqRedisAddr)
	bindString(src, "ASYNQ_REDIS_PASSWORD", &cfg.AsynqRedisPass)
	bindInt(src, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, problems)
	bindString(src, "ASYNQ_QUEUE", &cfg.AsynqQueue)
	bindInt(src, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, problems)
	bindBool(src, "ASYNQ_ENABLED", &cfg.AsynqEnabled, problems)
	bindBool(src, "AUTO_REFRESH_ENABLED", &cfg.AutoRefreshEnabled, problems)
	bindString(src, "AUTO_REFRESH_CRON", &cfg.AutoRefreshCron)
	bindInt(src, "AUTO_REFRESH_LOOKBACK_HOURS", &cfg.AutoRefreshHours, problems)

	bindString(src, "ZOOM_API_BASE_URL", &cfg.ZoomAPIBaseURL)
	bindString(src, "ZOOM_OAUTH_URL", &cfg.ZoomOAuthURL)
	bindInt(src, "ZOOM_HTTP_TIMEOUT_MS", &cfg.ZoomHTTPTimeoutMS, problems)

	bindCSV(src, "KAFKA_BROKERS", &cfg.KafkaBrokers)
	bindString(src, "KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	bindString(src, "KAFKA_CONSUMER_GROUP", &cfg.KafkaGroupID)
	bindInt(src, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, problems)
	bindInt(src, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, problems)

	bindString(src, "INFLUX_URL", &cfg.InfluxURL)
	bindString(src, "INFLUX_TOKEN", &cfg.InfluxToken)
	bindString(src, "INFLUX_ORG", &cfg.InfluxOrg)
	bindString(src, "INFLUX_BUCKET", &cfg.InfluxBucket)
	bindInt(src, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, problems)

	bindBool(src, "OTEL_ENABLED", &cfg.OtelEnabled, problems)
	bindString(src, "OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint)
	bindBool(src, "OTEL_INSECURE", &cfg.OtelInsecure, problems)
	bindFloat(src, "OTEL_SAMPLE_RATIO", &cfg.OtelSampleRatio, problems)
}

func bindString(src source, key string, dst *string) {
	v, ok := src(key)
	if !ok {
		return
	}
	if s, ok := v.(string); ok {
		*dst = strings.TrimSpace(s)
	}
}

func bindInt(src source, key string, dst *int, problems *[]Problem) {
	v, ok := src(key)
	if !ok {
		return
	}
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func bindFloat(src source, key string, dst *float64, problems *[]Problem) {
	v, ok := src(key)
	if !ok {
		return
	}
	f, ok := asFloat(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dst = f
}

func bindBool(src source, key string, dst *bool, problems *[]Problem) {
	v, ok := src(key)
	if !ok {
		return
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b, ok = t, true
	case string:
		b, ok = asBool(t)
	default:
		ok = false
	}
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*dst = b
}

func bindCSV(src source, key string, dst *[]string) {
	v, ok := src(key)
	if !ok {
		return
	}
	switch t := v.(type) {
	case string:
		*dst = parseCSV(t)
	case []any:
		*dst = parseAnyCSV(t)
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
