package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// KeyStore backends supported for rotated token secrets.
const (
	KeyStoreMemory = "memory"
	KeyStoreRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Presence  PresenceConfig
	Artifacts ArtifactsConfig
	Geofence  GeofenceConfig
	Tracing   TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PresenceConfig tunes token rotation, attendance windows and the acceptance policy.
type PresenceConfig struct {
	RotationInterval  time.Duration
	GraceWindow       time.Duration
	WindowPreBuffer   time.Duration
	WindowPostBuffer  time.Duration
	PassThreshold     float64
	TokenSecret       string
	KeyRetention      time.Duration
	KeyStoreBackend   string
	ProfileCacheTTL   time.Duration
	ProfileCacheOn    bool
	ResumeOnStartup   bool
	MaxSessionRuntime time.Duration
}

// ArtifactsConfig controls rendering and download of the scannable token image.
type ArtifactsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	RenderWorkers   int
	RenderRetries   int
	ImageSize       int
	CleanupInterval time.Duration
}

// GeofenceConfig wires the optional MQTT enter/exit event feed.
type GeofenceConfig struct {
	Enabled  bool
	Broker   string
	Topic    string
	ClientID string
	QoS      int
	StateTTL time.Duration
}

// TracingConfig configures the OTLP trace exporter. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("PRESENCE_KEYSTORE")))
	if backend != KeyStoreRedis {
		backend = KeyStoreMemory
	}
	threshold := v.GetFloat64("PRESENCE_PASS_THRESHOLD")
	if threshold < 0 || threshold > 100 {
		threshold = 60
	}
	cfg.Presence = PresenceConfig{
		RotationInterval:  parseDuration(v.GetString("PRESENCE_ROTATION_INTERVAL"), 5*time.Second),
		GraceWindow:       parseDuration(v.GetString("PRESENCE_GRACE_WINDOW"), 2*time.Second),
		WindowPreBuffer:   parseDuration(v.GetString("PRESENCE_WINDOW_PRE_BUFFER"), 10*time.Minute),
		WindowPostBuffer:  parseDuration(v.GetString("PRESENCE_WINDOW_POST_BUFFER"), 15*time.Minute),
		PassThreshold:     threshold,
		TokenSecret:       v.GetString("PRESENCE_TOKEN_SECRET"),
		KeyRetention:      parseDuration(v.GetString("PRESENCE_KEY_RETENTION"), 10*time.Minute),
		KeyStoreBackend:   backend,
		ProfileCacheTTL:   parseDuration(v.GetString("PRESENCE_PROFILE_CACHE_TTL"), 5*time.Minute),
		ProfileCacheOn:    v.GetBool("PRESENCE_PROFILE_CACHE"),
		ResumeOnStartup:   v.GetBool("PRESENCE_RESUME_ON_STARTUP"),
		MaxSessionRuntime: parseDuration(v.GetString("PRESENCE_MAX_SESSION_RUNTIME"), 12*time.Hour),
	}

	cfg.Artifacts = ArtifactsConfig{
		Enabled:         v.GetBool("ENABLE_ARTIFACTS"),
		StorageDir:      v.GetString("ARTIFACTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("ARTIFACTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("ARTIFACTS_SIGNED_URL_TTL"), 30*time.Second),
		RenderWorkers:   v.GetInt("ARTIFACTS_RENDER_WORKERS"),
		RenderRetries:   v.GetInt("ARTIFACTS_RENDER_RETRIES"),
		ImageSize:       v.GetInt("ARTIFACTS_IMAGE_SIZE"),
		CleanupInterval: parseDuration(v.GetString("ARTIFACTS_CLEANUP_INTERVAL"), 10*time.Minute),
	}

	cfg.Geofence = GeofenceConfig{
		Enabled:  v.GetBool("ENABLE_GEOFENCE_EVENTS"),
		Broker:   v.GetString("GEOFENCE_MQTT_BROKER"),
		Topic:    v.GetString("GEOFENCE_MQTT_TOPIC"),
		ClientID: v.GetString("GEOFENCE_MQTT_CLIENT_ID"),
		QoS:      v.GetInt("GEOFENCE_MQTT_QOS"),
		StateTTL: parseDuration(v.GetString("GEOFENCE_STATE_TTL"), 4*time.Hour),
	}

	cfg.Tracing = TracingConfig{
		Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: v.GetString("OTEL_SERVICE_NAME"),
		Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_presence")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PRESENCE_ROTATION_INTERVAL", "5s")
	v.SetDefault("PRESENCE_GRACE_WINDOW", "2s")
	v.SetDefault("PRESENCE_WINDOW_PRE_BUFFER", "10m")
	v.SetDefault("PRESENCE_WINDOW_POST_BUFFER", "15m")
	v.SetDefault("PRESENCE_PASS_THRESHOLD", 60)
	v.SetDefault("PRESENCE_TOKEN_SECRET", "dev_presence_secret")
	v.SetDefault("PRESENCE_KEY_RETENTION", "10m")
	v.SetDefault("PRESENCE_KEYSTORE", KeyStoreMemory)
	v.SetDefault("PRESENCE_PROFILE_CACHE_TTL", "5m")
	v.SetDefault("PRESENCE_PROFILE_CACHE", true)
	v.SetDefault("PRESENCE_RESUME_ON_STARTUP", true)
	v.SetDefault("PRESENCE_MAX_SESSION_RUNTIME", "12h")

	v.SetDefault("ENABLE_ARTIFACTS", true)
	v.SetDefault("ARTIFACTS_STORAGE_DIR", "./artifacts")
	v.SetDefault("ARTIFACTS_SIGNED_URL_SECRET", "dev_artifacts_secret")
	v.SetDefault("ARTIFACTS_SIGNED_URL_TTL", "30s")
	v.SetDefault("ARTIFACTS_RENDER_WORKERS", 2)
	v.SetDefault("ARTIFACTS_RENDER_RETRIES", 1)
	v.SetDefault("ARTIFACTS_IMAGE_SIZE", 320)
	v.SetDefault("ARTIFACTS_CLEANUP_INTERVAL", "10m")

	v.SetDefault("ENABLE_GEOFENCE_EVENTS", false)
	v.SetDefault("GEOFENCE_MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("GEOFENCE_MQTT_TOPIC", "geofence/+/events")
	v.SetDefault("GEOFENCE_MQTT_CLIENT_ID", "sma-presence-api")
	v.SetDefault("GEOFENCE_MQTT_QOS", 1)
	v.SetDefault("GEOFENCE_STATE_TTL", "4h")

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "sma-presence-api")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
