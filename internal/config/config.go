// internal/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// DB
	DBDriver          string // postgres | sqlite | mongo
	DBURL             string // full DSN / URI; built from the parts below when empty
	DBHost            string
	DBPort            string
	DBUser            string
	DBPass            string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnectTimeout  time.Duration
	DBQueryTimeout    time.Duration

	// Sync
	SourceURL          string // upstream table source for scheduled pulls
	SyncTables         []string
	SyncCron           string
	SyncConcurrency    int
	SyncOrderedDefault bool
	SyncOrderedTables  map[string]bool
	SyncBackupBefore   bool
	SyncBackupAfter    bool

	// Backup
	BackupStore       string // fs | r2 | table
	BackupDir         string
	BackupIncludeData bool
	BackupRetention   int
	BackupCron        string

	// R2 Storage
	R2AccountID       string
	R2Endpoint        string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string
	R2Prefix          string

	// SMTP alerts (optional)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	SMTPFromName string
	AlertTo      string

	// Auth
	ServiceExpectedToken string

	// CORS
	AllowedOrigins string
}

func Load() *Config {
	if os.Getenv("ENV") != "production" {
		_ = godotenv.Load() // optional .env for local
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	smtpPort := 0
	if raw := os.Getenv("SMTP_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatalf("❌ Invalid SMTP_PORT: %v", err)
		}
		smtpPort = p
	}

	return &Config{
		ServerPort: port,

		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBURL:             os.Getenv("DB_URL"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPass:            getEnv("DB_PASS", "postgres"),
		DBName:            getEnv("DB_NAME", "sync_db"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		DBConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		DBQueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),

		SourceURL:          os.Getenv("SOURCE_URL"),
		SyncTables:         parseList(os.Getenv("SYNC_TABLES")),
		SyncCron:           os.Getenv("SYNC_CRON"),
		SyncConcurrency:    getEnvInt("SYNC_CONCURRENCY", 4),
		SyncOrderedDefault: getEnvBool("SYNC_ORDERED_DEFAULT", false),
		SyncOrderedTables:  parseTableSet(os.Getenv("SYNC_ORDERED_TABLES")),
		SyncBackupBefore:   getEnvBool("SYNC_BACKUP_BEFORE", false),
		SyncBackupAfter:    getEnvBool("SYNC_BACKUP_AFTER", false),

		BackupStore:       strings.ToLower(getEnv("BACKUP_STORE", "fs")),
		BackupDir:         getEnv("BACKUP_DIR", "./backups"),
		BackupIncludeData: getEnvBool("BACKUP_INCLUDE_DATA", true),
		BackupRetention:   getEnvInt("BACKUP_RETENTION", 0),
		BackupCron:        os.Getenv("BACKUP_CRON"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2Endpoint:        os.Getenv("R2_ENDPOINT"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2Prefix:          getEnv("R2_PREFIX", "sync-backups"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     smtpPort,
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPass:     os.Getenv("SMTP_PASS"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Sync Service"),
		AlertTo:      os.Getenv("ALERT_TO"),

		ServiceExpectedToken: getEnv("SERVICE_TOKEN", "your-secret-service-token"),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
	}
}

// OrderedFor reports whether row order is significant for the given table.
func (c *Config) OrderedFor(table string) bool {
	if v, ok := c.SyncOrderedTables[table]; ok {
		return v
	}
	return c.SyncOrderedDefault
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("❌ Invalid %s: %v", key, err)
	}
	return v
}

// parseTableSet turns "orders,-events,items" into {orders:true, events:false, items:true}.
// A leading "-" explicitly marks a table as order-insensitive.
func parseTableSet(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "-") {
			out[strings.TrimPrefix(name, "-")] = false
			continue
		}
		out[name] = true
	}
	return out
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
