package config

import (
	"os"
	"strconv"
	"strings"
)

// mergeEnvVars overlays GROK2API_* environment variables on top of the file
// configuration. Environment always wins over file values.
func mergeEnvVars(cfg *FileConfig) {
	setString(&cfg.LogFile, "GROK2API_LOG_FILE")
	setString(&cfg.GrokBaseURL, "GROK2API_GROK_BASE_URL")
	setString(&cfg.GrokAuthURL, "GROK2API_GROK_AUTH_URL")
	setString(&cfg.ProxyURL, "GROK2API_PROXY_URL")
	setString(&cfg.PublicBaseURL, "GROK2API_PUBLIC_BASE_URL")
	setString(&cfg.UserAgent, "GROK2API_USER_AGENT")
	setString(&cfg.ManagementKey, "GROK2API_MANAGEMENT_KEY")
	setString(&cfg.ManagementKeyHash, "GROK2API_MANAGEMENT_KEY_HASH")
	setString(&cfg.StorageBackend, "GROK2API_STORAGE_BACKEND")
	setString(&cfg.SQLitePath, "GROK2API_SQLITE_PATH")
	setString(&cfg.PostgresDSN, "GROK2API_POSTGRES_DSN")
	setString(&cfg.RedisAddr, "GROK2API_REDIS_ADDR")
	setString(&cfg.RedisPassword, "GROK2API_REDIS_PASSWORD")
	setString(&cfg.RedisPrefix, "GROK2API_REDIS_PREFIX")
	setString(&cfg.MongoDBURI, "GROK2API_MONGODB_URI")
	setString(&cfg.MongoDatabase, "GROK2API_MONGODB_DATABASE")
	setString(&cfg.FilteredTags, "GROK2API_FILTERED_TAGS")

	setInt(&cfg.Port, "GROK2API_PORT")
	setInt(&cfg.RedisDB, "GROK2API_REDIS_DB")
	setInt(&cfg.FirstChunkTimeoutMs, "GROK2API_FIRST_CHUNK_TIMEOUT_MS")
	setInt(&cfg.ChunkTimeoutMs, "GROK2API_CHUNK_TIMEOUT_MS")
	setInt(&cfg.TotalTimeoutMs, "GROK2API_TOTAL_TIMEOUT_MS")
	setInt(&cfg.ConversationTTLHours, "GROK2API_CONVERSATION_TTL_HOURS")
	setInt(&cfg.ConversationKeepPerToken, "GROK2API_CONVERSATION_KEEP_PER_TOKEN")
	setInt(&cfg.CleanupIntervalMin, "GROK2API_CLEANUP_INTERVAL_MIN")
	setInt(&cfg.RateLimitRPS, "GROK2API_RATE_LIMIT_RPS")
	setInt(&cfg.RateLimitBurst, "GROK2API_RATE_LIMIT_BURST")

	setBool(&cfg.Debug, "GROK2API_DEBUG")
	setBool(&cfg.ShowThinking, "GROK2API_SHOW_THINKING")
	setBool(&cfg.ShowSearch, "GROK2API_SHOW_SEARCH")
	setBool(&cfg.VideoPosterPreview, "GROK2API_VIDEO_POSTER_PREVIEW")
	setBool(&cfg.RateLimitEnabled, "GROK2API_RATE_LIMIT_ENABLED")
	setBool(&cfg.RequestLog, "GROK2API_REQUEST_LOG")

	if v := strings.TrimSpace(os.Getenv("GROK2API_API_KEYS")); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.APIKeys = keys
	}
	if v := strings.TrimSpace(os.Getenv("GROK2API_COOKIES")); v != "" {
		var cookies []string
		// Cookies may contain commas inside values, so env uses "|" as separator.
		for _, ck := range strings.Split(v, "|") {
			if ck = strings.TrimSpace(ck); ck != "" {
				cookies = append(cookies, ck)
			}
		}
		cfg.Cookies = cookies
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
