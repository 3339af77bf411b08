package config

// FileConfig represents the configuration loaded from file.
type FileConfig struct {
	// Server settings
	Port    int    `yaml:"port" json:"port"`
	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`

	// Auth settings
	APIKeys           []string `yaml:"api_keys" json:"api_keys"`
	ManagementKey     string   `yaml:"management_key" json:"management_key"`
	ManagementKeyHash string   `yaml:"management_key_hash" json:"management_key_hash"`

	// Upstream settings
	GrokBaseURL   string   `yaml:"grok_base_url" json:"grok_base_url"`
	GrokAuthURL   string   `yaml:"grok_auth_url" json:"grok_auth_url"`
	Cookies       []string `yaml:"cookies" json:"cookies"`
	ProxyURL      string   `yaml:"proxy_url" json:"proxy_url"`
	PublicBaseURL string   `yaml:"public_base_url" json:"public_base_url"`
	UserAgent     string   `yaml:"user_agent" json:"user_agent"`

	// Streaming behavior
	ShowThinking        bool   `yaml:"show_thinking" json:"show_thinking"`
	ShowSearch          bool   `yaml:"show_search" json:"show_search"`
	FilteredTags        string `yaml:"filtered_tags" json:"filtered_tags"`
	VideoPosterPreview  bool   `yaml:"video_poster_preview" json:"video_poster_preview"`
	FirstChunkTimeoutMs int    `yaml:"first_chunk_timeout_ms" json:"first_chunk_timeout_ms"`
	ChunkTimeoutMs      int    `yaml:"chunk_timeout_ms" json:"chunk_timeout_ms"`
	TotalTimeoutMs      int    `yaml:"total_timeout_ms" json:"total_timeout_ms"`

	// Conversation store
	StorageBackend           string `yaml:"storage_backend" json:"storage_backend"`
	SQLitePath               string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN              string `yaml:"postgres_dsn" json:"postgres_dsn"`
	RedisAddr                string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword            string `yaml:"redis_password" json:"redis_password"`
	RedisDB                  int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix              string `yaml:"redis_prefix" json:"redis_prefix"`
	MongoDBURI               string `yaml:"mongodb_uri" json:"mongodb_uri"`
	MongoDatabase            string `yaml:"mongodb_database" json:"mongodb_database"`
	ConversationTTLHours     int    `yaml:"conversation_ttl_hours" json:"conversation_ttl_hours"`
	ConversationKeepPerToken int    `yaml:"conversation_keep_per_token" json:"conversation_keep_per_token"`
	CleanupIntervalMin       int    `yaml:"cleanup_interval_min" json:"cleanup_interval_min"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	// Misc
	RequestLog bool `yaml:"request_log" json:"request_log"`
}
