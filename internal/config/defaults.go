package config

// applyDefaults fills zero-valued fields with sane defaults.
func applyDefaults(cfg *FileConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8180
	}
	if cfg.GrokBaseURL == "" {
		cfg.GrokBaseURL = "https://grok.com"
	}
	if cfg.GrokAuthURL == "" {
		cfg.GrokAuthURL = "https://accounts.x.ai"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	}
	if cfg.FirstChunkTimeoutMs == 0 {
		cfg.FirstChunkTimeoutMs = 30000
	}
	if cfg.ChunkTimeoutMs == 0 {
		cfg.ChunkTimeoutMs = 60000
	}
	if cfg.TotalTimeoutMs == 0 {
		cfg.TotalTimeoutMs = 300000
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "sqlite"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/grok2api.db"
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "grok2api:"
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "grok2api"
	}
	if cfg.ConversationTTLHours == 0 {
		cfg.ConversationTTLHours = 72
	}
	if cfg.ConversationKeepPerToken == 0 {
		cfg.ConversationKeepPerToken = 100
	}
	if cfg.CleanupIntervalMin == 0 {
		cfg.CleanupIntervalMin = 30
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.FilteredTags == "" {
		cfg.FilteredTags = "xaiartifact,xai:tool_usage_card,grok:render,details,summary"
	}
}
