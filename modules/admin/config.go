package admin

// Config carries the admin API settings. An empty key list disables the
// admin surface entirely.
type Config struct {
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}
