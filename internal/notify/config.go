package notify

import (
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

const (
	defaultServer   = "https://ntfy.sh"
	defaultPriority = "high"
)

var (
	defaultTags = []string{"rotating_light"}
	priorities  = []string{"min", "low", "default", "high", "urgent"}
)

// Config selects where refresh failure alerts are published. Alerts are sent
// once per failure streak, so the priority defaults to high.
type Config struct {
	Enabled  bool
	Server   string   // ntfy base URL
	Topic    string   // topic that receives the alerts
	Priority string   // ntfy priority of every alert
	Tags     []string // ntfy tags; the failure marker is always appended
	Token    string   // bearer token for protected topics
}

// LoadConfig reads the NTFY_* environment. NTFY_TAGS is comma separated.
func LoadConfig() *Config {
	cfg := &Config{
		Enabled:  envBool("NTFY_ENABLED"),
		Server:   envOr("NTFY_SERVER", defaultServer),
		Topic:    os.Getenv("NTFY_TOPIC"),
		Priority: strings.ToLower(envOr("NTFY_PRIORITY", defaultPriority)),
		Tags:     defaultTags,
		Token:    os.Getenv("NTFY_TOKEN"),
	}
	if raw := os.Getenv("NTFY_TAGS"); raw != "" {
		cfg.Tags = splitTags(raw)
	}
	return cfg
}

// Validate only checks an enabled config; a disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Topic == "" {
		return errors.WithHint(errors.New("NTFY_TOPIC is required when alerts are enabled"),
			"set NTFY_TOPIC or unset NTFY_ENABLED")
	}
	if u, err := url.Parse(c.Server); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("invalid NTFY_SERVER %q", c.Server)
	}
	if !slices.Contains(priorities, c.Priority) {
		return errors.Newf("invalid NTFY_PRIORITY: %s (valid: %s)", c.Priority, strings.Join(priorities, ", "))
	}
	return nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
