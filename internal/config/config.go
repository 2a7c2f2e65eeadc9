package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DBDSN       string
	JWTIssuer   string
	JWTSecret   string
	JWTTTL      time.Duration
	// AdminPassword seeds the demo-mode admin account. Production admins
	// are provisioned in admin_users directly.
	AdminPassword string
	Mode          string
	FeedWSURL     string
	FeedHTTPURL   string
	FeedSymbols   []string

	SweepInterval     time.Duration
	StopOutInterval   time.Duration
	SwapHourUTC       int
	CommissionHourUTC int
}

// Load reads configuration from the environment. DB_DSN is optional: demo
// mode runs on the in-memory store.
func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		c.JWTTTL = 24 * time.Hour
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	if c.Mode == "" {
		c.Mode = "demo"
	}
	if c.Mode != "demo" && c.Mode != "production" {
		return c, errors.New("invalid APP_MODE: use demo or production")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.Mode == "production" && c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	if c.Mode == "demo" && c.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	c.FeedWSURL = os.Getenv("FEED_WS_URL")
	c.FeedHTTPURL = os.Getenv("FEED_HTTP_URL")
	symbols := os.Getenv("FEED_SYMBOLS")
	if symbols == "" {
		symbols = "EURUSD,GBPUSD,USDJPY,XAUUSD,BTCUSD,ETHUSD"
	}
	for _, s := range strings.Split(symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			c.FeedSymbols = append(c.FeedSymbols, s)
		}
	}
	c.SweepInterval = envDuration("SWEEP_INTERVAL", time.Second)
	c.StopOutInterval = envDuration("STOPOUT_INTERVAL", 2*time.Second)
	c.SwapHourUTC = 22
	c.CommissionHourUTC = 0
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
