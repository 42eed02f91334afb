package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Query and settings endpoints (per IP)
	APIMax        int
	APIExpiration time.Duration

	// Manual inserts and exports touch the disk (per IP)
	WriteMax        int
	WriteExpiration time.Duration

	// Viewer connection attempts (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns defaults sized for a local viewer or two
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		APIMax:        300,
		APIExpiration: 1 * time.Minute,

		WriteMax:        60,
		WriteExpiration: 1 * time.Minute,

		// a reconnecting viewer backs off, so this only trips on misbehaving clients
		WebSocketMax:        30,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if n := positiveEnv("RATE_LIMIT_API"); n > 0 {
		config.APIMax = n
	}
	if n := positiveEnv("RATE_LIMIT_WRITE"); n > 0 {
		config.WriteMax = n
	}
	if n := positiveEnv("RATE_LIMIT_WEBSOCKET"); n > 0 {
		config.WebSocketMax = n
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.APIMax = 1000
		config.WebSocketMax = 100
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

func positiveEnv(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// APIRateLimiter limits the query surface
func APIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("api", config.APIMax, config.APIExpiration, "Too many requests. Please slow down.")
}

// WriteRateLimiter limits manual inserts and exports
func WriteRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("write", config.WriteMax, config.WriteExpiration, "Too many write requests. Please wait.")
}

// WebSocketRateLimiter limits viewer connection attempts
func WebSocketRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("ws", config.WebSocketMax, config.WebSocketExpiration, "Too many connection attempts. Please wait before reconnecting.")
}

func newLimiter(prefix string, max int, expiration time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return prefix + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] %s limit reached for IP: %s on %s", prefix, c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}
