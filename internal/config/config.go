package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	APIBaseURL     string
	APIToken       string
	PollInterval   time.Duration
	JWTSecret      string
	Operators      string
	DatabaseURL    string
	PrinterAddr    string
	RestaurantName string
	SoundCommand   string
	SoundRepeat    time.Duration
	SoundMax       time.Duration
	AdminURL       string
	OpenCommand    string
	AllowedOrigins []string
	Debug          bool
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080/api"),
		APIToken:       getEnv("API_TOKEN", ""),
		PollInterval:   getDuration("POLL_INTERVAL", 2500*time.Millisecond),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		Operators:      getEnv("OPERATORS", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		PrinterAddr:    getEnv("PRINTER_ADDR", ""),
		RestaurantName: getEnv("RESTAURANT_NAME", "Kiwari"),
		SoundCommand:   getEnv("SOUND_COMMAND", ""),
		SoundRepeat:    getDuration("SOUND_REPEAT", 3*time.Second),
		SoundMax:       getDuration("SOUND_MAX", 5*time.Minute),
		AdminURL:       getEnv("ADMIN_URL", "http://localhost:5173"),
		OpenCommand:    getEnv("OPEN_COMMAND", "xdg-open"),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		Debug:          getBool("DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go durations ("2.5s") or plain milliseconds ("2500").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
