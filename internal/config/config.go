package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	AppEnv           string
	ServerPort       string        // Порт HTTP API
	WSPort           string        // Порт WebSocket-сервера
	ChatCloseGrace   time.Duration // Окно после закрытия сделки, пока чат ещё доступен для записи
	DocNotifyChannel string        // Канал LISTEN/NOTIFY для подписок на документы
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "obmenka_user"),
		Password: getEnv("PGPASSWORD", "obmenka_pass"),
		Name:     getEnv("PGDATABASE", "obmenka"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	cfg := &Config{
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		AppEnv:           getEnv("APP_ENV", "production"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		WSPort:           getEnv("WS_PORT", "8081"),
		ChatCloseGrace:   getDurationEnv("CHAT_CLOSE_GRACE", 72*time.Hour),
		DocNotifyChannel: getEnv("DOC_NOTIFY_CHANNEL", "obmenka_doc_changes"),
	}

	if cfg.TelegramBotToken == "" || cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не заданы обязательные переменные окружения")
	}

	return cfg
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getDurationEnv получает переменную окружения как time.Duration
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Неверный формат %s=%q, используем значение по умолчанию %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
