package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	Models ModelConfig
	Cache  CacheConfig
	Store  StoreConfig
	Feed   FeedConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	Enabled            bool
}

type ModelConfig struct {
	BaseURL     string // origin serving schema.json and model artifacts
	OnnxLibPath string // path to the onnxruntime shared library
	WarmupModel string // the heaviest model, loaded eagerly at idle
}

type CacheConfig struct {
	RoadCapacity  int
	PlaceCapacity int
	SubBatchSize  int
}

type StoreConfig struct {
	Backend  string // "bolt" or "redis"
	BoltPath string
	RedisURL string
}

type FeedConfig struct {
	OverpassURL    string
	TimeoutSeconds int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/inference.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			Enabled:            getEnvAsBool("INFERENCE_ENABLED", true),
		},
		Models: ModelConfig{
			BaseURL:     getEnv("MODEL_BASE_URL", "http://localhost:3000/models"),
			OnnxLibPath: getEnv("ONNX_LIB_PATH", ""),
			WarmupModel: getEnv("WARMUP_MODEL", "surface"),
		},
		Cache: CacheConfig{
			RoadCapacity:  getEnvAsInt("CACHE_ROAD_CAPACITY", 50000),
			PlaceCapacity: getEnvAsInt("CACHE_PLACE_CAPACITY", 5000),
			SubBatchSize:  getEnvAsInt("INFERENCE_SUB_BATCH_SIZE", 100),
		},
		Store: StoreConfig{
			Backend:  getEnv("STORE_BACKEND", "bolt"),
			BoltPath: getEnv("STORE_BOLT_PATH", "data/abilico-onnx-models.db"),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Feed: FeedConfig{
			OverpassURL:    getEnv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
			TimeoutSeconds: getEnvAsInt("OVERPASS_TIMEOUT_SECONDS", 60),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
