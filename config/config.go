package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

const (
	defaultDescribeQueueSize  = 200
	defaultNumDescribeWorkers = 4
	defaultMaxModelCalls      = 4
	defaultModelMaxAttempts   = 3
	defaultFrontAngleDeg      = 30.0
	defaultInitialLocation    = `{"lat": 35.62414166666667, "lng": 139.77542222222223, "floor": 1}`
)

type InitialLocation struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Floor int     `json:"floor"`
}

type Config struct {
	// database path
	DatabasePath string

	// remote access key and UI login credentials
	APIKey    string
	JWTSecret string
	Usernames []string
	Passwords []string

	// default map center handed to the UI collaborator
	InitialLocation InitialLocation

	// model backend selection
	LLMAgent     string // empty or "openai", or "ollama"
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaHost   string
	AgentVLM     string
	AgentLLM     string

	// synthesis settings
	MaxModelCalls    int
	ModelMaxAttempts int
	FrontAngleDeg    float64
	UsePastExplain   bool

	// describe worker settings
	DescribeQueueSize  int
	NumDescribeWorkers int
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %v. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func LoadConfig() (Config, error) {
	cfg := Config{
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "geo_images.db"),

		APIKey:    os.Getenv("API_KEY"),
		JWTSecret: getEnvOrDefault("JWT_SECRET", os.Getenv("API_KEY")),
		Usernames: splitCSV(os.Getenv("USERNAMES")),
		Passwords: splitCSV(os.Getenv("PASSWORDS")),

		LLMAgent:     getEnvOrDefault("LLM_AGENT", "openai"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		OllamaHost:   getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		AgentVLM:     os.Getenv("AGENT_VLM"),
		AgentLLM:     os.Getenv("AGENT_LLM"),

		MaxModelCalls:    getEnvIntOrDefault("MAX_MODEL_CALLS", defaultMaxModelCalls),
		ModelMaxAttempts: getEnvIntOrDefault("MODEL_MAX_ATTEMPTS", defaultModelMaxAttempts),
		FrontAngleDeg:    getEnvFloatOrDefault("FRONT_ANGLE_DEG", defaultFrontAngleDeg),
		UsePastExplain:   getEnvOrDefault("USE_PAST_EXPLANATIONS", "false") == "true",

		DescribeQueueSize:  getEnvIntOrDefault("DESCRIBE_QUEUE_SIZE", defaultDescribeQueueSize),
		NumDescribeWorkers: getEnvIntOrDefault("NUM_DESCRIBE_WORKERS", defaultNumDescribeWorkers),
	}

	if len(cfg.Usernames) != len(cfg.Passwords) {
		log.Printf("Warning: USERNAMES and PASSWORDS have different lengths; login disabled")
		cfg.Usernames = nil
		cfg.Passwords = nil
	}

	initialLocation := getEnvOrDefault("INITIAL_LOCATION", defaultInitialLocation)
	if err := json.Unmarshal([]byte(initialLocation), &cfg.InitialLocation); err != nil {
		log.Printf("Warning: Invalid INITIAL_LOCATION '%s': %v. Using default.", initialLocation, err)
		_ = json.Unmarshal([]byte(defaultInitialLocation), &cfg.InitialLocation)
	}

	return cfg, nil
}
