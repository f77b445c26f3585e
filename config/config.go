package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 从环境变量加载的应用配置
type Config struct {
	Env        string
	Port       int
	InstanceID string
	LogDir     string

	UploadDir        string
	MaxContentLength int64
	MaxImageSide     int

	Workers         int
	RemoveTimeout   time.Duration
	GenerateTimeout time.Duration

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	RateLimit  int
	RateWindow time.Duration

	UploadSweepSchedule string
	UploadMaxAge        time.Duration

	RembgBackend      string
	ModelDir          string
	ModelURL          string
	ModelMD5          string
	ModelFetchTimeout time.Duration
	ONNXRuntimeLib    string
	RembgURL          string
	ComfyUIURL        string
	ComfyUIWorkflow   string

	Generator GeneratorConfig
}

// GeneratorConfig 浏览器自动化生成图片的页面和选择器
type GeneratorConfig struct {
	URL            string
	PromptSelector string
	SubmitSelector string
	ResultSelector string
	ImageMatch     string
	ChromePath     string
	Headless       bool
}

// Enabled 没有配置页面地址时不启用生成
func (g GeneratorConfig) Enabled() bool {
	return g.URL != ""
}

const (
	defaultEnv        = "development"
	defaultPort       = 5001
	defaultInstanceID = "0"
	defaultLogDir     = "/var/log/imageapp"

	defaultUploadDir        = "/tmp/image_uploads"
	defaultMaxContentLength = 16 * 1024 * 1024
	defaultMaxImageSide     = 4096

	defaultWorkers         = 4
	defaultRemoveTimeout   = 30 * time.Second
	defaultGenerateTimeout = 60 * time.Second

	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second

	defaultRateLimit  = 60
	defaultRateWindow = time.Minute

	defaultUploadSweepSchedule = "@every 10m"
	defaultUploadMaxAge        = time.Hour

	defaultRembgBackend      = "onnx"
	defaultModelFetchTimeout = 10 * time.Minute

	defaultPromptSelector = "textarea"
	defaultSubmitSelector = "button[type=submit]"
	defaultResultSelector = "img.result"
)

// Load 先读取 .env（不存在时忽略），再从环境变量加载
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv 只读当前环境变量
func FromEnv() (Config, error) {
	cfg := Config{
		Env:        getEnv("APP_ENV", defaultEnv),
		Port:       getInt("PORT", defaultPort),
		InstanceID: getEnv("INSTANCE_ID", defaultInstanceID),
		LogDir:     getEnvAllowEmpty("LOG_DIR", defaultLogDir),

		UploadDir:        getEnv("TEMP_UPLOAD_DIR", defaultUploadDir),
		MaxContentLength: int64(getInt("MAX_CONTENT_LENGTH", defaultMaxContentLength)),
		MaxImageSide:     getInt("MAX_IMAGE_SIDE", defaultMaxImageSide),

		Workers:         getInt("WORKERS", defaultWorkers),
		RemoveTimeout:   getDuration("REMOVE_TIMEOUT", defaultRemoveTimeout),
		GenerateTimeout: getDuration("GENERATE_TIMEOUT", defaultGenerateTimeout),

		ReadHeaderTimeout: getDuration("READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),

		RateLimit:  getInt("RATE_LIMIT", defaultRateLimit),
		RateWindow: getDuration("RATE_WINDOW", defaultRateWindow),

		UploadSweepSchedule: getEnv("UPLOAD_SWEEP_SCHEDULE", defaultUploadSweepSchedule),
		UploadMaxAge:        getDuration("UPLOAD_MAX_AGE", defaultUploadMaxAge),

		RembgBackend:      strings.ToLower(getEnv("REMBG_BACKEND", defaultRembgBackend)),
		ModelDir:          os.Getenv("U2NET_HOME"),
		ModelURL:          os.Getenv("U2NET_MODEL_URL"),
		ModelMD5:          os.Getenv("U2NET_MODEL_MD5"),
		ModelFetchTimeout: getDuration("MODEL_FETCH_TIMEOUT", defaultModelFetchTimeout),
		ONNXRuntimeLib:    os.Getenv("ONNXRUNTIME_LIB"),
		RembgURL:          os.Getenv("REMBG_URL"),
		ComfyUIURL:        os.Getenv("COMFYUI_URL"),
		ComfyUIWorkflow:   os.Getenv("COMFYUI_WORKFLOW"),

		Generator: GeneratorConfig{
			URL:            os.Getenv("GENERATOR_URL"),
			PromptSelector: getEnv("GENERATOR_PROMPT_SELECTOR", defaultPromptSelector),
			SubmitSelector: getEnv("GENERATOR_SUBMIT_SELECTOR", defaultSubmitSelector),
			ResultSelector: getEnv("GENERATOR_RESULT_SELECTOR", defaultResultSelector),
			ImageMatch:     os.Getenv("GENERATOR_IMAGE_MATCH"),
			ChromePath:     os.Getenv("CHROME_PATH"),
			Headless:       getBool("HEADLESS", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.RembgBackend {
	case "onnx":
		// no-op
	case "rembg":
		if c.RembgURL == "" {
			return fmt.Errorf("REMBG_URL is required when REMBG_BACKEND=rembg")
		}
	case "comfyui":
		if c.ComfyUIURL == "" {
			return fmt.Errorf("COMFYUI_URL is required when REMBG_BACKEND=comfyui")
		}
	default:
		return fmt.Errorf("unknown REMBG_BACKEND value: %s", c.RembgBackend)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT and RATE_WINDOW must be positive")
	}
	if c.ModelFetchTimeout <= 0 {
		return fmt.Errorf("MODEL_FETCH_TIMEOUT must be positive, got %s", c.ModelFetchTimeout)
	}
	return nil
}

// Addr HTTP 监听地址
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key string, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvAllowEmpty 只有未设置时才用默认值，显式设为空可关闭对应功能
func getEnvAllowEmpty(key string, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
