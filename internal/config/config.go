// Package config loads the service configuration: built-in defaults, an
// optional YAML file named by KEKIAI_CONFIG, then environment overrides.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomadcafe/kekiai-japaneseai/internal/gcp"
)

const configPathEnv = "KEKIAI_CONFIG"

// Config holds every setting the services need.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Store     StoreConfig     `yaml:"store"`
	LLM       LLMConfig       `yaml:"llm"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	TTS       TTSConfig       `yaml:"tts"`
	Video     VideoConfig     `yaml:"video"`
	Tasks     TasksConfig     `yaml:"tasks"`
	NATS      NATSConfig      `yaml:"nats"`
	GCP       GCPConfig       `yaml:"gcp"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	MaxUploadMB    int64    `yaml:"maxUploadMb"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// PublicBaseURL is where the upload trigger reaches the API.
	PublicBaseURL string `yaml:"publicBaseUrl"`
}

type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// StoreConfig selects the job record backend: memory, firestore or postgres.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"defaultProvider"`
	Temperature     float64                   `yaml:"temperature"`
	MaxTokens       int                       `yaml:"maxTokens"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	// Requests per provider call before giving up.
	MaxRetries int `yaml:"maxRetries"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

type DialogueConfig struct {
	MaxRetries         int           `yaml:"maxRetries"`
	RetryDelay         time.Duration `yaml:"retryDelay"`
	WeightedImportance bool          `yaml:"weightedImportance"`
	DefaultDuration    int           `yaml:"defaultDurationMinutes"`
}

type TTSConfig struct {
	URL         string        `yaml:"url"`
	Workers     int           `yaml:"workers"`
	Timeout     time.Duration `yaml:"timeout"`
	VoicesFile  string        `yaml:"voicesFile"`
	PostProcess bool          `yaml:"postProcess"`
	SampleRate  int           `yaml:"sampleRate"`
}

type VideoConfig struct {
	FFmpegPath  string `yaml:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath"`
	BGMPath     string `yaml:"bgmPath"`
	BGMDir      string `yaml:"bgmDir"`
	DPI         int    `yaml:"dpi"`
}

type TasksConfig struct {
	Workers int `yaml:"workers"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
	ObjectBucket  string `yaml:"objectBucket"`
}

type GCPConfig struct {
	ProjectID        string `yaml:"projectId"`
	VertexRegion     string `yaml:"vertexRegion"`
	ResultsBucket    string `yaml:"resultsBucket"`
	WorkflowID       string `yaml:"workflowId"`
	WorkflowLocation string `yaml:"workflowLocation"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := ReadFile(path)
		if err != nil {
			slog.Warn("config: falling back to defaults", "path", path, "error", err)
		} else {
			cfg = merge(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// ReadFile parses a YAML config file without applying defaults.
func ReadFile(path string) (Config, error) {
	var fileCfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileCfg, err
	}
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fileCfg, err
	}
	return fileCfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadMB:    100,
			AllowedOrigins: []string{"*"},
			PublicBaseURL:  "http://localhost:8080",
		},
		Workspace: WorkspaceConfig{Root: "./workspace"},
		Store:     StoreConfig{Driver: "memory", Collection: "jobs"},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Temperature:     0.7,
			MaxTokens:       4000,
			MaxRetries:      3,
			Providers: map[string]ProviderConfig{
				"openai":   {Model: "gpt-4o", BaseURL: "https://api.openai.com/v1"},
				"deepseek": {Model: "deepseek-chat", BaseURL: "https://api.deepseek.com"},
				"claude":   {Model: "claude-3-5-sonnet-latest", BaseURL: "https://api.anthropic.com"},
				"gemini":   {Model: "gemini-2.0-flash"},
			},
		},
		Dialogue: DialogueConfig{
			MaxRetries:      3,
			RetryDelay:      2 * time.Second,
			DefaultDuration: 10,
		},
		TTS: TTSConfig{
			URL:         "http://localhost:50021",
			Workers:     4,
			Timeout:     60 * time.Second,
			PostProcess: true,
			SampleRate:  24000,
		},
		Video: VideoConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			BGMDir:      "bgm",
			DPI:         300,
		},
		Tasks: TasksConfig{Workers: 6},
		NATS:  NATSConfig{SubjectPrefix: "kekiai.jobs"},
		GCP: GCPConfig{
			VertexRegion:     "us-central1",
			WorkflowLocation: "us-central1",
		},
		Log: LogConfig{Level: "info"},
	}
}

// merge overlays every non-zero field of override onto base.
func merge(base, override Config) Config {
	setString(&base.Server.Port, override.Server.Port)
	setInt64(&base.Server.MaxUploadMB, override.Server.MaxUploadMB)
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = override.Server.AllowedOrigins
	}
	setString(&base.Server.PublicBaseURL, override.Server.PublicBaseURL)
	setString(&base.Workspace.Root, override.Workspace.Root)

	setString(&base.Store.Driver, override.Store.Driver)
	setString(&base.Store.DSN, override.Store.DSN)
	setString(&base.Store.Collection, override.Store.Collection)

	setString(&base.LLM.DefaultProvider, override.LLM.DefaultProvider)
	if override.LLM.Temperature > 0 {
		base.LLM.Temperature = override.LLM.Temperature
	}
	setInt(&base.LLM.MaxTokens, override.LLM.MaxTokens)
	setInt(&base.LLM.MaxRetries, override.LLM.MaxRetries)
	for name, p := range override.LLM.Providers {
		cur := base.LLM.Providers[name]
		setString(&cur.APIKey, p.APIKey)
		setString(&cur.Model, p.Model)
		setString(&cur.BaseURL, p.BaseURL)
		base.LLM.Providers[name] = cur
	}

	setInt(&base.Dialogue.MaxRetries, override.Dialogue.MaxRetries)
	if override.Dialogue.RetryDelay > 0 {
		base.Dialogue.RetryDelay = override.Dialogue.RetryDelay
	}
	base.Dialogue.WeightedImportance = base.Dialogue.WeightedImportance || override.Dialogue.WeightedImportance
	setInt(&base.Dialogue.DefaultDuration, override.Dialogue.DefaultDuration)

	setString(&base.TTS.URL, override.TTS.URL)
	setInt(&base.TTS.Workers, override.TTS.Workers)
	if override.TTS.Timeout > 0 {
		base.TTS.Timeout = override.TTS.Timeout
	}
	setString(&base.TTS.VoicesFile, override.TTS.VoicesFile)
	setInt(&base.TTS.SampleRate, override.TTS.SampleRate)

	setString(&base.Video.FFmpegPath, override.Video.FFmpegPath)
	setString(&base.Video.FFprobePath, override.Video.FFprobePath)
	setString(&base.Video.BGMPath, override.Video.BGMPath)
	setString(&base.Video.BGMDir, override.Video.BGMDir)
	setInt(&base.Video.DPI, override.Video.DPI)

	setInt(&base.Tasks.Workers, override.Tasks.Workers)

	setString(&base.NATS.URL, override.NATS.URL)
	setString(&base.NATS.SubjectPrefix, override.NATS.SubjectPrefix)
	setString(&base.NATS.ObjectBucket, override.NATS.ObjectBucket)

	setString(&base.GCP.ProjectID, override.GCP.ProjectID)
	setString(&base.GCP.VertexRegion, override.GCP.VertexRegion)
	setString(&base.GCP.ResultsBucket, override.GCP.ResultsBucket)
	setString(&base.GCP.WorkflowID, override.GCP.WorkflowID)
	setString(&base.GCP.WorkflowLocation, override.GCP.WorkflowLocation)

	setString(&base.Log.Level, override.Log.Level)
	return base
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Server.Port, gcp.GetEnv("PORT", ""))
	setInt64(&c.Server.MaxUploadMB, int64(getEnvInt("MAX_UPLOAD_MB", 0)))
	setString(&c.Server.PublicBaseURL, gcp.GetEnv("API_BASE_URL", ""))
	setString(&c.Workspace.Root, gcp.GetEnv("WORK_DIR", ""))

	setString(&c.Store.Driver, gcp.GetEnv("STORE_DRIVER", ""))
	setString(&c.Store.DSN, gcp.GetEnv("DATABASE_DSN", ""))
	setString(&c.Store.Collection, gcp.GetEnv("FIRESTORE_COLLECTION", ""))

	setString(&c.LLM.DefaultProvider, gcp.GetEnv("USE_MODEL", ""))
	if v := getEnvFloat("LLM_TEMPERATURE", 0); v > 0 {
		c.LLM.Temperature = v
	}
	setInt(&c.LLM.MaxTokens, getEnvInt("LLM_MAX_TOKENS", 0))
	c.setProviderKey("openai", "OPENAI_API_KEY")
	c.setProviderKey("claude", "ANTHROPIC_API_KEY")
	c.setProviderKey("deepseek", "DEEPSEEK_API_KEY")

	c.Dialogue.WeightedImportance = getEnvBool("DIALOGUE_WEIGHTED_IMPORTANCE", c.Dialogue.WeightedImportance)

	setString(&c.TTS.URL, gcp.GetEnv("VOICEVOX_URL", ""))
	setString(&c.TTS.VoicesFile, gcp.GetEnv("VOICEVOX_VOICES_FILE", ""))
	c.TTS.PostProcess = getEnvBool("TTS_POST_PROCESS", c.TTS.PostProcess)

	setString(&c.Video.FFmpegPath, gcp.GetEnv("FFMPEG_PATH", ""))
	setString(&c.Video.FFprobePath, gcp.GetEnv("FFPROBE_PATH", ""))
	setString(&c.Video.BGMPath, gcp.GetEnv("VIDEO_BGM_PATH", ""))

	setInt(&c.Tasks.Workers, getEnvInt("TASK_WORKERS", 0))

	setString(&c.NATS.URL, gcp.GetEnv("NATS_URL", ""))
	setString(&c.NATS.ObjectBucket, gcp.GetEnv("NATS_OBJECT_BUCKET", ""))

	setString(&c.GCP.ProjectID, gcp.GetEnv("PROJECT_ID", ""))
	setString(&c.GCP.VertexRegion, gcp.GetEnv("VERTEX_AI_REGION", ""))
	setString(&c.GCP.ResultsBucket, gcp.GetEnv("RESULTS_BUCKET", ""))
	setString(&c.GCP.WorkflowID, gcp.GetEnv("WORKFLOW_ID", ""))
	setString(&c.GCP.WorkflowLocation, gcp.GetEnv("WORKFLOW_LOCATION", ""))

	setString(&c.Log.Level, gcp.GetEnv("LOG_LEVEL", ""))
}

func (c *Config) setProviderKey(provider, env string) {
	key := gcp.GetEnv(env, "")
	if key == "" {
		return
	}
	if c.LLM.Providers == nil {
		c.LLM.Providers = map[string]ProviderConfig{}
	}
	p := c.LLM.Providers[provider]
	p.APIKey = key
	c.LLM.Providers[provider] = p
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v > 0 {
		*dst = v
	}
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(gcp.GetEnv(key, ""))); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(gcp.GetEnv(key, "")), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(gcp.GetEnv(key, ""))); err == nil {
		return v
	}
	return fallback
}
