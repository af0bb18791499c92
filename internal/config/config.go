// Package config handles pipeline configuration
package config

import (
	"os"
	"strconv"
	"time"

	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/frame"
)

type Config struct {
	HTTPAddr      string
	EngineAddr    string
	EngineTimeout time.Duration // per-frame engine call deadline
	Template      string

	// Frame buffer
	MaxFrameCount int
	OverflowMode  string // "block" or "update"

	// Capture loop pacing: <0 serial, 0 pipelined, >0 minimum ms between fetches
	FetchIntervalMs int64

	// Similarity gate: skip engine calls for near-identical frames
	SkipSimilarFrames bool
	MaxHashDistance   int

	// Stabilizer defaults, applied to every result kind at startup
	DedupForgetTime   time.Duration
	MinVerifiedFrames int
	MaxOverlapFrames  int

	// Clarity tracker
	ClarityResetTimeout     time.Duration
	ClarityMinStabilization time.Duration
	ClarityMinNonImproving  int

	// Demo source (cmd/server only)
	SourceFPS    float64
	SourceFrames int // 0 = unbounded
}

func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		EngineAddr:    getEnv("ENGINE_ADDR", "localhost:50051"),
		EngineTimeout: getEnvMillis("ENGINE_TIMEOUT_MS", 10*time.Second),
		Template:      getEnv("ENGINE_TEMPLATE", "default"),

		MaxFrameCount: getEnvInt("MAX_FRAME_COUNT", 10),
		OverflowMode:  getEnv("OVERFLOW_MODE", "update"),

		FetchIntervalMs: int64(getEnvInt("FETCH_INTERVAL_MS", 0)),

		SkipSimilarFrames: getEnvBool("SKIP_SIMILAR_FRAMES", false),
		MaxHashDistance:   getEnvInt("MAX_HASH_DISTANCE", 8),

		DedupForgetTime:   getEnvMillis("DEDUP_FORGET_TIME_MS", 3*time.Second),
		MinVerifiedFrames: getEnvInt("MIN_VERIFIED_FRAMES", 1),
		MaxOverlapFrames:  getEnvInt("MAX_OVERLAP_FRAMES", 5),

		ClarityResetTimeout:     getEnvMillis("CLARITY_RESET_TIMEOUT_MS", 3*time.Second),
		ClarityMinStabilization: getEnvMillis("CLARITY_MIN_STABILIZATION_MS", time.Second),
		ClarityMinNonImproving:  getEnvInt("CLARITY_MIN_NON_IMPROVING", 2),

		SourceFPS:    getEnvFloat("SOURCE_FPS", 10.0),
		SourceFrames: getEnvInt("SOURCE_FRAMES", 0),
	}
}

// Validate rejects programmer errors synchronously, before the pipeline
// is constructed.
func (c *Config) Validate() error {
	if c.MaxFrameCount <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "MAX_FRAME_COUNT must be positive, got %d", c.MaxFrameCount)
	}
	if _, err := frame.ParseOverflowMode(c.OverflowMode); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "OVERFLOW_MODE")
	}
	if c.FetchIntervalMs < -1 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "FETCH_INTERVAL_MS must be -1, 0 or positive, got %d", c.FetchIntervalMs)
	}
	if c.EngineTimeout <= 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "ENGINE_TIMEOUT_MS must be positive")
	}
	if c.DedupForgetTime < 0 || c.MinVerifiedFrames < 1 || c.MaxOverlapFrames < 1 {
		return apperrors.New(apperrors.CodeConfigInvalid, "stabilizer defaults out of range")
	}
	if c.ClarityMinNonImproving < 0 || c.ClarityResetTimeout <= 0 || c.ClarityMinStabilization < 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "clarity settings out of range")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
