// Package ops loads and resolves the JSON runtime configuration.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/dispatch"
	"main/internal/registry"
	"main/internal/schedule"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Feed       FeedConfig       `json:"feed"`
	Evaluation EvaluationConfig `json:"evaluation"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Levels     LevelsConfig     `json:"levels"`
	Storage    StorageConfig    `json:"storage"`
	Watchlist  WatchlistConfig  `json:"watchlist"`
	Tasks      TasksConfig      `json:"tasks"`
	Shutdown   ShutdownConfig   `json:"shutdown"`
}

// FeedConfig describes the tick feed connection.
type FeedConfig struct {
	URL              string `json:"url"`
	SignalIntervalMS int    `json:"signalIntervalMs"`
	QueueSize        int    `json:"queueSize"`
}

// EvaluationConfig describes screening thresholds and daily cutoffs.
type EvaluationConfig struct {
	ProximityThreshold float64 `json:"proximityThreshold"`
	IntradayCutoff     string  `json:"intradayCutoff"`
	ExpiryTime         string  `json:"expiryTime"`
	CleanupTime        string  `json:"cleanupTime"`
}

// DispatchConfig describes the order dispatcher limits.
type DispatchConfig struct {
	MaxOrdersPerDay int `json:"maxOrdersPerDay"`
	AlertThreshold  int `json:"alertThreshold"`
	MinIntervalMS   int `json:"minIntervalMs"`
	QueueSize       int `json:"queueSize"`
}

// LevelsConfig describes price-level derivation.
type LevelsConfig struct {
	TriggerAdjustmentPct  float64 `json:"triggerAdjustmentPct"`
	OrderPlacementDiffPct float64 `json:"orderPlacementDiffPct"`
	UsePercentage         *bool   `json:"usePercentage"`
}

// StorageConfig selects the durable store. PostgresDSN takes precedence
// over the file directory when both are set.
type StorageConfig struct {
	Dir         string `json:"dir"`
	PostgresDSN string `json:"postgresDsn"`
}

// WatchlistConfig locates the instrument watchlist files.
type WatchlistConfig struct {
	Path        string `json:"path"`
	ArchivePath string `json:"archivePath"`
}

// TasksConfig tunes the recurring maintenance tasks.
type TasksConfig struct {
	VerifyIntervalMin int `json:"verifyIntervalMin"`
	FlushIntervalMin  int `json:"flushIntervalMin"`
}

// ShutdownConfig picks the shutdown behavior.
type ShutdownConfig struct {
	CancelOrders bool `json:"cancelOrders"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	FeedURL        string
	SignalInterval time.Duration
	FeedQueueSize  int

	ProximityThreshold float64
	IntradayCutoff     schedule.TimeOfDay
	ExpiryTime         schedule.TimeOfDay
	CleanupTime        schedule.TimeOfDay

	Dispatch dispatch.Config
	Levels   registry.LevelConfig

	StateDir    string
	PostgresDSN string

	WatchlistPath string
	ArchivePath   string

	VerifyInterval time.Duration
	FlushInterval  time.Duration

	CancelOnShutdown bool
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config")
	}
	return Resolve(cfg)
}

// Resolve applies defaults, parses the time-of-day anchors and validates.
func Resolve(cfg FileConfig) (Loaded, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Loaded{}, err
	}

	intraday, err := schedule.ParseTimeOfDay(cfg.Evaluation.IntradayCutoff)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "parse intraday cutoff")
	}
	expiry, err := schedule.ParseTimeOfDay(cfg.Evaluation.ExpiryTime)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "parse expiry time")
	}
	cleanup, err := schedule.ParseTimeOfDay(cfg.Evaluation.CleanupTime)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "parse cleanup time")
	}

	usePct := true
	if cfg.Levels.UsePercentage != nil {
		usePct = *cfg.Levels.UsePercentage
	}

	return Loaded{
		FeedURL:            cfg.Feed.URL,
		SignalInterval:     time.Duration(cfg.Feed.SignalIntervalMS) * time.Millisecond,
		FeedQueueSize:      cfg.Feed.QueueSize,
		ProximityThreshold: cfg.Evaluation.ProximityThreshold,
		IntradayCutoff:     intraday,
		ExpiryTime:         expiry,
		CleanupTime:        cleanup,
		Dispatch: dispatch.Config{
			MaxOrdersPerDay: cfg.Dispatch.MaxOrdersPerDay,
			AlertThreshold:  cfg.Dispatch.AlertThreshold,
			MinInterval:     time.Duration(cfg.Dispatch.MinIntervalMS) * time.Millisecond,
			QueueSize:       cfg.Dispatch.QueueSize,
		},
		Levels: registry.LevelConfig{
			TriggerAdjustmentPct:  cfg.Levels.TriggerAdjustmentPct,
			OrderPlacementDiffPct: cfg.Levels.OrderPlacementDiffPct,
			UsePercentage:         usePct,
		},
		StateDir:         cfg.Storage.Dir,
		PostgresDSN:      cfg.Storage.PostgresDSN,
		WatchlistPath:    cfg.Watchlist.Path,
		ArchivePath:      cfg.Watchlist.ArchivePath,
		VerifyInterval:   time.Duration(cfg.Tasks.VerifyIntervalMin) * time.Minute,
		FlushInterval:    time.Duration(cfg.Tasks.FlushIntervalMin) * time.Minute,
		CancelOnShutdown: cfg.Shutdown.CancelOrders,
	}, nil
}

func (cfg FileConfig) withDefaults() FileConfig {
	if cfg.Feed.SignalIntervalMS <= 0 {
		cfg.Feed.SignalIntervalMS = 200
	}
	if cfg.Feed.QueueSize <= 0 {
		cfg.Feed.QueueSize = 4096
	}
	if cfg.Evaluation.ProximityThreshold == 0 {
		cfg.Evaluation.ProximityThreshold = 0.99
	}
	if cfg.Evaluation.IntradayCutoff == "" {
		cfg.Evaluation.IntradayCutoff = "15:15:00"
	}
	if cfg.Evaluation.ExpiryTime == "" {
		cfg.Evaluation.ExpiryTime = "15:30:00"
	}
	if cfg.Evaluation.CleanupTime == "" {
		cfg.Evaluation.CleanupTime = "16:00:00"
	}
	if cfg.Dispatch.MaxOrdersPerDay <= 0 {
		cfg.Dispatch.MaxOrdersPerDay = 3000
	}
	if cfg.Dispatch.AlertThreshold <= 0 {
		cfg.Dispatch.AlertThreshold = 2550
	}
	if cfg.Dispatch.MinIntervalMS <= 0 {
		cfg.Dispatch.MinIntervalMS = 200
	}
	if cfg.Levels.TriggerAdjustmentPct == 0 {
		cfg.Levels.TriggerAdjustmentPct = 0.25
	}
	if cfg.Storage.Dir == "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.Dir = "state"
	}
	if cfg.Watchlist.Path == "" {
		cfg.Watchlist.Path = "watchlist.csv"
	}
	if cfg.Watchlist.ArchivePath == "" {
		cfg.Watchlist.ArchivePath = "watchlist_archive.csv"
	}
	if cfg.Tasks.VerifyIntervalMin <= 0 {
		cfg.Tasks.VerifyIntervalMin = 15
	}
	if cfg.Tasks.FlushIntervalMin <= 0 {
		cfg.Tasks.FlushIntervalMin = 5
	}
	return cfg
}

func (cfg FileConfig) validate() error {
	if cfg.Evaluation.ProximityThreshold <= 0 || cfg.Evaluation.ProximityThreshold >= 1 {
		return errors.Errorf("proximity threshold must be in (0, 1), got %v", cfg.Evaluation.ProximityThreshold)
	}
	if cfg.Dispatch.AlertThreshold > cfg.Dispatch.MaxOrdersPerDay {
		return errors.Errorf("alert threshold %d exceeds daily limit %d", cfg.Dispatch.AlertThreshold, cfg.Dispatch.MaxOrdersPerDay)
	}
	if cfg.Levels.TriggerAdjustmentPct < 0 || cfg.Levels.OrderPlacementDiffPct < 0 {
		return errors.New("level adjustments must be >= 0")
	}
	return nil
}
