package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AgingBucket maps an age range in days to the share of value reserved as obsolete.
type AgingBucket struct {
	Label            string  `mapstructure:"label" json:"label"`
	MinDays          int     `mapstructure:"minDays" json:"min_days"`
	MaxDays          *int    `mapstructure:"maxDays" json:"max_days,omitempty"`
	ObsolescenceRate float64 `mapstructure:"obsolescenceRate" json:"obsolescence_rate"`
}

// Contains reports whether days falls within the bucket.
func (b AgingBucket) Contains(days int) bool {
	if days < b.MinDays {
		return false
	}
	return b.MaxDays == nil || days <= *b.MaxDays
}

// ABCThresholds are cumulative value shares closing class A and class B.
type ABCThresholds struct {
	A float64 `mapstructure:"a" json:"a"`
	B float64 `mapstructure:"b" json:"b"`
}

type ProjectionConfig struct {
	AgingBuckets       []AgingBucket `mapstructure:"agingBuckets"`
	ABC                ABCThresholds `mapstructure:"abc"`
	TurnoverWindowDays int           `mapstructure:"turnoverWindowDays"`
}

func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{
		AgingBuckets: []AgingBucket{
			{Label: "0-90", MinDays: 0, MaxDays: intPtr(90), ObsolescenceRate: 0},
			{Label: "91-180", MinDays: 91, MaxDays: intPtr(180), ObsolescenceRate: 0.1},
			{Label: "181-365", MinDays: 181, MaxDays: intPtr(365), ObsolescenceRate: 0.25},
			{Label: "365+", MinDays: 366, MaxDays: nil, ObsolescenceRate: 0.5},
		},
		ABC:                ABCThresholds{A: 0.8, B: 0.95},
		TurnoverWindowDays: 365,
	}
}

func intPtr(v int) *int { return &v }

// ProjectionConfigHolder serves the current projection settings and swaps
// them atomically when the backing file changes.
type ProjectionConfigHolder struct {
	current atomic.Value // holds ProjectionConfig
}

// NewStaticProjectionConfigHolder returns a holder that never reloads.
func NewStaticProjectionConfigHolder(cfg ProjectionConfig) *ProjectionConfigHolder {
	holder := &ProjectionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewProjectionConfigHolder reads projection.yml (or the file named by
// PROJECTION_CONFIG) and watches it for changes.
func NewProjectionConfigHolder(cfg Config, log *zap.Logger) (*ProjectionConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.projection")

	v := viper.New()
	if cfg.ProjectionConfig != "" {
		v.SetConfigFile(cfg.ProjectionConfig)
	} else {
		v.SetConfigName("projection")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/stockledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STOCKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProjectionConfig()
	v.SetDefault("projection.agingBuckets", defaults.AgingBuckets)
	v.SetDefault("projection.abc.a", defaults.ABC.A)
	v.SetDefault("projection.abc.b", defaults.ABC.B)
	v.SetDefault("projection.turnoverWindowDays", defaults.TurnoverWindowDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var current ProjectionConfig
	if err := v.UnmarshalKey("projection", &current); err != nil {
		return nil, err
	}
	if err := ValidateProjectionConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticProjectionConfigHolder(current)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProjectionConfig
		if err := v.UnmarshalKey("projection", &updated); err != nil {
			log.Warn("projection config reload failed", zap.Error(err))
			return
		}
		if err := ValidateProjectionConfig(updated); err != nil {
			log.Warn("invalid projection config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("projection config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ProjectionConfigHolder) Get() ProjectionConfig {
	return h.current.Load().(ProjectionConfig)
}

func ValidateProjectionConfig(cfg ProjectionConfig) error {
	if len(cfg.AgingBuckets) == 0 {
		return errors.New("projection.agingBuckets cannot be empty")
	}
	buckets := append([]AgingBucket(nil), cfg.AgingBuckets...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].MinDays < buckets[j].MinDays })
	if buckets[0].MinDays != 0 {
		return errors.New("projection.agingBuckets must start at day 0")
	}
	for i, b := range buckets {
		if b.ObsolescenceRate < 0 || b.ObsolescenceRate > 1 {
			return fmt.Errorf("projection.agingBuckets[%s] obsolescenceRate must be within [0,1]", b.Label)
		}
		if b.MaxDays != nil && *b.MaxDays < b.MinDays {
			return fmt.Errorf("projection.agingBuckets[%s] maxDays before minDays", b.Label)
		}
		if i == len(buckets)-1 {
			continue
		}
		if b.MaxDays == nil || *b.MaxDays+1 != buckets[i+1].MinDays {
			return fmt.Errorf("projection.agingBuckets[%s] leaves a gap or overlaps", b.Label)
		}
	}
	if cfg.ABC.A <= 0 || cfg.ABC.A >= cfg.ABC.B || cfg.ABC.B > 1 {
		return errors.New("projection.abc thresholds must satisfy 0 < a < b <= 1")
	}
	if cfg.TurnoverWindowDays <= 0 {
		return errors.New("projection.turnoverWindowDays must be positive")
	}
	return nil
}
