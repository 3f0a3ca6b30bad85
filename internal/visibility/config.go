package visibility

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PriorityConfig fixes the priority assigned to each constraint source and
// the IoU floor below which overlaps are ignored. Priorities order the
// generated list for presentation; they never gate enforcement.
type PriorityConfig struct {
	SceneBoundary int     `yaml:"scene_boundary"`
	Hierarchy     int     `yaml:"hierarchy"`
	SameTree      int     `yaml:"same_tree"`
	SpatialMutex  int     `yaml:"spatial_mutex"`
	Pedagogical   int     `yaml:"pedagogical"`
	MinOverlapIoU float64 `yaml:"min_overlap_iou"`
}

func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		SceneBoundary: 100,
		Hierarchy:     50,
		SameTree:      40,
		SpatialMutex:  10,
		Pedagogical:   1,
		MinOverlapIoU: 0.01,
	}
}

// LoadPriorityConfig overlays a YAML rule file onto the defaults. Missing
// keys keep their default values.
func LoadPriorityConfig(path string) (PriorityConfig, error) {
	cfg := DefaultPriorityConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read priority config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse priority config: %w", err)
	}
	if cfg.MinOverlapIoU < 0 {
		cfg.MinOverlapIoU = 0
	}
	return cfg, nil
}
