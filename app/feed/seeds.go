package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lysyi3m/rss-streams/app/logger"
	"gopkg.in/yaml.v3"
)

var streamIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidStreamID reports whether id is an acceptable stream slug.
func ValidStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}

type SeedCache struct {
	streamsDir string
	cache      map[string]*Seed
	mu         sync.RWMutex
}

func NewSeedCache(streamsDir string) *SeedCache {
	return &SeedCache{
		streamsDir: streamsDir,
		cache:      make(map[string]*Seed),
	}
}

func (sc *SeedCache) Run() error {
	if _, err := os.Stat(sc.streamsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(sc.streamsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		streamID := strings.TrimSuffix(filepath.Base(file), ".yml")

		seed, err := sc.LoadSeed(streamID)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		logger.Debug("Stream seed loaded", "stream", streamID, "url", seed.URL, "subscribe", seed.Subscribe)
	}

	return nil
}

func (sc *SeedCache) LoadSeed(streamID string) (*Seed, error) {
	seedFile := filepath.Join(sc.streamsDir, streamID+".yml")

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seed.StreamID = streamID
	if seed.Title == "" {
		seed.Title = streamID
	}

	if err := validateSeed(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", seedFile, err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache[seed.StreamID] = &seed

	return &seed, nil
}

func (sc *SeedCache) GetSeed(streamID string) (*Seed, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	seed, ok := sc.cache[streamID]
	if !ok {
		return nil, fmt.Errorf("stream seed '%s' not found", streamID)
	}
	return seed, nil
}

// GetSeeds returns the loaded seeds ordered by stream id.
func (sc *SeedCache) GetSeeds() []*Seed {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	seeds := make([]*Seed, 0, len(sc.cache))
	for _, seed := range sc.cache {
		seeds = append(seeds, seed)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].StreamID < seeds[j].StreamID })
	return seeds
}

func (sc *SeedCache) GetSeedCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.cache)
}

func validateSeed(seed *Seed) error {
	if !ValidStreamID(seed.StreamID) {
		return fmt.Errorf("invalid stream id %q", seed.StreamID)
	}
	if seed.URL == "" {
		return fmt.Errorf("stream URL is required")
	}
	if !strings.HasPrefix(seed.URL, "http://") && !strings.HasPrefix(seed.URL, "https://") {
		return fmt.Errorf("stream URL must be http or https")
	}
	return nil
}
