package slidecache

import "runtime"

// Settings holds the tunables governing window size, memory budget, and
// decode concurrency. A Settings value is immutable within an epoch: every
// UpdateSettings call starts a new epoch, and entries created under older
// epochs become preferred eviction victims.
type Settings struct {
	// WindowSize is the radius r of the load window [index-r, index+r].
	WindowSize int

	// MaxMemoryMB bounds the estimated resident bytes of decoded images.
	MaxMemoryMB int

	// MaxConcurrentLoads caps the number of decodes in flight at once.
	// 0 means runtime.GOMAXPROCS(0).
	MaxConcurrentLoads int

	// LargeCollectionThreshold is the collection length above which the
	// effective window is halved to keep the resident set proportional.
	LargeCollectionThreshold int

	// PreloadDistance widens the keep-range beyond the load window. Entries
	// inside [index-r-d, index+r+d] survive eviction passes unless the
	// budget forces them out, which prevents thrashing on small index
	// oscillations.
	PreloadDistance int

	// ForwardBias weights forward prefetches over backward ones. A value of
	// 2.0 means a photo k steps ahead is prioritized like one k/2 steps
	// behind. Must be >= 1.
	ForwardBias float64

	// MaxRetries bounds automatic retries of failed background decodes when
	// their index re-enters the window. Priority-path failures are never
	// retried automatically.
	MaxRetries int
}

// DefaultSettings returns the settings used when none are provided.
func DefaultSettings() Settings {
	return Settings{
		WindowSize:               3,
		MaxMemoryMB:              256,
		MaxConcurrentLoads:       runtime.GOMAXPROCS(0),
		LargeCollectionThreshold: 5000,
		PreloadDistance:          8,
		ForwardBias:              2.0,
		MaxRetries:               1,
	}
}

// normalized returns a copy with zero or invalid fields replaced by defaults.
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.WindowSize <= 0 {
		s.WindowSize = def.WindowSize
	}
	if s.MaxMemoryMB <= 0 {
		s.MaxMemoryMB = def.MaxMemoryMB
	}
	if s.MaxConcurrentLoads <= 0 {
		s.MaxConcurrentLoads = def.MaxConcurrentLoads
	}
	if s.LargeCollectionThreshold <= 0 {
		s.LargeCollectionThreshold = def.LargeCollectionThreshold
	}
	if s.PreloadDistance < 0 {
		s.PreloadDistance = def.PreloadDistance
	}
	if s.ForwardBias < 1 {
		s.ForwardBias = def.ForwardBias
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = def.MaxRetries
	}
	return s
}

// budgetBytes converts the memory budget to bytes.
func (s Settings) budgetBytes() int64 {
	return int64(s.MaxMemoryMB) << 20
}

// keepRadius is the eviction hysteresis radius: entries within this distance
// of the current index are kept while the budget allows.
func (s Settings) keepRadius() int {
	return s.WindowSize + s.PreloadDistance
}

// effectiveWindow returns the load-window radius for a collection of the
// given length. Very large collections get a tighter window so the resident
// set does not scale with user expectations formed on small folders.
func (s Settings) effectiveWindow(collectionLen int) int {
	r := s.WindowSize
	if collectionLen > s.LargeCollectionThreshold && r > 1 {
		r = (r + 1) / 2
	}
	return r
}
