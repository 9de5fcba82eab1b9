package dtm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blockLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_block_loads_total",
		Help: "The total number of strips or tiles read and decoded",
	})
	emptyBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_empty_blocks_total",
		Help: "The total number of strips or tiles found to contain only no-data",
	})
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_samples_total",
		Help: "The total number of points sampled",
	})
	samplesOutOfBounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_samples_out_of_bounds_total",
		Help: "The total number of points sampled outside a raster's extent",
	})
	openFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_open_file_cache_hits_total",
		Help: "The total number of hits on the mosaic open file cache",
	})
	openFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_open_file_cache_misses_total",
		Help: "The total number of misses on the mosaic open file cache",
	})
	openFileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtm_open_file_cache_evictions_total",
		Help: "The total number of evictions from the mosaic open file cache",
	})
)
