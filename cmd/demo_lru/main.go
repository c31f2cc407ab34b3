package main

import (
	"flag"
	"os"

	"github.com/zhukovaskychina/xbufpool/buffer_pool"
	"github.com/zhukovaskychina/xbufpool/conf"
	"github.com/zhukovaskychina/xbufpool/logger"
)

// Drives the replacement engine end to end: fault a working set, run a
// scan against it, dump the LRU and restore it into a fresh pool.
func main() {
	configPath := flag.String("config", "", "path to an ini file with a [buffer_pool] section")
	flag.Parse()

	logger.InitLogger(logger.LogConfig{LogLevel: "debug"})

	cfg := conf.NewCfg()
	if *configPath != "" {
		if _, err := cfg.Load(*configPath); err != nil {
			logger.Errorf("cannot load config %s: %v", *configPath, err)
			os.Exit(1)
		}
	} else {
		cfg.PoolSize = 1000
		cfg.PageSize = 4096
		dir, err := os.MkdirTemp("", "xbufpool-demo")
		if err != nil {
			logger.Errorf("cannot create demo directory: %v", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		cfg.DataDir = dir
	}

	files := buffer_pool.NewMemFileLayer()
	files.AddSpace(1, 0, 100000)

	newPool := func() (*buffer_pool.Pool, error) {
		return buffer_pool.NewPool(&buffer_pool.Config{
			PoolSize:          cfg.PoolSize,
			PageSize:          cfg.PageSize,
			OldBlocksPct:      cfg.OldBlocksPct,
			OldThresholdMS:    cfg.OldThresholdMS,
			UnzipLRUPct:       cfg.UnzipLRUPct,
			IOToUnzipFactor:   cfg.IOToUnzipFactor,
			FastFreeList:      cfg.FastFreeList,
			LRUDumpOldPages:   cfg.LRUDumpOldPages,
			LRULoadMaxEntries: cfg.LRULoadMaxEntries,
			IOCapacity:        cfg.IOCapacity,
			DataDir:           cfg.DataDir,
		}, buffer_pool.Collaborators{
			PageHash: buffer_pool.NewMapPageHash(),
			Flusher:  buffer_pool.NewListFlusher(),
			Buddy:    buffer_pool.NewHeapBuddy(),
			AHI:      buffer_pool.NoAdaptiveHash{},
			Files:    files,
		})
	}

	pool, err := newPool()
	if err != nil {
		logger.Errorf("cannot build pool: %v", err)
		os.Exit(1)
	}

	// A hot working set, faulted young and touched repeatedly.
	hot := make([]*buffer_pool.BufferBlock, 0, 50)
	for i := uint32(0); i < 50; i++ {
		block, err := pool.FaultPage(1, i, true)
		if err != nil {
			logger.Errorf("fault: %v", err)
			os.Exit(1)
		}
		block.BufferPage.Unfix()
		hot = append(hot, block)
	}

	// A long scan of pages touched once each, with the working set touched
	// every hundred pages.
	for i := uint32(1000); i < 3000; i++ {
		block, err := pool.FaultPage(1, i, false)
		if err != nil {
			logger.Errorf("fault: %v", err)
			os.Exit(1)
		}
		pool.Touch(block.BufferPage)
		block.BufferPage.Unfix()

		if i%100 == 0 {
			for _, h := range hot {
				pool.Touch(h.BufferPage)
			}
		}
	}

	stats := pool.Stats()
	logger.Infof("after scan: lru=%d old=%d free=%d evicted=%d made_young=%d",
		stats.LRULen, stats.OldLen, stats.FreeLen, stats.FreedClock, stats.MadeYoung)

	if err := pool.Validate(); err != nil {
		logger.Errorf("pool invariants violated: %v", err)
		os.Exit(1)
	}

	if err := pool.DumpFile(); err != nil {
		logger.Errorf("dump: %v", err)
		os.Exit(1)
	}
	logger.Infof("LRU dumped to %s", cfg.DataDir)

	pool.BeginShutdown()
	pool.Close()

	// A fresh pool, pre-warmed from the hint file.
	warmed, err := newPool()
	if err != nil {
		logger.Errorf("cannot build pool: %v", err)
		os.Exit(1)
	}
	defer warmed.Close()

	files.OnRead = func(spaceId uint32, pageNo uint32) {
		block, err := warmed.FaultPage(spaceId, pageNo, false)
		if err != nil {
			return
		}
		block.BufferPage.Unfix()
	}

	if err := warmed.RestoreFile(); err != nil {
		logger.Errorf("restore: %v", err)
		os.Exit(1)
	}

	stats = warmed.Stats()
	logger.Infof("after restore: lru=%d free=%d", stats.LRULen, stats.FreeLen)

	if err := warmed.Validate(); err != nil {
		logger.Errorf("pool invariants violated: %v", err)
		os.Exit(1)
	}
}
