package conf

import (
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Cfg carries the recognized buffer pool options, parsed from the
// [buffer_pool] section of an ini file.
type Cfg struct {
	Raw *ini.File

	DataDir string

	PoolSize uint32
	PageSize uint32

	OldBlocksPct      uint32
	OldThresholdMS    uint32
	UnzipLRUPct       uint32
	IOToUnzipFactor   uint32
	FastFreeList      bool
	LRUDumpOldPages   bool
	LRULoadMaxEntries uint32
	IOCapacity        uint32
}

// NewCfg returns a Cfg populated with the defaults.
func NewCfg() *Cfg {
	dataDir, _ := filepath.Abs(".")
	return &Cfg{
		Raw:               ini.Empty(),
		DataDir:           dataDir,
		PoolSize:          8192,
		PageSize:          16384,
		OldBlocksPct:      37,
		OldThresholdMS:    1000,
		UnzipLRUPct:       10,
		IOToUnzipFactor:   50,
		FastFreeList:      true,
		LRUDumpOldPages:   false,
		LRULoadMaxEntries: 0x7FFFFFFF,
		IOCapacity:        200,
	}
}

// Load reads configPath and overlays the [buffer_pool] section onto the
// defaults. A missing file is an error; missing keys keep their defaults.
func (cfg *Cfg) Load(configPath string) (*Cfg, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}

	parsedFile, err := ini.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Raw = parsedFile

	cfg.parseBufferPoolCfg(cfg.Raw.Section("buffer_pool"))
	return cfg, nil
}

func (cfg *Cfg) parseBufferPoolCfg(section *ini.Section) *Cfg {
	cfg.DataDir = section.Key("datadir").MustString(cfg.DataDir)

	cfg.PoolSize = uint32(section.Key("pool_size").MustUint(uint(cfg.PoolSize)))
	cfg.PageSize = uint32(section.Key("page_size").MustUint(uint(cfg.PageSize)))

	cfg.OldBlocksPct = uint32(section.Key("old_ratio").MustUint(uint(cfg.OldBlocksPct)))
	cfg.OldThresholdMS = uint32(section.Key("old_threshold_ms").MustUint(uint(cfg.OldThresholdMS)))
	cfg.UnzipLRUPct = uint32(section.Key("unzip_lru_pct").MustUint(uint(cfg.UnzipLRUPct)))
	cfg.IOToUnzipFactor = uint32(section.Key("lru_io_to_unzip_factor").MustUint(uint(cfg.IOToUnzipFactor)))
	cfg.FastFreeList = section.Key("fast_free_list").MustBool(cfg.FastFreeList)
	cfg.LRUDumpOldPages = section.Key("lru_dump_old_pages").MustBool(cfg.LRUDumpOldPages)
	cfg.LRULoadMaxEntries = uint32(section.Key("lru_load_max_entries").MustUint(uint(cfg.LRULoadMaxEntries)))
	cfg.IOCapacity = uint32(section.Key("io_capacity").MustUint(uint(cfg.IOCapacity)))

	return cfg
}
