// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/asch/ramblk/internal/ramdisk/store"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	DefaultConfig = "/etc/ramblk/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	Host      string `toml:"host" env:"RAMBLK_HOST" env-default:"buse" env-description:"Host the volume is exposed through: buse, local or null."`
	Name      string `toml:"name" env:"RAMBLK_NAME" env-default:"ramblk" env-description:"Volume name."`
	Major     int    `toml:"major" env:"RAMBLK_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
	Pages     int64  `toml:"pages" env:"RAMBLK_PAGES" env-default:"16" env-description:"Volume size in memory pages."`
	Allocator string `toml:"allocator" env:"RAMBLK_ALLOCATOR" env-default:"mmap" env-description:"Backing store allocator: mmap or heap."`

	Removable     bool `toml:"removable" env:"RAMBLK_REMOVABLE" env-default:"true" env-description:"Advertise removable media."`
	PartitionScan bool `toml:"partition_scan" env:"RAMBLK_PARTSCAN" env-default:"false" env-description:"Let the host scan for partitions."`
	CDROM         bool `toml:"cdrom" env:"RAMBLK_CDROM" env-default:"false" env-description:"Advertise CD-ROM class."`

	HWQueues   int  `toml:"hw_queues" env:"RAMBLK_HWQUEUES" env-default:"1" env-description:"Number of parallel dispatch contexts."`
	QueueDepth int  `toml:"queue_depth" env:"RAMBLK_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`
	CmdSize    int  `toml:"cmd_size" env:"RAMBLK_CMDSIZE" env-default:"0" env-description:"Per-request auxiliary storage in bytes."`
	Threads    int  `toml:"threads" env:"RAMBLK_THREADS" env-default:"0" env-description:"Number of user-space threads for serving BUSE queues."`
	BlockSize  int  `toml:"block_size" env:"RAMBLK_BLOCKSIZE" env-default:"4096" env-description:"BUSE block size."`
	Scheduler  bool `toml:"scheduler" env:"RAMBLK_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`

	Write struct {
		Durable       bool `toml:"durable" env:"RAMBLK_WRITE_DURABLE" env-description:"Flush semantics. True means durable, false means barrier only." env-default:"false"`
		BufSize       int  `toml:"shared_buffer_size" env:"RAMBLK_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int  `toml:"chunk_size" env:"RAMBLK_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int  `toml:"collision_chunk_size" env:"RAMBLK_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int `toml:"shared_buffer_size" env:"RAMBLK_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	Log struct {
		Level  int  `toml:"level" env:"RAMBLK_LOG_LEVEL" env-description:"Log level." env-default:"1"`
		Pretty bool `toml:"pretty" env:"RAMBLK_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"RAMBLK_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"RAMBLK_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`

	// Volume size in bytes, derived from Pages.
	Size int64 `toml:"-" env:"-"`
}

// Configure reads the configuration file at path and the environment into
// Cfg. The configuration file has the lower priority and the environment
// variables have the highest priority. It is perfectly fine to use just one
// of these or to combine them.
func Configure(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}

	Cfg = c

	return nil
}

// Load parses the configuration file and reads the environment variables.
// After that it does some values postprocessing.
func Load(path string) (Config, error) {
	var c Config

	if err := cleanenv.ReadConfig(path, &c); err != nil {
		if err := cleanenv.ReadEnv(&c); err != nil {
			return Config{}, err
		}
	} else if err := readFalseDefaults(path, &c); err != nil {
		return Config{}, err
	}

	c.Size = c.Pages * int64(store.PageSize())
	c.Write.BufSize *= 1024 * 1024
	c.Write.ChunkSize *= 1024 * 1024
	c.Write.CollisionSize *= 1024 * 1024
	c.Read.BufSize *= 1024 * 1024

	if c.BlockSize != 512 {
		c.BlockSize = 4096
	}

	return c, nil
}

// cleanenv fills env-default into every zero field, so a flag defaulting to
// true and set to false in the file comes back true. Take such flags from
// the file again unless their environment variable is set.
func readFalseDefaults(path string, c *Config) error {
	if filepath.Ext(path) != ".toml" {
		return nil
	}

	var file struct {
		Removable bool `toml:"removable"`
		Log       struct {
			Pretty bool `toml:"pretty"`
		} `toml:"log"`
	}

	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return err
	}

	if _, ok := os.LookupEnv("RAMBLK_REMOVABLE"); !ok && md.IsDefined("removable") {
		c.Removable = file.Removable
	}

	if _, ok := os.LookupEnv("RAMBLK_LOG_PRETTY"); !ok && md.IsDefined("log", "pretty") {
		c.Log.Pretty = file.Log.Pretty
	}

	return nil
}

// CapacitySectors returns the volume size in 512 byte sectors.
func (c Config) CapacitySectors() uint64 {
	return uint64(c.Size) / store.SectorSize
}

// Usage writes the description of all environment variables to w.
func Usage(w io.Writer) {
	var c Config

	desc, err := cleanenv.GetDescription(&c, nil)
	if err != nil {
		return
	}

	io.WriteString(w, desc+"\n")
}
