// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// ramblk is a userspace daemon exposing a fixed size block device held
// entirely in memory. By default the device is created through BUSE, but the
// volume does not know which host it is registered with, so it can be served
// in-process or without any host at all.
//
// Project structure is following:
//
// - internal/ramdisk contains the volume itself: the backing store, request
// processing, open sessions and control queries. See the package descriptions
// in the source code for more details.
//
// - internal/host contains hosts the volume can be registered with. busehost
// talks to the BUSE kernel module, local is an in-process block layer with
// tag sets and per context queues in the blk-mq fashion.
//
// - internal/null contains trivial host which only records what was asked from
// it. It is used by the info command and by tests.
//
// - internal/config contains configuration package which is common for all the
// hosts.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/asch/ramblk/internal/config"
	"github.com/asch/ramblk/internal/host/busehost"
	"github.com/asch/ramblk/internal/host/local"
	"github.com/asch/ramblk/internal/null"
	"github.com/asch/ramblk/internal/ramdisk"
	"github.com/asch/ramblk/internal/ramdisk/geometry"
	"github.com/asch/ramblk/internal/ramdisk/store"
)

var errSelfTest = errors.New("self test failed")

func main() {
	app := cli.App{
		Name:  "ramblk",
		Usage: "Serve a block device backed by memory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultConfig,
				Usage:   "Path to configuration file",
			},
		},
		Before: setup,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Create the volume and serve it until SIGINT or SIGTERM",
				Action: serve,
			},
			{
				Name:   "info",
				Usage:  "Print capacity, geometry and capabilities of the configured volume",
				Action: info,
			},
			{
				Name:   "selftest",
				Usage:  "Create the volume in-process and verify reads and writes",
				Action: selftest,
			},
			{
				Name:  "env",
				Usage: "Print all environment variables understood by the program",
				Action: func(c *cli.Context) error {
					config.Usage(c.App.Writer)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

// Parse configuration from file and environment variables and set up logging
// and profiling accordingly.
func setup(c *cli.Context) error {
	if err := config.Configure(c.String("config")); err != nil {
		return err
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort)
	}

	return nil
}

// Translate the configuration into volume options.
func volumeOptions(cfg config.Config) (ramdisk.Options, error) {
	alloc, err := store.ByName(cfg.Allocator)
	if err != nil {
		return ramdisk.Options{}, err
	}

	return ramdisk.Options{
		Name:            cfg.Name,
		Major:           cfg.Major,
		CapacitySectors: cfg.CapacitySectors(),
		Allocator:       alloc,
		Queue: ramdisk.QueueConfig{
			HWQueues:   cfg.HWQueues,
			QueueDepth: cfg.QueueDepth,
			CmdSize:    cfg.CmdSize,
		},
		Removable:     cfg.Removable,
		PartitionScan: cfg.PartitionScan,
		CDROM:         cfg.CDROM,
	}, nil
}

// Creates the volume with the configured host and serves it until it is
// signaled by SIGINT or SIGTERM to gracefully finish.
func serve(c *cli.Context) error {
	opts, err := volumeOptions(config.Cfg)
	if err != nil {
		return err
	}

	switch config.Cfg.Host {
	case "buse":
		return serveBuse(opts)
	case "local":
		return serveUntilSignal(local.NewHost(), opts)
	case "null":
		return serveUntilSignal(null.NewHost(), opts)
	}

	return fmt.Errorf("unknown host %q", config.Cfg.Host)
}

func serveBuse(opts ramdisk.Options) error {
	h, err := busehost.New(busehost.Options{
		Durable:        config.Cfg.Write.Durable,
		BlockSize:      int64(config.Cfg.BlockSize),
		Threads:        config.Cfg.Threads,
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
		WriteShmSize:   int64(config.Cfg.Write.BufSize),
		ReadShmSize:    int64(config.Cfg.Read.BufSize),
		CollisionArea:  int64(config.Cfg.Write.CollisionSize),
		Scheduler:      config.Cfg.Scheduler,
	})
	if err != nil {
		return err
	}

	vol, err := ramdisk.Create(h, opts)
	if err != nil {
		return err
	}

	registerSigHandlers(func() {
		if err := h.Stop(); err != nil {
			log.Warn().Err(err).Send()
		}
	})

	if err := h.Run(); err != nil {
		removeVolume(vol)
		return err
	}

	return removeVolume(vol)
}

// Hosts without their own serving loop just keep the volume registered.
func serveUntilSignal(h ramdisk.Host, opts ramdisk.Options) error {
	vol, err := ramdisk.Create(h, opts)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	registerSigHandlers(func() { close(done) })
	<-done

	return removeVolume(vol)
}

// Removes vol and logs the failure, if any. Deferred callers have no other
// way to report it.
func removeVolume(vol *ramdisk.Volume) error {
	err := vol.Remove()
	if err != nil {
		log.Warn().Err(err).Str("volume", vol.Identity().Name).Msg("Failed to remove volume.")
	}

	return err
}

// Register handler for graceful stop when SIGINT or SIGTERM came in.
func registerSigHandlers(stop func()) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msgf("Received interrupt, stopping %s!", config.Cfg.Name)
		stop()
	}()
}

func info(c *cli.Context) error {
	opts, err := volumeOptions(config.Cfg)
	if err != nil {
		return err
	}

	vol, err := ramdisk.Create(null.NewHost(), opts)
	if err != nil {
		return err
	}
	defer removeVolume(vol)

	g, err := vol.QueryGeometry()
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(c.App.Writer, "%s: %d bytes, %d sectors\n", opts.Name, vol.CapacitySectors()*ramdisk.SectorSize, vol.CapacitySectors())
	p.Fprintf(c.App.Writer, "geometry: %d heads, %d sectors/track, %d cylinders, start %d\n", g.Heads, g.SectorsPerTrack, g.Cylinders, g.Start)

	for _, capability := range []ramdisk.Capability{ramdisk.CapRemovable, ramdisk.CapCDROM, ramdisk.CapPartitionScan} {
		ok, err := vol.QueryCapability(capability)
		if err != nil {
			return err
		}
		p.Fprintf(c.App.Writer, "%s: %t\n", capability, ok)
	}

	return nil
}

func selftest(c *cli.Context) error {
	opts, err := volumeOptions(config.Cfg)
	if err != nil {
		return err
	}

	if err := runSelfTest(local.NewHost(), opts); err != nil {
		return err
	}

	log.Info().Msg("Self test passed.")

	return nil
}

// Writes a pattern at both ends of the volume through the in-process block
// layer and reads it back. The write at the last sector crosses the end of
// the volume and has to be clipped.
func runSelfTest(h *local.Host, opts ramdisk.Options) error {
	vol, err := ramdisk.Create(h, opts)
	if err != nil {
		return err
	}
	defer removeVolume(vol)

	disk, err := h.Lookup(vol.Handle().Name())
	if err != nil {
		return err
	}

	if err := disk.Open(); err != nil {
		return err
	}
	defer disk.Release()

	pattern := bytes.Repeat([]byte("ramblk"), 2*ramdisk.SectorSize/6+1)[:2*ramdisk.SectorSize]

	if _, err := disk.WriteAt(pattern, 0); err != nil {
		return err
	}

	got := make([]byte, len(pattern))
	if _, err := disk.ReadAt(got, 0); err != nil {
		return err
	}
	if !bytes.Equal(got, pattern) {
		return fmt.Errorf("%w: data at sector 0 differ", errSelfTest)
	}

	last := disk.Size() - ramdisk.SectorSize
	n, err := disk.WriteAt(pattern, last)
	if n != ramdisk.SectorSize {
		return fmt.Errorf("%w: write at the last sector transferred %d bytes: %v", errSelfTest, n, err)
	}

	geo := make([]byte, geometry.HDGeometrySize)
	if err := disk.Ioctl(ramdisk.IoctlGetGeometry, geo); err != nil {
		return err
	}

	log.Debug().Str("disk", disk.Name()).Int("major", disk.Major()).Int("minor", disk.Minor()).Hex("geometry", geo).Msg("Self test done.")

	return nil
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
