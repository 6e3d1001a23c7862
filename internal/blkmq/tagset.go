// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package blkmq is an in-process multi-queue request dispatcher modelled
// after the Linux blk-mq layer. A TagSet holds the dispatch resources (number
// of hardware contexts, queue depth and per-request auxiliary storage), a
// Queue built on it runs one worker per hardware context which hands the
// requests to a ramdisk.Dispatcher. Submitters block until a tag is free,
// workers never block on anything else than receiving the next request.
package blkmq

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// Same limits as the Linux block layer.
	MaxHWQueues = 128
	MaxDepth    = 10240
)

var (
	ErrQueueDead   = errors.New("queue is dying")
	ErrTagSetInUse = errors.New("tag set still used by a queue")
	ErrTagSetFreed = errors.New("tag set already freed")
)

type TagSetConfig struct {
	HWQueues   int
	QueueDepth int
	CmdSize    int
}

func (c TagSetConfig) validate() error {
	if c.HWQueues < 1 || c.HWQueues > MaxHWQueues {
		return fmt.Errorf("number of hardware queues %d not in [1, %d]", c.HWQueues, MaxHWQueues)
	}

	if c.QueueDepth < 1 || c.QueueDepth > MaxDepth {
		return fmt.Errorf("queue depth %d not in [1, %d]", c.QueueDepth, MaxDepth)
	}

	if c.CmdSize < 0 {
		return fmt.Errorf("negative command size %d", c.CmdSize)
	}

	return nil
}

// TagSet owns the tags and auxiliary storage of all hardware contexts.
type TagSet struct {
	cfg TagSetConfig

	// Free tags of each hardware context. A tag is an index into pdus.
	tags []chan int

	// Auxiliary storage of size CmdSize for each tag of each context.
	pdus [][][]byte

	mu     sync.Mutex
	queues int
	freed  bool
}

// NewTagSet allocates tags and auxiliary storage for cfg.
func NewTagSet(cfg TagSetConfig) (*TagSet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := TagSet{
		cfg:  cfg,
		tags: make([]chan int, cfg.HWQueues),
		pdus: make([][][]byte, cfg.HWQueues),
	}

	for i := range t.tags {
		t.tags[i] = make(chan int, cfg.QueueDepth)
		t.pdus[i] = make([][]byte, cfg.QueueDepth)

		pool := make([]byte, cfg.QueueDepth*cfg.CmdSize)
		for tag := 0; tag < cfg.QueueDepth; tag++ {
			t.tags[i] <- tag
			t.pdus[i][tag] = pool[tag*cfg.CmdSize : (tag+1)*cfg.CmdSize : (tag+1)*cfg.CmdSize]
		}
	}

	return &t, nil
}

func (t *TagSet) Config() TagSetConfig {
	return t.cfg
}

// Free releases the tag set. All queues using it have to be cleaned up
// first.
func (t *TagSet) Free() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freed {
		return ErrTagSetFreed
	}

	if t.queues > 0 {
		return ErrTagSetInUse
	}

	t.freed = true
	t.tags = nil
	t.pdus = nil

	return nil
}

func (t *TagSet) acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freed {
		return ErrTagSetFreed
	}

	t.queues++

	return nil
}

func (t *TagSet) release() {
	t.mu.Lock()
	t.queues--
	t.mu.Unlock()
}
