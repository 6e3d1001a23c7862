// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package local

import (
	"fmt"

	"github.com/boljen/go-bitmap"
)

// Minor numbers available under one major.
const MinorsPerMajor = 256

// Bitmap allocator of the minor numbers of one major.
type minorMap struct {
	used bitmap.Bitmap
}

func newMinorMap() *minorMap {
	return &minorMap{used: bitmap.New(MinorsPerMajor)}
}

// Allocates the first free minor.
func (m *minorMap) allocate() (int, error) {
	for i := 0; i < MinorsPerMajor; i++ {
		if !m.used.Get(i) {
			m.used.Set(i, true)
			return i, nil
		}
	}

	return 0, fmt.Errorf("all %d minors in use", MinorsPerMajor)
}

func (m *minorMap) free(minor int) error {
	if minor < 0 || minor >= MinorsPerMajor {
		return fmt.Errorf("invalid minor %d: not in range [0, %d)", minor, MinorsPerMajor)
	}

	if !m.used.Get(minor) {
		return fmt.Errorf("minor %d is already free", minor)
	}

	m.used.Set(minor, false)

	return nil
}

func (m *minorMap) empty() bool {
	for i := 0; i < MinorsPerMajor; i++ {
		if m.used.Get(i) {
			return false
		}
	}

	return true
}
