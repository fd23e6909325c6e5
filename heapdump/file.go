package heapdump

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// WriteFile creates path and lets write fill it. An exclusive lock on
// path+".lock" is held while the file is written so that concurrent dumps
// and readers never see a partial file.
func WriteFile(path string, write func(f *os.File) error) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("heapdump: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads the snapshot at path under a shared lock.
func ReadFile(path string) (*Snapshot, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("heapdump: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
