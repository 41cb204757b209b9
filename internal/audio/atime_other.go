//go:build !linux && !darwin

package audio

import (
	"os"
	"time"
)

// Without a portable access time, the modification time stands in. Reads
// refresh both through Chtimes.
func accessTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
