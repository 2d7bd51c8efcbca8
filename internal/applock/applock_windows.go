//go:build windows

package applock

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/windows"
)

// probe opens the file with an empty share mode. The open fails with
// a sharing violation for as long as the app holds the file.
func probe(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	h, err := windows.CreateFile(p, windows.GENERIC_READ, 0, nil,
		windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return ErrAppRunning
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	windows.CloseHandle(h)
	return nil
}
