//go:build !linux
// +build !linux

package hostifc

import (
	"fmt"
	"os"
	"runtime"
)

func OpenTTY(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial links are not supported on %s", runtime.GOOS)
}
