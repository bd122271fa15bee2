package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/c2h5oh/datasize"
)

const (
	openFileLimit          = 32
	cacheSize              = 4 * datasize.MB
	verifyWorkers          = 2
	preallocation          = PreallocationSparse
	incompleteFileNaming   = false
	prefetchMagnetMetadata = false
)

var (
	downloadDir = xdg.UserDirs.Download
	stateDir    = filepath.Join(xdg.DataHome, configFileName)
)
