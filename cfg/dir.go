package cfg

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/arkime-go/capture/printer"
)

var (
	cfgDir string
)

// DefaultConfigDir returns $HOME/.arkime-capture, creating it if needed.
// Used as the fallback search path for the ini-style config file when
// --config isn't given.
func DefaultConfigDir() string {
	if cfgDir != "" {
		return cfgDir
	}
	initCfgDir()
	return cfgDir
}

func initCfgDir() {
	home, err := homedir.Dir()
	if err != nil {
		printer.Stderr.Warningf("Failed to find $HOME, defaulting to '.', error: %v", err)
		home = "."
	}
	cfgDir = filepath.Join(home, ".arkime-capture")

	if stat, err := os.Stat(cfgDir); os.IsNotExist(err) {
		if err := os.Mkdir(cfgDir, 0700); err != nil {
			printer.Stderr.Warningf("Failed to create config directory %s, persistent config will not work, error: %v\n", cfgDir, err)
		}
	} else if err != nil {
		printer.Stderr.Errorf("Failed to stat %s: %v\n", cfgDir, err)
	} else if !stat.IsDir() {
		printer.Stderr.Errorf("%s is not a directory, please remove.\n", cfgDir)
	}
}
