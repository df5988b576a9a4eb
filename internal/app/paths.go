package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations under the user config dir.
type Paths struct {
	RootDir    string
	ConfigFile string
	DotEnvFile string
	DBFile     string
	LogFile    string
	LedgerFile string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	return PathsIn(filepath.Join(cfgRoot, Name))
}

// PathsIn lays out all runtime files below root and creates it.
func PathsIn(root string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		DotEnvFile: filepath.Join(root, DotEnvFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
		LedgerFile: filepath.Join(root, LedgerFilename),
	}, nil
}
