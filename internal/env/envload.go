// Package env loads a .env file into the process environment.
package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvDotEnvPath points at an explicit .env file and disables the upward search.
const EnvDotEnvPath = "BUSINESS_LOGIC_DOTENV"

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads $BUSINESS_LOGIC_DOTENV, or the first .env found from the working
// directory up to the filesystem root. Variables already set are kept.
// Subsequent calls are no-ops.
func Ensure() error {
	// Unit tests stay hermetic unless GOTEST_LOAD_DOTENV=1.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path := strings.TrimSpace(os.Getenv(EnvDotEnvPath))
		if path == "" {
			path, loadErr = findDotEnv()
			if loadErr != nil {
				log.Debug().Err(loadErr).Msg("bizlogic: search .env failed")
				return
			}
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("bizlogic: load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("bizlogic: loaded .env")
	})
	return loadErr
}

// LoadedPath returns the .env path that was loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
