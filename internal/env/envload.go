// Package env loads the nearest .env file and reads typed HYPSTAR_* overrides.
package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	Port            = "HYPSTAR_PORT"
	BaudRate        = "HYPSTAR_BAUD_RATE"
	LogLevel        = "HYPSTAR_LOG_LEVEL"
	BootTimeout     = "HYPSTAR_BOOT_TIMEOUT"
	DataDir         = "HYPSTAR_DATA_DIR"
	DBPath          = "HYPSTAR_DB_PATH"
	MetricsTextfile = "HYPSTAR_METRICS_TEXTFILE"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found from the working directory up to the root.
// Later calls are no-ops. Variables already set in the process win over the file.
func Ensure() error {
	// opt in with GOTEST_LOAD_DOTENV=1
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("search .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("loaded .env")
	})
	return loadErr
}

// LoadedPath returns the .env file that was loaded, or "".
func LoadedPath() string {
	return loadedPath
}

// String returns the trimmed value of key and whether it was set to something non-empty.
func String(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func Int(key string) (int, bool, error) {
	v, ok := String(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, errors.Wrapf(err, "%s=%q", key, v)
	}
	return n, true, nil
}

// Duration accepts Go durations ("30s") or bare seconds ("30").
func Duration(key string) (time.Duration, bool, error) {
	v, ok := String(key)
	if !ok {
		return 0, false, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, errors.Wrapf(err, "%s=%q", key, v)
	}
	return d, true, nil
}

func Bool(key string) (bool, bool, error) {
	v, ok := String(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, errors.Wrapf(err, "%s=%q", key, v)
	}
	return b, true, nil
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
