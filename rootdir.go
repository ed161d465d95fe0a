package modcache

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ResolveRoot implements the cache root discovery precedence: an explicit
// root, then DENO_DIR, then the platform cache directory, then
// "$HOME/.deno" as a last resort. A relative explicit root is resolved
// against the current working directory.
func ResolveRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if v := os.Getenv("DENO_DIR"); v != "" {
		return filepath.Abs(v)
	}
	if dir, err := platformCacheDir(); err == nil {
		return filepath.Join(dir, "deno"), nil
	}
	if home, err := homeDir(); err == nil && home != "" {
		return filepath.Join(home, ".deno"), nil
	}
	return "", errors.New("modcache: could not resolve a cache root: no explicit root, DENO_DIR, platform cache dir, or home directory")
}

func platformCacheDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Caches"), nil
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v, nil
		}
		return "", errors.New("modcache: LOCALAPPDATA not set")
	default:
		if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
			return v, nil
		}
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".cache"), nil
	}
}

func homeDir() (string, error) {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("USERPROFILE"); v != "" {
			return v, nil
		}
	}
	if v := os.Getenv("HOME"); v != "" {
		return v, nil
	}
	return "", errors.New("modcache: no home directory in environment")
}

// RemoteDir is the subdirectory under root holding the HTTP cache.
func RemoteDir(root string) string { return filepath.Join(root, "remote") }

// GenDir is reserved for downstream emitted artifacts; not managed here.
func GenDir(root string) string { return filepath.Join(root, "gen") }
