package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	envFileVar  = "PERPCORE_ENV_FILE"
	noDotenvVar = "PERPCORE_NO_DOTENV"
	overloadVar = "PERPCORE_DOTENV_OVERLOAD"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files once per process. PERPCORE_ENV_FILE names
// an explicit file; otherwise every .env between the working directory and
// the project root is loaded, nearest first. Existing variables win unless
// PERPCORE_DOTENV_OVERLOAD=1.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		for _, p := range dotenvPaths() {
			if err := loadEnvFile(p); err != nil {
				logx.Errorf("confkit: load %s: %v", p, err)
			}
		}
	})
}

func dotenvPaths() []string {
	if os.Getenv(noDotenvVar) == "1" {
		return nil
	}
	if f := os.Getenv(envFileVar); f != "" {
		return []string{f}
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	root := FindRoot(wd)
	var paths []string
	for dir := wd; ; dir = filepath.Dir(dir) {
		if p := filepath.Join(dir, ".env"); fileExists(p) {
			paths = append(paths, p)
		}
		if dir == root || filepath.Dir(dir) == dir {
			break
		}
	}
	return paths
}

func loadEnvFile(p string) error {
	if os.Getenv(overloadVar) == "1" {
		return godotenv.Overload(p)
	}
	return godotenv.Load(p)
}
