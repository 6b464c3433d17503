package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every READYLINE_* environment variable.
const EnvPrefix = "READYLINE"

const envFile = ".env"

// Settings are the CLI settings resolved from flags, environment and the
// workspace .env file.
type Settings struct {
	Workspace       string        `mapstructure:"workspace"`
	JSON            bool          `mapstructure:"json"`
	Debug           bool          `mapstructure:"debug"`
	ActorID         string        `mapstructure:"actor-id"`
	Company         string        `mapstructure:"company"`
	JWTSecret       string        `mapstructure:"jwt-secret"`
	AllowLegacy     bool          `mapstructure:"allow-legacy-actor"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	// Companies lists the companies a minted token is scoped to.
	Companies []string `mapstructure:"companies"`
}

// DecodeSettings unmarshals the viper state into Settings. Durations and
// comma separated lists are accepted as plain strings.
func DecodeSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		Workspace:       ".",
		ActorID:         "local-user",
		ShutdownTimeout: 5 * time.Second,
	}
	err := v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Settings{}, err
	}
	if s.Workspace == "" {
		s.Workspace = "."
	}
	return s, nil
}

// EnvPath returns the workspace .env path.
func EnvPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, envFile)
}

// LoadEnv loads the workspace .env file into the process environment.
// Variables already set take precedence. A missing file is not an error.
func LoadEnv(workspace string) error {
	path := EnvPath(workspace)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// SetEnvValue writes key=value into the env file at path, keeping the other
// entries.
func SetEnvValue(path, key, value string) error {
	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return err
		}
		values = existing
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	values[key] = value
	return godotenv.Write(values, path)
}
