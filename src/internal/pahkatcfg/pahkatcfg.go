// Package pahkatcfg persists pahkat's configuration store (spec §4.6):
// the configured repository list (order preserved on load and save),
// cache/tmp directory settings, and an arbitrary ui.* preference bag.
//
// Adapted from xe's internal/project/config.go: the same
// Load/LoadOrCreate/Save shape with BurntSushi/toml struct tags and
// default-filling on load, generalized from a single project's xe.toml
// to one config.toml per pahkat prefix/home. The ui.* bag follows xe's
// cmd/use.go viper.Set/WriteConfigAs pattern for its "default_python"
// global preference.
package pahkatcfg

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"github.com/spf13/viper"

	"pahkat/src/internal/pahkaterr"
)

const FileName = "config.toml"

// RepoConfig is one entry of the repositories list. Order is preserved on
// load/save. Nothing ranks repositories by this order: every PackageKey
// names its repository, and the resolver does not read the list.
type RepoConfig struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

type SettingsConfig struct {
	CacheBaseDir string `toml:"cache_base_dir"`
	TmpDir       string `toml:"tmp_dir"`
}

// Config is the on-disk shape of config.toml. UI preferences are handled
// separately through a viper-backed store (see UIPrefs) since they are
// explicitly arbitrary key/value pairs rather than a fixed schema.
type Config struct {
	Repositories []RepoConfig   `toml:"repositories"`
	Settings     SettingsConfig `toml:"settings"`
}

func NewDefault(cacheBaseDir, tmpDir string) Config {
	return Config{
		Repositories: []RepoConfig{},
		Settings:     SettingsConfig{CacheBaseDir: cacheBaseDir, TmpDir: tmpDir},
	}
}

// Load reads config.toml from path.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, pahkaterr.Annotate(pahkaterr.Configuration, err, "decode config.toml")
	}
	return cfg, nil
}

// LoadOrCreate reads path, creating a default config.toml if none exists.
func LoadOrCreate(path, defaultCacheDir, defaultTmpDir string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := NewDefault(defaultCacheDir, defaultTmpDir)
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Save atomically rewrites config.toml: write-temp then rename, guarded
// by a file lock so concurrent writers cannot interleave (§4.6
// "Concurrent writers are prevented by a file lock").
func Save(path string, cfg Config) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return pahkaterr.Annotate(pahkaterr.Concurrency, err, "acquire config lock")
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "create temp config file")
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "encode config.toml")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "close temp config file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "finalize config.toml")
	}
	return nil
}

// AddRepo appends a repository if not already present (by URL), returning
// whether the config changed.
func (c *Config) AddRepo(url, channel string) bool {
	for i := range c.Repositories {
		if c.Repositories[i].URL == url {
			if c.Repositories[i].Channel != channel {
				c.Repositories[i].Channel = channel
				return true
			}
			return false
		}
	}
	c.Repositories = append(c.Repositories, RepoConfig{URL: url, Channel: channel})
	return true
}

// RemoveRepo removes a repository by URL, returning whether it was present.
func (c *Config) RemoveRepo(url string) bool {
	for i := range c.Repositories {
		if c.Repositories[i].URL == url {
			c.Repositories = append(c.Repositories[:i], c.Repositories[i+1:]...)
			return true
		}
	}
	return false
}

// UIPrefs is the arbitrary ui.* key/value bag, backed by viper exactly as
// xe's cmd/use.go backs its global default-python preference: a distinct
// file so the fixed-schema Config above never needs a catch-all map field.
type UIPrefs struct {
	v    *viper.Viper
	path string
}

func OpenUIPrefs(path string) (*UIPrefs, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, pahkaterr.Annotate(pahkaterr.Configuration, err, "read ui prefs")
		}
	}
	return &UIPrefs{v: v, path: path}, nil
}

func (u *UIPrefs) Get(key string) any { return u.v.Get("ui." + key) }

func (u *UIPrefs) Set(key string, value any) error {
	u.v.Set("ui."+key, value)
	lock := flock.New(u.path + ".lock")
	if err := lock.Lock(); err != nil {
		return pahkaterr.Annotate(pahkaterr.Concurrency, err, "acquire ui prefs lock")
	}
	defer lock.Unlock()

	if _, err := os.Stat(u.path); os.IsNotExist(err) {
		if err := u.v.WriteConfigAs(u.path); err != nil {
			return pahkaterr.Annotate(pahkaterr.Configuration, err, "write ui prefs")
		}
		return nil
	}
	if err := u.v.WriteConfigAs(u.path); err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "write ui prefs")
	}
	return nil
}
