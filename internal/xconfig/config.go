// Package xconfig is the configuration surface the CLI loads before
// building the transfer engine: the table from spec.md section 6 plus
// the state-directory root and remote app root, loaded the way the
// teacher loads its own client config — a JSON file. The CLI layers
// only XPAN_ACCESS_TOKEN and XPAN_REFRESH_TOKEN environment overrides
// on top (through spf13/viper); no other field is taken from the
// environment or from cobra flags.
package xconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xpan-cli/xpan/internal/xutil"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".xpan", "config.json")
	DefaultStateDir   = filepath.Join(home, ".xpan", "state")
	DefaultLogFile    = filepath.Join(home, ".xpan", "xpan.log")
)

// RemoteRoot is the provider namespace root every remote path this
// client touches is rooted under, carried over from
// original_source/baidupan/config.py's REMOTE_ROOT constant.
const RemoteRoot = "/apps/xpan"

// Config is the Configuration Surface from spec.md section 6, plus the
// ambient fields (token, state dir, log file) a complete CLI needs
// that the distilled spec treats as external collaborators.
type Config struct {
	// Auth. The OAuth2 device-code dance and token persistence format
	// are explicitly out of scope (spec.md section 1); this field is
	// the minimal bridge a CLI needs to hand a bearer token to
	// internal/xpanapi.TokenProvider without owning how it was minted.
	AccessToken  string `json:"access_token" mapstructure:"access_token"`
	RefreshToken string `json:"refresh_token" mapstructure:"refresh_token"`

	// Transfer tuning, spec.md section 6's Configuration Surface table.
	UploadChunkSize      int64 `json:"upload_chunk_size" mapstructure:"upload_chunk_size"`
	DownloadSegmentSize  int64 `json:"download_segment_size" mapstructure:"download_segment_size"`
	MaxUploadWorkers     int   `json:"max_upload_workers" mapstructure:"max_upload_workers"`
	MaxDownloadWorkers   int   `json:"max_download_workers" mapstructure:"max_download_workers"`
	MaxRetries           int   `json:"max_retries" mapstructure:"max_retries"`
	SliceMD5Size         int64 `json:"slice_md5_size" mapstructure:"slice_md5_size"`
	RapidUploadThreshold int64 `json:"rapid_upload_threshold" mapstructure:"rapid_upload_threshold"`
	MaxUploadSlices      int   `json:"max_upload_slices" mapstructure:"max_upload_slices"`
	MaxSessionRefreshes  int   `json:"max_session_refreshes" mapstructure:"max_session_refreshes"`

	// Sync tuning, spec.md section 4.G ("bounded concurrency across
	// files ... typically 4 parallel files x 8 chunks each").
	SyncFileConcurrency int `json:"sync_file_concurrency" mapstructure:"sync_file_concurrency"`

	// Ambient: where state/logs live, not part of the distilled spec's
	// Configuration Surface table but required to run at all.
	StateDir string `json:"state_dir" mapstructure:"state_dir"`
	LogFile  string `json:"log_file" mapstructure:"log_file"`
	Path     string `json:"-" mapstructure:"-"`
}

// Default returns a Config populated with the table's documented
// defaults from spec.md section 6.
func Default() Config {
	return Config{
		UploadChunkSize:      4 << 20,
		DownloadSegmentSize:  4 << 20,
		MaxUploadWorkers:     8,
		MaxDownloadWorkers:   32,
		MaxRetries:           3,
		SliceMD5Size:         256 << 10,
		RapidUploadThreshold: 256 << 10,
		MaxUploadSlices:      2000,
		MaxSessionRefreshes:  20,
		SyncFileConcurrency:  4,
		StateDir:             DefaultStateDir,
		LogFile:              DefaultLogFile,
	}
}

// Validate rejects a config that can't possibly drive an engine call:
// a missing token, or tuning values the engine's invariants require to
// be positive.
func (c *Config) Validate() error {
	if c.AccessToken == "" && c.RefreshToken == "" {
		return fmt.Errorf("xconfig: no access_token or refresh_token configured")
	}
	if c.UploadChunkSize <= 0 || c.DownloadSegmentSize <= 0 {
		return fmt.Errorf("xconfig: chunk and segment sizes must be positive")
	}
	if c.MaxUploadWorkers <= 0 || c.MaxDownloadWorkers <= 0 {
		return fmt.Errorf("xconfig: worker counts must be positive")
	}
	return nil
}

// Save writes c to path via write-temp-then-rename, mirroring the
// atomic-write discipline the Hash Cache and Resume Store use for
// their own persisted state.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return xutil.WriteFileAtomic(path, data, 0o600)
}

// Load reads a Config from path. A missing file is not an error; the
// caller gets Default() back so a first run can proceed with pure
// flag/env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("xconfig: parse %q: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}
