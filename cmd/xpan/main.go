package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xpan-cli/xpan/internal/downloader"
	"github.com/xpan-cli/xpan/internal/hashcache"
	"github.com/xpan-cli/xpan/internal/resume"
	"github.com/xpan-cli/xpan/internal/retry"
	"github.com/xpan-cli/xpan/internal/syncengine"
	"github.com/xpan-cli/xpan/internal/uploader"
	"github.com/xpan-cli/xpan/internal/version"
	"github.com/xpan-cli/xpan/internal/xconfig"
	"github.com/xpan-cli/xpan/internal/xpanapi"
	"github.com/xpan-cli/xpan/internal/xpanapi/httpapi"
	"github.com/xpan-cli/xpan/internal/xpantypes"
	"github.com/xpan-cli/xpan/internal/xutil"
)

var (
	configFileName = "config"
	cyan           = color.New(color.FgHiCyan, color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "xpan",
	Short:   "xpan cloud storage transfer and sync CLI",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", xconfig.DefaultConfigPath, "xpan config file")
	rootCmd.PersistentFlags().Bool("verify-md5", false, "verify whole-file md5 after download")
	rootCmd.PersistentFlags().Bool("delete-extraneous", false, "delete files missing on the source side of a sync")

	rootCmd.AddCommand(uploadCmd, downloadCmd, syncCmd)
	syncCmd.AddCommand(syncUpCmd, syncDownCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-path> <remote-path>",
	Short: "Upload a single file, using rapid-upload and chunked resume as needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.close()

		remotePath := joinRemotePath(args[1])
		sink := newProgressSink(filepath.Base(args[0]))
		defer sink.finish()
		up := uploader.New(eng.api, eng.hashes, eng.sessions, eng.tokens, sink, retry.PolicyFromMaxRetries(cfg.MaxRetries))

		opts := uploader.DefaultOptions()
		opts.ChunkSize = cfg.UploadChunkSize
		opts.Workers = cfg.MaxUploadWorkers
		opts.SliceMD5Size = cfg.SliceMD5Size
		opts.RapidUploadThreshold = cfg.RapidUploadThreshold
		opts.MaxUploadSlices = cfg.MaxUploadSlices
		opts.MaxSessionRefreshes = cfg.MaxSessionRefreshes

		rf, err := up.Upload(cmd.Context(), args[0], remotePath, opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s uploaded -> %s (%d bytes)\n", cyan("ok"), rf.Path, rf.Size)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path> <local-path>",
	Short: "Download a single file, segmented and resumable for large files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.close()

		remotePath := joinRemotePath(args[0])
		sink := newProgressSink(filepath.Base(args[1]))
		defer sink.finish()
		down := downloader.New(eng.api, eng.sessions, eng.tokens, sink, retry.PolicyFromMaxRetries(cfg.MaxRetries))

		opts := downloader.DefaultOptions()
		opts.SegmentSize = cfg.DownloadSegmentSize
		opts.Workers = cfg.MaxDownloadWorkers
		verifyMD5, _ := cmd.Flags().GetBool("verify-md5")
		opts.VerifyMD5 = verifyMD5

		lf, err := down.Download(cmd.Context(), remotePath, args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s downloaded -> %s (%d bytes)\n", cyan("ok"), lf.Path, lf.Size)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Two-way directory sync between a local tree and a remote directory",
}

var syncUpCmd = &cobra.Command{
	Use:   "up <local-dir> <remote-dir>",
	Short: "Push local-only and changed files to the remote directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runSync(syncengine.Up),
}

var syncDownCmd = &cobra.Command{
	Use:   "down <remote-dir> <local-dir>",
	Short: "Pull remote-only and changed files to the local directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runSync(syncengine.Down),
}

func runSync(direction syncengine.Direction) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.close()

		deleteExtraneous, _ := cmd.Flags().GetBool("delete-extraneous")

		policy := retry.PolicyFromMaxRetries(cfg.MaxRetries)
		up := uploader.New(eng.api, eng.hashes, eng.sessions, eng.tokens, xpanapi.NopProgressSink{}, policy)
		down := downloader.New(eng.api, eng.sessions, eng.tokens, xpanapi.NopProgressSink{}, policy)
		se := syncengine.New(eng.api, eng.hashes, up, down)

		opts := syncengine.DefaultOptions()
		opts.DeleteExtraneous = deleteExtraneous
		opts.FileConcurrency = cfg.SyncFileConcurrency

		var outcomes []xpantypes.SyncOutcome
		if direction == syncengine.Up {
			localDir, remoteDir := args[0], joinRemotePath(args[1])
			results, err := se.SyncUp(cmd.Context(), localDir, remoteDir, opts)
			if err != nil {
				return err
			}
			outcomes = results
		} else {
			remoteDir, localDir := joinRemotePath(args[0]), args[1]
			results, err := se.SyncDown(cmd.Context(), remoteDir, localDir, opts)
			if err != nil {
				return err
			}
			outcomes = results
		}

		return printSyncReport(outcomes)
	}
}

func main() {
	logDir := filepath.Dir(xconfig.DefaultLogFile)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "xpan: create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(xconfig.DefaultLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xpan: open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	logInterceptor := xutil.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(xutil.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Exit code per spec.md section 7: 0 all-success, 1 any-failure,
	// 2 cancelled (SIGINT/SIGTERM, or a fatal error that triggered the
	// process-wide cancellation signal described in spec.md section 5).
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "xpan: cancelled")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	home, _ := os.UserHomeDir()

	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".xpan"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("xpan: read config %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("XPAN")
	viper.AutomaticEnv()
	return nil
}

func currentConfig() (xconfig.Config, error) {
	cfg := xconfig.Default()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := xconfig.Load(path)
		if err != nil {
			return xconfig.Config{}, err
		}
		cfg = loaded
	}
	if v := viper.GetString("access_token"); v != "" {
		cfg.AccessToken = v
	}
	if v := viper.GetString("refresh_token"); v != "" {
		cfg.RefreshToken = v
	}
	if err := cfg.Validate(); err != nil {
		return xconfig.Config{}, err
	}
	return cfg, nil
}

// engine bundles the shared collaborators every command builds once:
// the HTTP API client, the Hash Cache, and the Resume Store.
type engine struct {
	api      xpanapi.APIClient
	hashes   *hashcache.Cache
	sessions *resume.Store
	tokens   xpanapi.TokenProvider
	client   *httpapi.Client
}

func (e *engine) close() {
	if e.hashes != nil {
		// Checkpoint the WAL before closing: spec.md section 4.A calls
		// for a full snapshot rewrite "on flush or at process exit".
		if err := e.hashes.Flush(); err != nil {
			slog.Warn("xpan: hash cache flush failed", "error", err)
		}
		_ = e.hashes.Close()
	}
	if e.client != nil {
		e.client.Close()
	}
}

func buildEngine(cfg xconfig.Config) (*engine, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("xpan: create state dir: %w", err)
	}

	tokens := newStaticTokenProvider(cfg)

	client := httpapi.New(tokens)

	hashes, err := hashcache.Open(filepath.Join(cfg.StateDir, "hashcache.db"), 4096)
	if err != nil {
		return nil, err
	}

	sessions, err := resume.NewStore(filepath.Join(cfg.StateDir, "sessions"))
	if err != nil {
		_ = hashes.Close()
		return nil, err
	}

	return &engine{api: client, hashes: hashes, sessions: sessions, tokens: tokens, client: client}, nil
}

// joinRemotePath roots a user-supplied remote path under the
// provider's app namespace the way original_source/baidupan/config.py
// rooted every call under REMOTE_ROOT.
func joinRemotePath(remote string) string {
	remote = strings.TrimPrefix(remote, "/")
	return path.Join(xconfig.RemoteRoot, remote)
}

func printSyncReport(outcomes []xpantypes.SyncOutcome) error {
	var failures int
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failures++
			fmt.Printf("%s %s: %v\n", color.New(color.FgHiRed).Sprint("fail"), o.Action.RelPath, o.Err)
		case o.Action.Kind == xpantypes.ActionSkip:
			// quiet; up-to-date files don't need a line per file
		default:
			fmt.Printf("%s %s: %s\n", color.New(color.FgHiGreen).Sprint("ok"), o.Action.RelPath, o.Action.Kind)
		}
	}
	if failures > 0 {
		return fmt.Errorf("xpan: sync completed with %d failed file(s)", failures)
	}
	return nil
}
