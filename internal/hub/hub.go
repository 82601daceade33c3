// Package hub downloads model artifacts from a Hugging Face compatible model
// hub and keeps them in a local cache directory.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/valpere/mtserve/internal/store"
)

const (
	DefaultBaseURL  = "https://huggingface.co"
	DefaultRevision = "main"

	ConfigFile          = "config.json"
	VocabFile           = "vocab.json"
	SourceModelFile     = "source.spm"
	TokenizerConfigFile = "tokenizer_config.json"
	SpecialTokensFile   = "special_tokens_map.json"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrOffline  = errors.New("hub is in offline mode and the artifact is not cached")
)

var (
	requiredFiles = []string{ConfigFile, VocabFile, SourceModelFile}
	optionalFiles = []string{TokenizerConfigFile, SpecialTokensFile}
)

// Manifest records which artifacts are already on disk. *store.Store
// implements it.
type Manifest interface {
	GetArtifact(ctx context.Context, modelID, revision, fileName string) (*store.Artifact, bool, error)
	SaveArtifact(ctx context.Context, a store.Artifact) error
	TouchArtifact(ctx context.Context, modelID, revision, fileName string) error
}

type Config struct {
	BaseURL  string        `mapstructure:"base_url" json:"base_url"`
	Revision string        `mapstructure:"revision" json:"revision"`
	Token    string        `mapstructure:"token" json:"-"`
	CacheDir string        `mapstructure:"cache_dir" json:"cache_dir"`
	Offline  bool          `mapstructure:"offline" json:"offline"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Snapshot lists the local paths of one model's artifacts, keyed by file name.
type Snapshot struct {
	ModelID  string
	Revision string
	Files    map[string]string
}

// Path returns the local path of name, or "" when it was not published.
func (s *Snapshot) Path(name string) string {
	return s.Files[name]
}

type Client struct {
	cfg      Config
	manifest Manifest
	client   *http.Client
	logger   *zap.Logger
	flight   singleflight.Group
}

// New creates a hub client. manifest may be nil, in which case the cache
// directory alone decides what is already downloaded.
func New(cfg Config, manifest Manifest, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		manifest: manifest,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// FetchModel makes sure every artifact needed to build a tokenizer for
// modelID is cached locally. Optional files the hub does not publish, or
// that were never pulled before going offline, are skipped.
func (c *Client) FetchModel(ctx context.Context, modelID string) (*Snapshot, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}

	snap := &Snapshot{ModelID: modelID, Revision: c.cfg.Revision, Files: make(map[string]string)}
	for _, name := range requiredFiles {
		path, err := c.Fetch(ctx, modelID, name)
		if err != nil {
			return nil, err
		}
		snap.Files[name] = path
	}
	for _, name := range optionalFiles {
		path, err := c.Fetch(ctx, modelID, name)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOffline) {
			c.logger.Debug("Skipping optional model artifact",
				zap.String("model", modelID),
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Files[name] = path
	}
	return snap, nil
}

// Fetch returns the local path of a single artifact, downloading it if needed.
// Concurrent fetches of the same file share one download.
func (c *Client) Fetch(ctx context.Context, modelID, fileName string) (string, error) {
	localPath := c.localPath(modelID, fileName)

	if path, ok := c.cached(ctx, modelID, fileName, localPath); ok {
		return path, nil
	}

	if c.cfg.Offline {
		return "", fmt.Errorf("%s/%s: %w", modelID, fileName, ErrOffline)
	}

	v, err, _ := c.flight.Do(modelID+"/"+fileName, func() (interface{}, error) {
		if path, ok := c.cached(ctx, modelID, fileName, localPath); ok {
			return path, nil
		}
		// Waiters share this download; the client timeout still bounds it.
		return c.download(context.WithoutCancel(ctx), modelID, fileName, localPath)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// cached reports whether fileName is already on disk. Manifest failures are
// logged and fall back to the cache directory; they never fail a fetch.
func (c *Client) cached(ctx context.Context, modelID, fileName, localPath string) (string, bool) {
	if c.manifest == nil {
		return localPath, fileExists(localPath)
	}

	a, found, err := c.manifest.GetArtifact(ctx, modelID, c.cfg.Revision, fileName)
	if err != nil {
		c.logger.Warn("Failed to read artifact manifest",
			zap.String("model", modelID),
			zap.String("file", fileName),
			zap.Error(err),
		)
		return localPath, fileExists(localPath)
	}
	if !found || !fileExists(a.LocalPath) {
		return "", false
	}

	if err := c.manifest.TouchArtifact(ctx, modelID, c.cfg.Revision, fileName); err != nil {
		c.logger.Warn("Failed to update artifact last_used",
			zap.String("model", modelID),
			zap.String("file", fileName),
			zap.Error(err),
		)
	}
	return a.LocalPath, true
}

func (c *Client) download(ctx context.Context, modelID, fileName, localPath string) (string, error) {
	fileURL := c.fileURL(modelID, fileName)
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", fileURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%s/%s: %w", modelID, fileName, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("hub returned status %d for %s", resp.StatusCode, fileURL)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+fileName+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	size, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", fileName, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into cache: %w", fileName, err)
	}

	etag := resp.Header.Get("X-Linked-Etag")
	if etag == "" {
		etag = resp.Header.Get("ETag")
	}

	if c.manifest != nil {
		err := c.manifest.SaveArtifact(ctx, store.Artifact{
			ModelID:   modelID,
			Revision:  c.cfg.Revision,
			FileName:  fileName,
			LocalPath: localPath,
			ETag:      etag,
			SizeBytes: size,
		})
		if err != nil {
			c.logger.Warn("Failed to record model artifact",
				zap.String("model", modelID),
				zap.String("file", fileName),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("Downloaded model artifact",
		zap.String("model", modelID),
		zap.String("file", fileName),
		zap.Int64("bytes", size),
		zap.Duration("latency", time.Since(start)),
	)

	return localPath, nil
}

func (c *Client) fileURL(modelID, fileName string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.cfg.BaseURL, modelID, url.PathEscape(c.cfg.Revision), url.PathEscape(fileName))
}

// localPath mirrors the hub cache layout: models--{org}--{name}/{revision}/{file}.
func (c *Client) localPath(modelID, fileName string) string {
	dir := "models--" + strings.ReplaceAll(modelID, "/", "--")
	return filepath.Join(c.cfg.CacheDir, dir, c.cfg.Revision, fileName)
}

func validateModelID(modelID string) error {
	if strings.TrimSpace(modelID) == "" {
		return fmt.Errorf("model identifier is empty")
	}
	parts := strings.Split(modelID, "/")
	if len(parts) > 2 {
		return fmt.Errorf("invalid model identifier %q", modelID)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\ `) {
			return fmt.Errorf("invalid model identifier %q", modelID)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
