// Package depmanager provisions the external tools: yt-dlp, ffmpeg (with ffprobe) and deno.
// Binaries are fetched into the tools directory, which is resolved again for every operation.
// Checksums are used only to detect when new versions are available, not to verify downloads.
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/errs"
	"tubefetch/internal/fetcher"
	"tubefetch/internal/observability"
	"tubefetch/internal/token"

	"github.com/dustin/go-humanize"
	"github.com/ulikunitz/xz"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
	BinaryDeno    BinaryName = "deno"
)

// Tools lists the installable tools in install order. ffprobe ships with ffmpeg.
var Tools = []BinaryName{BinaryFFmpeg, BinaryDeno, BinaryYTdlp}

// Platform operating system names.
const (
	platformDarwin  = "darwin"
	platformLinux   = "linux"
	platformWindows = "windows"
)

// Internal constants for binary management.
const (
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
	// filePermReadWrite is the file permission for regular files.
	filePermReadWrite = 0o644
	// sha256HexLength is the expected length of SHA256 hex string.
	sha256HexLength = 64
	// sha256SumsFieldCount is the expected field count in SHA256SUMS format.
	sha256SumsFieldCount = 2
	// savedSumsFilename is the filename for saved checksums.
	savedSumsFilename = ".sha256sums.json"
	// DenoCacheDirName is the deno cache subdirectory of the tools directory.
	DenoCacheDirName = "deno-cache"
	// quarantineAttr is stripped from yt-dlp on macOS so Gatekeeper lets it run.
	quarantineAttr = "com.apple.quarantine"
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// DirResolver yields the absolute tools directory.
type DirResolver interface {
	Resolve() (string, error)
}

// ToolStatus is the installation state of one tool.
type ToolStatus struct {
	Name      BinaryName `json:"name"`
	Version   string     `json:"version,omitempty"`
	Path      string     `json:"path"`
	Installed bool       `json:"installed"`
}

// commandRunner runs a program and returns its standard output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}

	return out, nil
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	platform Platform
	dirs     DirResolver
	fetch    *fetcher.Fetcher
	metrics  *observability.Metrics
	sources  Sources

	run      commandRunner
	lookPath func(string) (string, error)

	installMu map[BinaryName]*sync.Mutex

	mu          sync.RWMutex
	shaSums     map[string]string     // filename -> sha256 hash (fetched from remote)
	savedSums   map[string]string     // filename -> sha256 hash (saved from previous run)
	systemPaths map[BinaryName]string // binary name -> path outside the tools dir

	isUpdating atomic.Bool
}

// New creates a new dependency manager.
func New(
	log *slog.Logger,
	cfg *config.Config,
	dirs DirResolver,
	fetch *fetcher.Fetcher,
	metrics *observability.Metrics,
) *Manager {
	installMu := make(map[BinaryName]*sync.Mutex, len(Tools))
	for _, tool := range Tools {
		installMu[tool] = &sync.Mutex{}
	}

	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		dirs:        dirs,
		fetch:       fetch,
		metrics:     metrics,
		sources:     DefaultSources(cfg.DepManager),
		run:         runCommand,
		lookPath:    exec.LookPath,
		installMu:   installMu,
		shaSums:     make(map[string]string),
		savedSums:   make(map[string]string),
		systemPaths: make(map[BinaryName]string),
	}
}

// Start installs missing tools or adopts system binaries, depending on configuration.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.DepManager.UseSystemBinaries {
		return m.SetSystemBinaries()
	}

	if err := m.InstallAll(ctx, nil); err != nil {
		return err
	}

	m.StartUpdateChecker(ctx)

	return nil
}

// SetSystemBinaries looks the tools up in the system PATH. yt-dlp and ffmpeg are required.
func (m *Manager) SetSystemBinaries() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := map[BinaryName]bool{BinaryYTdlp: true, BinaryFFmpeg: true}

	for _, binary := range []BinaryName{BinaryYTdlp, BinaryFFmpeg, BinaryFFprobe, BinaryDeno} {
		p, err := m.lookPath(string(binary))
		if err != nil {
			if required[binary] {
				return fmt.Errorf("%s not found in system PATH: %w", binary, errs.ErrBinaryNotFound)
			}

			m.log.Warn("optional binary not found in system PATH", slog.String("binary", string(binary)))

			continue
		}

		m.systemPaths[binary] = p
	}

	return nil
}

// ToolsDir returns the current tools directory.
func (m *Manager) ToolsDir() (string, error) {
	dir, err := m.dirs.Resolve()
	if err != nil {
		return "", fmt.Errorf("resolve tools dir: %w", err)
	}

	return dir, nil
}

// BinaryPath returns the full path to a binary.
//   - /home/user/bins + yt-dlp => /home/user/bins/yt-dlp
//
// Binaries adopted from the system PATH take precedence.
func (m *Manager) BinaryPath(name BinaryName) (string, error) {
	m.mu.RLock()
	sys, ok := m.systemPaths[name]
	m.mu.RUnlock()

	if ok {
		return sys, nil
	}

	dir, err := m.ToolsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, m.filename(name)), nil
}

func (m *Manager) filename(name BinaryName) string {
	if m.platform.OS == platformWindows {
		return string(name) + ".exe"
	}

	return string(name)
}

// CheckVersion runs the tool with its version flag and returns the first line of output.
// A missing binary or a non-zero exit reports false.
func (m *Manager) CheckVersion(ctx context.Context, name BinaryName, tok *token.Token) (string, bool) {
	if tok.Cancelled() {
		return "", false
	}

	binPath, err := m.BinaryPath(name)
	if err != nil {
		return "", false
	}

	if _, err := os.Stat(binPath); err != nil {
		return "", false
	}

	ctx, cancel := tok.Bind(ctx)
	defer cancel()

	out, err := m.run(ctx, binPath, versionFlag(name))
	if err != nil {
		m.log.DebugContext(ctx, "version check failed", slog.String("binary", string(name)), slog.Any("error", err))

		return "", false
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, true
		}
	}

	return "", false
}

func versionFlag(name BinaryName) string {
	switch name {
	case BinaryFFmpeg, BinaryFFprobe:
		return "-version"
	default:
		return "--version"
	}
}

// Status reports the version of every tool.
func (m *Manager) Status(ctx context.Context) []ToolStatus {
	statuses := make([]ToolStatus, 0, len(Tools)+1)

	for _, name := range []BinaryName{BinaryYTdlp, BinaryFFmpeg, BinaryFFprobe, BinaryDeno} {
		binPath, _ := m.BinaryPath(name)
		version, ok := m.CheckVersion(ctx, name, nil)

		statuses = append(statuses, ToolStatus{Name: name, Version: version, Path: binPath, Installed: ok})
	}

	return statuses
}

// InstallAll installs every tool that is missing and records the current checksums.
func (m *Manager) InstallAll(ctx context.Context, tok *token.Token) error {
	log := m.log

	dir, err := m.ToolsDir()
	if err != nil {
		return err
	}

	// Load saved checksums from previous run
	err = m.loadSavedSums(dir)
	if err != nil {
		log.DebugContext(ctx, "no saved checksums found, first run", slog.Any("error", err))
	}

	for _, binary := range Tools {
		err = m.Install(ctx, binary, tok)
		if err != nil {
			return err
		}
	}

	log.InfoContext(ctx, "all binaries are installed", slog.String("dir", dir))

	// Fetch and save checksums for future update checks
	err = m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return nil
	}

	err = m.saveSums(dir)
	if err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

// Install provisions a tool. A tool that passes its version check is left untouched.
// Installs of the same tool are serialized.
func (m *Manager) Install(ctx context.Context, name BinaryName, tok *token.Token) error {
	if name == BinaryFFprobe {
		name = BinaryFFmpeg
	}

	mu, ok := m.installMu[name]
	if !ok {
		return &errs.InstallError{Tool: string(name), Err: errs.ErrBinaryNotFound}
	}

	mu.Lock()
	defer mu.Unlock()

	if version, ok := m.CheckVersion(ctx, name, tok); ok {
		m.log.DebugContext(ctx, "binary already installed",
			slog.String("binary", string(name)), slog.String("version", version))

		return nil
	}

	if err := tok.Err(); err != nil {
		return err
	}

	return m.install(ctx, name, tok)
}

// install downloads and places a tool regardless of its current state. Callers hold the tool lock.
func (m *Manager) install(ctx context.Context, name BinaryName, tok *token.Token) error {
	log := m.log.With(slog.String("binary", string(name)), slog.String("platform", m.platform.String()))

	src, ok := m.sources[name][m.platform.String()]
	if !ok || src.URL == "" {
		m.metrics.RecordToolInstall(string(name), "unsupported")

		return &errs.InstallError{Tool: string(name), Err: fmt.Errorf("%w: %s", errs.ErrUnsupportedPlatform, m.platform)}
	}

	dir, err := m.ToolsDir()
	if err != nil {
		return &errs.InstallError{Tool: string(name), Err: err}
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", src.URL))

	paths, err := m.downloadDependency(ctx, name, src, dir, tok)
	if err == nil {
		err = m.checkSizes(paths, src.MinSize)
	}

	if err != nil {
		if errs.IsCancelled(err) {
			m.metrics.RecordToolInstall(string(name), "cancelled")

			return err
		}

		removeAll(log, paths)
		log.WarnContext(ctx, "download failed, trying package manager", slog.Any("error", err))

		if fbErr := m.installFallback(ctx, name, tok); fbErr != nil {
			m.metrics.RecordToolInstall(string(name), "failed")

			return &errs.InstallError{Tool: string(name), Err: errors.Join(err, fbErr)}
		}
	} else {
		m.finishInstall(ctx, log, name, paths, dir)
	}

	if _, ok := m.CheckVersion(ctx, name, tok); !ok {
		if cerr := tok.Err(); cerr != nil {
			return cerr
		}

		m.metrics.RecordToolInstall(string(name), "failed")

		return &errs.InstallError{Tool: string(name), Err: fmt.Errorf("version check after install: %w", errs.ErrBinaryNotFound)}
	}

	m.metrics.RecordToolInstall(string(name), "installed")
	log.InfoContext(ctx, "binary installed successfully", slog.Any("paths", paths))

	return nil
}

// finishInstall applies permission and quarantine fixups. Failures are logged only.
func (m *Manager) finishInstall(ctx context.Context, log *slog.Logger, name BinaryName, paths []string, dir string) {
	if m.platform.OS != platformWindows {
		if err := makeExecutable(paths); err != nil {
			log.WarnContext(ctx, "failed to set executable bit", slog.Any("error", err))
		}
	}

	if name == BinaryYTdlp && m.platform.OS == platformDarwin {
		for _, p := range paths {
			if _, err := m.run(ctx, "xattr", "-d", quarantineAttr, p); err != nil {
				log.DebugContext(ctx, "quarantine attribute not removed", slog.Any("error", err))
			}
		}
	}

	if name == BinaryDeno {
		if err := os.MkdirAll(filepath.Join(dir, DenoCacheDirName), filePermExecutable); err != nil {
			log.WarnContext(ctx, "failed to create deno cache dir", slog.Any("error", err))
		}
	}

	m.mu.Lock()
	delete(m.systemPaths, name)
	if name == BinaryFFmpeg {
		delete(m.systemPaths, BinaryFFprobe)
	}
	m.mu.Unlock()
}

func (m *Manager) checkSizes(paths []string, minSize int64) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", filepath.Base(p), err)
		}

		if info.Size() < minSize {
			return fmt.Errorf("%s is %s, expected at least %s: %w", filepath.Base(p),
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(minSize)), errs.ErrBinaryUndersized)
		}
	}

	return nil
}

// installFallback installs the tool with the platform package manager and adopts it from PATH.
func (m *Manager) installFallback(ctx context.Context, name BinaryName, tok *token.Token) error {
	if !m.cfg.DepManager.PackageManagerFallback {
		return errs.ErrNoFallback
	}

	cmd, ok := fallbackCommands[m.platform.OS][name]
	if !ok {
		return fmt.Errorf("%s on %s: %w", name, m.platform.OS, errs.ErrNoFallback)
	}

	if err := tok.Err(); err != nil {
		return err
	}

	ctx, cancel := tok.Bind(ctx)
	defer cancel()

	m.log.InfoContext(ctx, "installing with package manager", slog.String("command", strings.Join(cmd, " ")))

	if _, err := m.run(ctx, cmd[0], cmd[1:]...); err != nil {
		return fmt.Errorf("package manager: %w", err)
	}

	adopt := []BinaryName{name}
	if name == BinaryFFmpeg {
		adopt = append(adopt, BinaryFFprobe)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, binary := range adopt {
		p, err := m.lookPath(string(binary))
		if err != nil {
			if binary == name {
				return fmt.Errorf("%s not in PATH after package install: %w", binary, errs.ErrBinaryNotFound)
			}

			continue
		}

		m.systemPaths[binary] = p
	}

	return nil
}

func removeAll(log *slog.Logger, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove rejected binary", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// makeExecutable sets the executable permission on binary files.
func makeExecutable(binPaths []string) error {
	for _, p := range binPaths {
		err := os.Chmod(p, filePermExecutable)
		if err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}

	return nil
}

// downloadDependency fetches the artifact and places its members in dir. Returns installed paths.
func (m *Manager) downloadDependency(
	ctx context.Context,
	name BinaryName,
	src Source,
	dir string,
	tok *token.Token,
) ([]string, error) {
	if src.Archive == ArchiveNone {
		binPath := filepath.Join(dir, m.filename(name))
		tmpPath := binPath + ".download"

		if err := m.fetch.Fetch(ctx, src.URL, tmpPath, tok); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}

		if err := os.Rename(tmpPath, binPath); err != nil {
			os.Remove(tmpPath)

			return nil, fmt.Errorf("rename: %w", err)
		}

		return []string{binPath}, nil
	}

	archivePath := filepath.Join(dir, ".download-"+string(name)+"."+string(src.Archive))
	defer os.Remove(archivePath)

	if err := m.fetch.Fetch(ctx, src.URL, archivePath, tok); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	if err := tok.Err(); err != nil {
		return nil, err
	}

	targets := make(map[string]struct{}, len(src.Members))
	for _, member := range src.Members {
		targets[member] = struct{}{}
	}

	paths, err := extractFiles(src.Archive, archivePath, dir, targets)
	if err != nil {
		return paths, fmt.Errorf("extract: %w", err)
	}

	return paths, nil
}

func extractFiles(kind Archive, archivePath, destDir string, targets map[string]struct{}) ([]string, error) {
	switch kind {
	case ArchiveZip:
		return extractFromZip(archivePath, destDir, targets)
	case ArchiveTarXZ:
		return extractFromTarXZ(archivePath, destDir, targets)
	case ArchiveTarGZ:
		return extractFromTarGZ(archivePath, destDir, targets)
	default:
		return nil, fmt.Errorf("unsupported archive format %q", kind)
	}
}

func extractFromZip(zipPath, destDir string, targets map[string]struct{}) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	var extracted []string

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		filename := path.Base(file.Name)
		if _, ok := targets[filename]; !ok {
			continue
		}

		fileReader, err := file.Open()
		if err != nil {
			return extracted, fmt.Errorf("open file in zip: %w", err)
		}

		destPath, err := writeMember(fileReader, destDir, filename)
		fileReader.Close()

		if err != nil {
			return extracted, err
		}

		extracted = append(extracted, destPath)

		if len(extracted) == len(targets) {
			return extracted, nil
		}
	}

	return extracted, missingMembers(extracted, targets)
}

func extractFromTarXZ(tarXZPath, destDir string, targets map[string]struct{}) ([]string, error) {
	file, err := os.Open(tarXZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}

	return extractTarSelected(xzReader, destDir, targets)
}

func extractFromTarGZ(tarGZPath, destDir string, targets map[string]struct{}) ([]string, error) {
	file, err := os.Open(tarGZPath)
	if err != nil {
		return nil, fmt.Errorf("open tar.gz: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	return extractTarSelected(gzReader, destDir, targets)
}

func extractTarSelected(reader io.Reader, destDir string, targets map[string]struct{}) ([]string, error) {
	tarReader := tar.NewReader(reader)

	var extracted []string

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return extracted, fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		filename := path.Base(header.Name)
		if _, ok := targets[filename]; !ok {
			continue
		}

		destPath, err := writeMember(tarReader, destDir, filename)
		if err != nil {
			return extracted, err
		}

		extracted = append(extracted, destPath)

		if len(extracted) == len(targets) {
			return extracted, nil
		}
	}

	return extracted, missingMembers(extracted, targets)
}

func writeMember(r io.Reader, destDir, filename string) (string, error) {
	destPath := filepath.Join(destDir, filename)

	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
	if err != nil {
		return "", fmt.Errorf("create dest file: %w", err)
	}

	_, err = io.Copy(outFile, r)
	closeErr := outFile.Close()

	if err != nil {
		return destPath, fmt.Errorf("extract file: %w", err)
	}

	if closeErr != nil {
		return destPath, fmt.Errorf("close dest file: %w", closeErr)
	}

	return destPath, nil
}

func missingMembers(extracted []string, targets map[string]struct{}) error {
	if len(extracted) == len(targets) {
		return nil
	}

	found := make(map[string]struct{}, len(extracted))
	for _, p := range extracted {
		found[filepath.Base(p)] = struct{}{}
	}

	var missing []string

	for target := range targets {
		if _, ok := found[target]; !ok {
			missing = append(missing, target)
		}
	}

	return fmt.Errorf("%s not found in archive: %w", strings.Join(missing, ", "), errs.ErrBinaryNotFound)
}

// StartUpdateChecker starts a background goroutine that periodically checks for updates.
// It compares fetched checksums with saved checksums and reinstalls tools whose artifact changed.
func (m *Manager) StartUpdateChecker(ctx context.Context) {
	if m.cfg.DepManager.UpdateInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.DepManager.UpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAndUpdate(ctx)
			}
		}
	}()
}

// FetchSHASums fetches and parses SHA256 sums from configured URLs.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURLs, err := m.CollectSHASumsURLs()
	if err != nil {
		return fmt.Errorf("collect SHA sums URLs: %w", err)
	}

	for _, url := range sumsURLs {
		body, err := m.fetch.Get(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("fetch SHA sums: %w", err)
		}

		m.ParseSHASums(string(body))
	}

	return nil
}

// CollectSHASumsURLs collects SHA256 sums URLs from the configuration.
func (m *Manager) CollectSHASumsURLs() ([]string, error) {
	var sumsURLs []string

	sources := []string{
		m.cfg.DepManager.YTdlpSHA256SumsURL,
		m.cfg.DepManager.FFmpegSHA256SumsURL,
		m.cfg.DepManager.DenoSHA256SumsURL,
	}

	for _, raw := range sources {
		for part := range strings.SplitSeq(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				sumsURLs = append(sumsURLs, part)
			}
		}
	}

	if len(sumsURLs) == 0 {
		return nil, errors.New("no SHA256 sums URLs configured")
	}

	return sumsURLs, nil
}

// ParseSHASums parses SHA256 sums from content in the format "hash  filename".
// A leading "*" (binary mode marker) and directory components are stripped from filenames.
func (m *Manager) ParseSHASums(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for line := range strings.SplitSeq(content, "\n") {
		parts := strings.Fields(line)
		if len(parts) != sha256SumsFieldCount {
			continue
		}

		hash := parts[0]
		filename := path.Base(strings.TrimPrefix(parts[1], "*"))

		if len(hash) != sha256HexLength {
			continue
		}

		m.shaSums[filename] = hash
	}

	m.log.Debug("parsed SHA256 sums", slog.Int("count", len(m.shaSums)))
}

// checkAndUpdate checks for updates and reinstalls tools whose artifact changed.
func (m *Manager) checkAndUpdate(ctx context.Context) {
	if !m.isUpdating.CompareAndSwap(false, true) {
		return
	}
	defer m.isUpdating.Store(false)

	log := m.log

	dir, err := m.ToolsDir()
	if err != nil {
		log.WarnContext(ctx, "update check: tools dir unavailable", slog.Any("error", err))

		return
	}

	if err := m.loadSavedSums(dir); err != nil {
		log.DebugContext(ctx, "update check: no saved checksums", slog.Any("error", err))
	}

	// Fetch current checksums
	err = m.FetchSHASums(ctx)
	if err != nil {
		log.WarnContext(ctx, "update check: failed to fetch checksums", slog.Any("error", err))

		return
	}

	// Compare with saved checksums
	updates := m.findUpdates()
	if len(updates) == 0 {
		log.DebugContext(ctx, "update check: no updates available")

		return
	}

	log.InfoContext(ctx, "update check: updates available", slog.Any("binaries", updates))

	for _, binary := range updates {
		if err := m.Upgrade(ctx, binary, nil); err != nil {
			log.ErrorContext(ctx, "update check: failed to update binary",
				slog.String("binary", string(binary)),
				slog.Any("error", err))

			continue
		}

		log.InfoContext(ctx, "update check: binary updated", slog.String("binary", string(binary)))
	}

	// Save new checksums
	if err := m.saveSums(dir); err != nil {
		log.WarnContext(ctx, "update check: failed to save checksums", slog.Any("error", err))
	}
}

// Upgrade reinstalls a tool even if its version check passes.
func (m *Manager) Upgrade(ctx context.Context, name BinaryName, tok *token.Token) error {
	if name == BinaryFFprobe {
		name = BinaryFFmpeg
	}

	mu, ok := m.installMu[name]
	if !ok {
		return &errs.InstallError{Tool: string(name), Err: errs.ErrBinaryNotFound}
	}

	mu.Lock()
	defer mu.Unlock()

	return m.install(ctx, name, tok)
}

// findUpdates compares fetched checksums with saved checksums and returns binaries that need updating.
func (m *Manager) findUpdates() []BinaryName {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var updates []BinaryName

	for _, binary := range Tools {
		filename := m.artifactFilename(binary)
		if filename == "" {
			continue
		}

		newHash, hasNew := m.shaSums[filename]
		oldHash, hasOld := m.savedSums[filename]

		// If we have a new hash and it differs from the old one (or no old hash exists)
		if hasNew && (!hasOld || newHash != oldHash) {
			updates = append(updates, binary)
		}
	}

	return updates
}

// artifactFilename returns the filename as it appears in SHA256SUMS for a binary.
func (m *Manager) artifactFilename(name BinaryName) string {
	src, ok := m.sources[name][m.platform.String()]
	if !ok {
		return ""
	}

	return path.Base(src.URL)
}

// loadSavedSums loads saved checksums from file.
func (m *Manager) loadSavedSums(dir string) error {
	filePath := filepath.Join(dir, savedSumsFilename)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	saved := make(map[string]string)
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	m.mu.Lock()
	m.savedSums = saved
	m.mu.Unlock()

	return nil
}

// saveSums saves current checksums to file for future comparison.
func (m *Manager) saveSums(dir string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.shaSums, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	filePath := filepath.Join(dir, savedSumsFilename)

	if err := os.WriteFile(filePath, data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	// Update savedSums to match shaSums
	m.mu.Lock()
	m.savedSums = make(map[string]string, len(m.shaSums))
	maps.Copy(m.savedSums, m.shaSums)
	m.mu.Unlock()

	return nil
}
