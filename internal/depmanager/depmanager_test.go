//nolint:testpackage // using internal package access to cover private helpers
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/errs"
	"tubefetch/internal/fetcher"
	"tubefetch/internal/token"

	"github.com/ulikunitz/xz"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type staticDir string

func (d staticDir) Resolve() (string, error) { return string(d), nil }

func okResponse(r *http.Request, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

// commandLog records commands and answers version checks for binaries that exist on disk.
type commandLog struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (c *commandLog) run(_ context.Context, name string, args ...string) ([]byte, error) {
	c.mu.Lock()
	c.calls = append(c.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	err := c.fail[name]
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(args) == 1 && (args[0] == "--version" || args[0] == "-version") {
		if _, err := os.Stat(name); err != nil {
			return nil, err
		}

		return []byte("\n1.2.3 test build\nsecond line\n"), nil
	}

	return nil, nil
}

func (c *commandLog) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.calls)
}

func newTestManager(t *testing.T, rt http.RoundTripper, sources Sources) (*Manager, string, *commandLog) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DepManager: config.DepManager{
			BinsDir:                dir,
			PackageManagerFallback: true,
		},
	}

	f := fetcher.New(slog.Default(), fetcher.Options{
		MaxRedirects:  3,
		MaxRetries:    1,
		BackoffBase:   time.Millisecond,
		BackoffFactor: 2,
	}, fetcher.WithTransport(rt))

	cmds := &commandLog{fail: make(map[string]error)}

	mgr := New(slog.Default(), cfg, staticDir(dir), f, nil)
	mgr.platform = Platform{OS: "linux", Arch: "amd64"}
	mgr.sources = sources
	mgr.run = cmds.run
	mgr.lookPath = func(string) (string, error) { return "", errors.New("not in PATH") }

	return mgr, dir, cmds
}

func tarXZ(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	xzw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}

	tw := tar.NewWriter(xzw)

	for name, data := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}

		if _, err := tw.Write(data); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}

	if err := xzw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}

	return buf.Bytes()
}

func zipArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}

		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	return buf.Bytes()
}

func TestParseSHASums(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		wantLen  int
		wantHash map[string]string
	}{
		{
			name: "valid sums",
			content: `abc123def456789012345678901234567890123456789012345678901234abcd  yt-dlp_macos
def456abc789012345678901234567890123456789012345678901234567efgh  yt-dlp_linux`,
			wantLen: 2,
			wantHash: map[string]string{
				"yt-dlp_macos": "abc123def456789012345678901234567890123456789012345678901234abcd",
				"yt-dlp_linux": "def456abc789012345678901234567890123456789012345678901234567efgh",
			},
		},
		{
			name:     "binary marker and directory stripped",
			content:  strings.Repeat("a", sha256HexLength) + "  *dist/deno-x86_64-unknown-linux-gnu.zip",
			wantLen:  1,
			wantHash: map[string]string{"deno-x86_64-unknown-linux-gnu.zip": strings.Repeat("a", sha256HexLength)},
		},
		{
			name:     "empty content",
			content:  "",
			wantLen:  0,
			wantHash: map[string]string{},
		},
		{
			name:     "invalid hash length",
			content:  "short  filename",
			wantLen:  0,
			wantHash: map[string]string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr, _, _ := newTestManager(t, nil, nil)
			mgr.ParseSHASums(tc.content)

			if len(mgr.shaSums) != tc.wantLen {
				t.Errorf("got %d sums, want %d", len(mgr.shaSums), tc.wantLen)
			}

			for filename, wantHash := range tc.wantHash {
				if got := mgr.shaSums[filename]; got != wantHash {
					t.Errorf("hash for %s: got %s, want %s", filename, got, wantHash)
				}
			}
		})
	}
}

func TestBinaryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		binary BinaryName
		os     string
		want   string
	}{
		{name: "yt-dlp on linux", binary: BinaryYTdlp, os: "linux", want: "yt-dlp"},
		{name: "yt-dlp on windows", binary: BinaryYTdlp, os: "windows", want: "yt-dlp.exe"},
		{name: "ffprobe on darwin", binary: BinaryFFprobe, os: "darwin", want: "ffprobe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr, dir, _ := newTestManager(t, nil, nil)
			mgr.platform.OS = tc.os

			got, err := mgr.BinaryPath(tc.binary)
			if err != nil {
				t.Fatalf("BinaryPath: %v", err)
			}

			if want := filepath.Join(dir, tc.want); got != want {
				t.Errorf("got %s, want %s", got, want)
			}
		})
	}
}

func TestDefaultSourcesLookup(t *testing.T) {
	t.Parallel()

	sources := DefaultSources(config.DepManager{
		YTdlpBaseURL:  "https://example.com/ytdlp",
		FFmpegBaseURL: "https://example.com/ffmpeg/",
		FFmpegMacURL:  "https://example.com/mac/ffmpeg.zip",
		DenoBaseURL:   "https://example.com/deno/",
	})

	tests := []struct {
		binary   BinaryName
		platform string
		wantURL  string
		archive  Archive
		members  []string
	}{
		{BinaryYTdlp, "linux/arm64", "https://example.com/ytdlp/yt-dlp_linux_aarch64", ArchiveNone, []string{"yt-dlp"}},
		{BinaryYTdlp, "windows/amd64", "https://example.com/ytdlp/yt-dlp.exe", ArchiveNone, []string{"yt-dlp.exe"}},
		{BinaryFFmpeg, "linux/amd64", "https://example.com/ffmpeg/ffmpeg-master-latest-linux64-gpl.tar.xz", ArchiveTarXZ, []string{"ffmpeg", "ffprobe"}},
		{BinaryFFmpeg, "darwin/arm64", "https://example.com/mac/ffmpeg.zip", ArchiveZip, []string{"ffmpeg"}},
		{BinaryDeno, "darwin/amd64", "https://example.com/deno/deno-x86_64-apple-darwin.zip", ArchiveZip, []string{"deno"}},
	}

	for _, tc := range tests {
		src, ok := sources[tc.binary][tc.platform]
		if !ok {
			t.Errorf("%s %s: missing source", tc.binary, tc.platform)

			continue
		}

		if src.URL != tc.wantURL || src.Archive != tc.archive || !slices.Equal(src.Members, tc.members) {
			t.Errorf("%s %s: got %+v", tc.binary, tc.platform, src)
		}
	}

	if _, ok := sources[BinaryFFmpeg]["windows/arm64"]; ok {
		t.Error("windows/arm64 ffmpeg should be unsupported")
	}
}

func TestCheckVersion(t *testing.T) {
	t.Parallel()

	mgr, dir, cmds := newTestManager(t, nil, nil)

	if _, ok := mgr.CheckVersion(t.Context(), BinaryYTdlp, nil); ok {
		t.Fatal("missing binary must report absent")
	}

	if len(cmds.commands()) != 0 {
		t.Error("missing binary must not be executed")
	}

	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("bin"), 0o755); err != nil {
		t.Fatal(err)
	}

	version, ok := mgr.CheckVersion(t.Context(), BinaryFFmpeg, nil)
	if !ok || version != "1.2.3 test build" {
		t.Errorf("CheckVersion() = %q, %v", version, ok)
	}

	if got := cmds.commands(); len(got) != 1 || !strings.HasSuffix(got[0], "ffmpeg -version") {
		t.Errorf("commands = %v", got)
	}

	cmds.fail[filepath.Join(dir, "ffmpeg")] = errors.New("exit status 1")

	if _, ok := mgr.CheckVersion(t.Context(), BinaryFFmpeg, nil); ok {
		t.Error("non-zero exit must report absent")
	}
}

func TestInstallUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	rt := rtFunc(func(*http.Request) (*http.Response, error) {
		t.Error("no network call expected for an unsupported platform")

		return nil, errors.New("unreachable")
	})

	mgr, _, _ := newTestManager(t, rt, DefaultSources(config.DepManager{YTdlpBaseURL: "https://example.com/"}))
	mgr.platform = Platform{OS: "freebsd", Arch: "riscv64"}

	err := mgr.Install(t.Context(), BinaryYTdlp, nil)
	if !errors.Is(err, errs.ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}

	var installErr *errs.InstallError
	if !errors.As(err, &installErr) || installErr.Tool != "yt-dlp" {
		t.Errorf("expected InstallError for yt-dlp, got %v", err)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	payload := bytes.Repeat([]byte{0x7f}, 64)

	rt := rtFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)

		return okResponse(r, payload), nil
	})

	mgr, dir, _ := newTestManager(t, rt, Sources{
		BinaryYTdlp: {"linux/amd64": {URL: "https://example.com/yt-dlp_linux", Members: []string{"yt-dlp"}, MinSize: 16}},
	})

	if err := mgr.Install(t.Context(), BinaryYTdlp, token.New()); err != nil {
		t.Fatalf("first Install: %v", err)
	}

	if requests.Load() != 1 {
		t.Fatalf("requests after first install = %d, want 1", requests.Load())
	}

	if err := mgr.Install(t.Context(), BinaryYTdlp, token.New()); err != nil {
		t.Fatalf("second Install: %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("second install made %d extra requests", requests.Load()-1)
	}

	info, err := os.Stat(filepath.Join(dir, "yt-dlp"))
	if err != nil {
		t.Fatalf("stat binary: %v", err)
	}

	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		t.Errorf("binary is not executable: %v", info.Mode())
	}

	if _, err := os.Stat(filepath.Join(dir, "yt-dlp.download")); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary download must not remain")
	}
}

func TestInstallExtractsTarXZ(t *testing.T) {
	t.Parallel()

	ffmpeg := bytes.Repeat([]byte("f"), 128)
	ffprobe := bytes.Repeat([]byte("p"), 96)

	archive := tarXZ(t, map[string][]byte{
		"ffmpeg-master-latest-linux64-gpl/bin/ffmpeg":  ffmpeg,
		"ffmpeg-master-latest-linux64-gpl/bin/ffprobe": ffprobe,
		"ffmpeg-master-latest-linux64-gpl/LICENSE.txt": []byte("gpl"),
	})

	rt := rtFunc(func(r *http.Request) (*http.Response, error) { return okResponse(r, archive), nil })

	mgr, dir, _ := newTestManager(t, rt, Sources{
		BinaryFFmpeg: {"linux/amd64": {
			URL:     "https://example.com/ffmpeg-master-latest-linux64-gpl.tar.xz",
			Archive: ArchiveTarXZ,
			Members: []string{"ffmpeg", "ffprobe"},
			MinSize: 32,
		}},
	})

	if err := mgr.Install(t.Context(), BinaryFFprobe, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for name, want := range map[string][]byte{"ffmpeg": ffmpeg, "ffprobe": ffprobe} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}

		if !bytes.Equal(got, want) {
			t.Errorf("%s content mismatch", name)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "LICENSE.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("only target members may be extracted")
	}

	if _, err := os.Stat(filepath.Join(dir, ".download-ffmpeg.tar.xz")); !errors.Is(err, os.ErrNotExist) {
		t.Error("archive must be removed after extraction")
	}
}

func TestInstallDenoZipCreatesCacheDir(t *testing.T) {
	t.Parallel()

	archive := zipArchive(t, map[string][]byte{"deno": bytes.Repeat([]byte("d"), 64)})

	rt := rtFunc(func(r *http.Request) (*http.Response, error) { return okResponse(r, archive), nil })

	mgr, dir, _ := newTestManager(t, rt, Sources{
		BinaryDeno: {"linux/amd64": {
			URL:     "https://example.com/deno-x86_64-unknown-linux-gnu.zip",
			Archive: ArchiveZip,
			Members: []string{"deno"},
			MinSize: 8,
		}},
	})

	if err := mgr.Install(t.Context(), BinaryDeno, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, DenoCacheDirName)); err != nil || !info.IsDir() {
		t.Errorf("deno cache dir missing: %v", err)
	}
}

func TestInstallUndersizedUsesPackageManager(t *testing.T) {
	t.Parallel()

	rt := rtFunc(func(r *http.Request) (*http.Response, error) { return okResponse(r, []byte("<html>")), nil })

	mgr, dir, cmds := newTestManager(t, rt, Sources{
		BinaryYTdlp: {"linux/amd64": {URL: "https://example.com/yt-dlp_linux", Members: []string{"yt-dlp"}, MinSize: 1024}},
	})

	systemBin := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(systemBin, []byte("system"), 0o755); err != nil {
		t.Fatal(err)
	}

	mgr.lookPath = func(name string) (string, error) {
		if name == "yt-dlp" {
			return systemBin, nil
		}

		return "", errors.New("not found")
	}

	if err := mgr.Install(t.Context(), BinaryYTdlp, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "yt-dlp")); !errors.Is(err, os.ErrNotExist) {
		t.Error("undersized binary must be deleted")
	}

	if !slices.Contains(cmds.commands(), "apt-get install -y yt-dlp") {
		t.Errorf("package manager not invoked, commands = %v", cmds.commands())
	}

	got, err := mgr.BinaryPath(BinaryYTdlp)
	if err != nil || got != systemBin {
		t.Errorf("BinaryPath() = %q, %v, want %q", got, err, systemBin)
	}
}

func TestInstallUndersizedWithoutFallback(t *testing.T) {
	t.Parallel()

	rt := rtFunc(func(r *http.Request) (*http.Response, error) { return okResponse(r, []byte("tiny")), nil })

	mgr, _, cmds := newTestManager(t, rt, Sources{
		BinaryDeno: {"linux/amd64": {URL: "https://example.com/deno", Members: []string{"deno"}, MinSize: 1024}},
	})

	err := mgr.Install(t.Context(), BinaryDeno, nil)
	if !errors.Is(err, errs.ErrBinaryUndersized) || !errors.Is(err, errs.ErrNoFallback) {
		t.Fatalf("expected undersized and no-fallback errors, got %v", err)
	}

	for _, c := range cmds.commands() {
		if strings.HasPrefix(c, "apt-get") {
			t.Errorf("deno has no apt fallback, but %q ran", c)
		}
	}
}

func TestInstallCancelled(t *testing.T) {
	t.Parallel()

	rt := rtFunc(func(*http.Request) (*http.Response, error) {
		t.Error("no request expected after cancellation")

		return nil, errors.New("unreachable")
	})

	mgr, _, _ := newTestManager(t, rt, Sources{
		BinaryYTdlp: {"linux/amd64": {URL: "https://example.com/yt-dlp_linux", Members: []string{"yt-dlp"}}},
	})

	tok := token.New()
	tok.Cancel("stop")

	if err := mgr.Install(t.Context(), BinaryYTdlp, tok); !errs.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestFetchSHASums(t *testing.T) {
	t.Parallel()

	shaContent := `abc123def456789012345678901234567890123456789012345678901234abcd  yt-dlp_macos
def456abc789012345678901234567890123456789012345678901234567efgh  yt-dlp_linux`

	rt := rtFunc(func(r *http.Request) (*http.Response, error) { return okResponse(r, []byte(shaContent)), nil })

	mgr, _, _ := newTestManager(t, rt, nil)
	mgr.cfg.DepManager.YTdlpSHA256SumsURL = "https://example.com/SHA2-256SUMS"

	if err := mgr.FetchSHASums(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mgr.shaSums) != 2 {
		t.Errorf("got %d sums, want 2", len(mgr.shaSums))
	}
}

func TestFetchSHASums_ServerError(t *testing.T) {
	t.Parallel()

	rt := rtFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusForbidden,
			Header:     make(http.Header),
			Body:       http.NoBody,
			Request:    r,
		}, nil
	})

	mgr, _, _ := newTestManager(t, rt, nil)
	mgr.cfg.DepManager.YTdlpSHA256SumsURL = "https://example.com/SHA2-256SUMS"

	if err := mgr.FetchSHASums(t.Context()); err == nil {
		t.Error("expected error for server error response")
	}
}

func TestFindUpdates(t *testing.T) {
	t.Parallel()

	sources := Sources{
		BinaryYTdlp:  {"linux/amd64": {URL: "https://example.com/yt-dlp_linux"}},
		BinaryFFmpeg: {"linux/amd64": {URL: "https://example.com/ffmpeg-master-latest-linux64-gpl.tar.xz"}},
	}

	oldHash := strings.Repeat("b", sha256HexLength)
	newHash := strings.Repeat("a", sha256HexLength)

	tests := []struct {
		name  string
		saved map[string]string
		sums  map[string]string
		want  []BinaryName
	}{
		{
			name:  "changed hash",
			saved: map[string]string{"yt-dlp_linux": oldHash},
			sums:  map[string]string{"yt-dlp_linux": newHash},
			want:  []BinaryName{BinaryYTdlp},
		},
		{
			name:  "no changes",
			saved: map[string]string{"yt-dlp_linux": oldHash},
			sums:  map[string]string{"yt-dlp_linux": oldHash},
			want:  nil,
		},
		{
			name:  "first sighting",
			saved: map[string]string{},
			sums:  map[string]string{"ffmpeg-master-latest-linux64-gpl.tar.xz": newHash},
			want:  []BinaryName{BinaryFFmpeg},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr, _, _ := newTestManager(t, nil, sources)
			mgr.savedSums = tc.saved
			mgr.shaSums = tc.sums

			if got := mgr.findUpdates(); !slices.Equal(got, tc.want) {
				t.Errorf("findUpdates() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSaveAndLoadSums(t *testing.T) {
	t.Parallel()

	mgr, dir, _ := newTestManager(t, nil, nil)

	mgr.shaSums = map[string]string{
		"file1": "hash1234567890123456789012345678901234567890123456789012345678",
		"file2": "hash2234567890123456789012345678901234567890123456789012345678",
	}

	if err := mgr.saveSums(dir); err != nil {
		t.Fatalf("failed to save sums: %v", err)
	}

	mgr2, _, _ := newTestManager(t, nil, nil)
	if err := mgr2.loadSavedSums(dir); err != nil {
		t.Fatalf("failed to load sums: %v", err)
	}

	if len(mgr2.savedSums) != 2 {
		t.Errorf("expected 2 saved sums, got %d", len(mgr2.savedSums))
	}

	if mgr2.savedSums["file1"] != mgr.shaSums["file1"] {
		t.Errorf("hash mismatch for file1")
	}
}

func TestCollectSHASumsURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.DepManager
		wantLen int
		wantErr bool
	}{
		{
			name:    "single URL",
			cfg:     config.DepManager{YTdlpSHA256SumsURL: "https://example.com/sha256sums"},
			wantLen: 1,
		},
		{
			name:    "multiple URLs with comma",
			cfg:     config.DepManager{DenoSHA256SumsURL: "https://example.com/sum1, https://example.com/sum2"},
			wantLen: 2,
		},
		{
			name: "multiple sources",
			cfg: config.DepManager{
				YTdlpSHA256SumsURL:  "https://example.com/ytdlp",
				FFmpegSHA256SumsURL: "https://example.com/ffmpeg",
				DenoSHA256SumsURL:   "https://example.com/deno",
			},
			wantLen: 3,
		},
		{
			name:    "no URLs configured",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr, _, _ := newTestManager(t, nil, nil)
			mgr.cfg.DepManager = tc.cfg

			urls, err := mgr.CollectSHASumsURLs()
			if (err != nil) != tc.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tc.wantErr)
			}

			if len(urls) != tc.wantLen {
				t.Errorf("got %d URLs, want %d", len(urls), tc.wantLen)
			}
		})
	}
}

func TestCheckAndUpdateReinstallsChangedTool(t *testing.T) {
	t.Parallel()

	const updated = "updated binary content"

	newHash := strings.Repeat("a", sha256HexLength)
	oldHash := strings.Repeat("b", sha256HexLength)

	rt := rtFunc(func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "SHA2-256SUMS") {
			return okResponse(r, []byte(newHash+"  yt-dlp_linux\n")), nil
		}

		return okResponse(r, []byte(updated)), nil
	})

	mgr, dir, _ := newTestManager(t, rt, Sources{
		BinaryYTdlp: {"linux/amd64": {URL: "https://example.com/yt-dlp_linux", Members: []string{"yt-dlp"}, MinSize: 4}},
	})
	mgr.cfg.DepManager.YTdlpSHA256SumsURL = "https://example.com/SHA2-256SUMS"

	if err := os.WriteFile(filepath.Join(dir, "yt-dlp"), []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	mgr.shaSums = map[string]string{"yt-dlp_linux": oldHash}
	if err := mgr.saveSums(dir); err != nil {
		t.Fatal(err)
	}

	mgr.checkAndUpdate(t.Context())

	got, err := os.ReadFile(filepath.Join(dir, "yt-dlp"))
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}

	if string(got) != updated {
		t.Errorf("binary content = %q, want %q", got, updated)
	}

	if mgr.savedSums["yt-dlp_linux"] != newHash {
		t.Error("saved sums must be refreshed after update")
	}
}
