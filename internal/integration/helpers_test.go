//go:build integration
// +build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/downloader"
	"tubefetch/internal/fetcher"
	httprouter "tubefetch/internal/infrastructure/delivery/http"
	"tubefetch/internal/observability"
	"tubefetch/internal/service"
	"tubefetch/internal/settings"
	"tubefetch/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
)

const describeJSON = `{
  "_type": "video",
  "id": "vid-123",
  "title": "Fake Video",
  "extractor": "youtube",
  "formats": [
    {"format_id": "137", "vcodec": "avc1.640028", "acodec": "none", "ext": "mp4", "height": 1080},
    {"format_id": "140", "vcodec": "none", "acodec": "mp4a.40.2", "ext": "m4a", "abr": 129.5}
  ]
}`

// fakeYTdlp answers --version and -J, and otherwise behaves according to $TOOLS/mode:
// "success" writes the artifact, "slow" reports some progress and hangs, "fail" exits 1.
const fakeYTdlp = `#!/bin/sh
case " $* " in
*" --version "*)
  echo 2025.09.26
  exit 0
  ;;
*" -J "*)
  cat "$TOOLS/describe.json"
  exit 0
  ;;
esac
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
case "$(cat "$TOOLS/mode")" in
slow)
  echo "[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 00:09"
  exec sleep 30
  ;;
fail)
  echo "ERROR: [youtube] vid-123: Video unavailable" >&2
  exit 1
  ;;
esac
echo "[download]  50.0% of 10.00MiB at 1.00MiB/s ETA 00:05"
echo "[download] 100% of 10.00MiB in 00:10"
echo "[download] 100% of 1.00MiB in 00:01"
printf 'fake-media-bytes' > "$(echo "$out" | sed 's/%(ext)s/mp4/')"
`

type fixture struct {
	cfg     *config.Config
	tools   string
	depMgr  *depmanager.Manager
	engine  *downloader.Engine
	storer  storage.Storer
	metrics *observability.Metrics
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("integration fake yt-dlp helper uses shell script")
	}

	baseDir := t.TempDir()
	tools := filepath.Join(baseDir, "bins")
	downloads := filepath.Join(baseDir, "downloads")

	for _, dir := range []string{tools, downloads} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	script := "#!/bin/sh\nTOOLS=\"" + tools + "\"\n" + fakeYTdlp[len("#!/bin/sh\n"):]

	files := map[string]string{
		"yt-dlp":        script,
		"describe.json": describeJSON,
		"mode":          mode,
	}

	for name, body := range files {
		if err := os.WriteFile(filepath.Join(tools, name), []byte(body), 0o755); err != nil { //nolint:gosec
			t.Fatalf("write %s: %v", name, err)
		}
	}

	cfg := &config.Config{
		Job:        config.Job{Workers: 1, QueueSize: 10, StopGracePeriod: 2 * time.Second},
		Storage:    config.Storage{TTL: time.Hour, CleanupInterval: time.Hour},
		Dir:        config.Dir{Downloads: downloads},
		DepManager: config.DepManager{BinsDir: tools},
		InfoCache:  config.InfoCache{TTL: time.Minute, Capacity: 10},
		Format:     config.Format{PreferredLanguages: []string{"en"}},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.New(prometheus.NewRegistry())
	dirs := settings.ToolsDirResolver{Store: settings.NewMemoryStore(), Default: tools}
	depMgr := depmanager.New(log, cfg, dirs, fetcher.New(log, fetcher.DefaultOptions()), metrics)

	return &fixture{
		cfg:     cfg,
		tools:   tools,
		depMgr:  depMgr,
		engine:  downloader.New(log, cfg, depMgr, metrics),
		storer:  storage.New(t.Context(), log, cfg, metrics),
		metrics: metrics,
	}
}

type httpFixture struct {
	*fixture

	client *http.Client
	url    string
}

func newHTTPFixture(t *testing.T, mode string, mutateCfg func(cfg *config.Config)) *httpFixture {
	t.Helper()

	base := newFixture(t, mode)
	if mutateCfg != nil {
		mutateCfg(base.cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.New(base.cfg, log, base.storer, base.engine, base.metrics)
	workerCtx, cancel := context.WithCancel(t.Context())
	svc.Start(workerCtx)

	tools := service.NewTools(log, base.depMgr, settings.NewMemoryStore(), settings.ToolsDirResolver{Default: base.tools})
	router := httprouter.New(log, base.cfg, svc, tools, base.metrics)
	server := httptest.NewServer(router)
	client := server.Client()
	client.Timeout = 3 * time.Second

	t.Cleanup(func() {
		cancel()
		server.Close()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()

		_ = svc.Shutdown(shutdownCtx)
	})

	return &httpFixture{
		fixture: base,
		client:  client,
		url:     server.URL,
	}
}
