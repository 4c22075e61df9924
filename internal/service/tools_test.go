package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"tubefetch/internal/depmanager"
	"tubefetch/internal/errs"
	"tubefetch/internal/settings"
	"tubefetch/internal/token"
)

type fakeProvisioner struct {
	installs   int
	installErr error
}

func (f *fakeProvisioner) Status(context.Context) []depmanager.ToolStatus {
	return []depmanager.ToolStatus{{Name: depmanager.BinaryYTdlp, Version: "2025.01.01", Installed: f.installs > 0}}
}

func (f *fakeProvisioner) InstallAll(ctx context.Context, tok *token.Token) error {
	if tok == nil {
		return errors.New("install needs a token")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.installs++

	return f.installErr
}

func newTestTools(t *testing.T, prov Provisioner) (Tools, *settings.MemoryStore, string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := settings.NewMemoryStore()
	def := filepath.Join(t.TempDir(), "bins")

	return NewTools(log, prov, store, settings.ToolsDirResolver{Store: store, Default: def}), store, def
}

func TestToolsInstall(t *testing.T) {
	t.Parallel()

	prov := &fakeProvisioner{}
	tools, _, _ := newTestTools(t, prov)

	// a cancelled request must not abort the install
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	status, err := tools.Install(ctx)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	if prov.installs != 1 || len(status) != 1 || !status[0].Installed {
		t.Errorf("installs=%d status=%+v", prov.installs, status)
	}

	prov.installErr = errs.ErrUnsupportedPlatform

	if _, err := tools.Install(t.Context()); !errors.Is(err, errs.ErrUnsupportedPlatform) {
		t.Errorf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestSetToolsDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dir     string
		wantErr error
	}{
		{name: "empty", dir: "", wantErr: errs.ErrInvalidToolsDir},
		{name: "relative", dir: "bins", wantErr: errs.ErrInvalidToolsDir},
		{name: "absolute", dir: "custom/../tools"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tools, store, def := newTestTools(t, &fakeProvisioner{})

			dir := tc.dir
			if tc.wantErr == nil {
				dir = filepath.Join(t.TempDir(), tc.dir)
			}

			got, err := tools.SetToolsDir(t.Context(), dir)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}

				if store.Get(settings.KeyToolsDir, def) != def {
					t.Error("rejected dir must not be stored")
				}

				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if got != filepath.Clean(dir) {
				t.Errorf("resolved %q, want %q", got, filepath.Clean(dir))
			}

			if info, err := os.Stat(got); err != nil || !info.IsDir() {
				t.Errorf("tools dir should be created: %v", err)
			}
		})
	}
}
