package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"tubefetch/internal/consts"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/errs"
	"tubefetch/internal/settings"
	"tubefetch/internal/token"
)

// Provisioner installs and inspects the external tools.
type Provisioner interface {
	Status(ctx context.Context) []depmanager.ToolStatus
	InstallAll(ctx context.Context, tok *token.Token) error
}

// Tools is the tools management API used by the delivery layer.
type Tools interface {
	Status(ctx context.Context) []depmanager.ToolStatus
	Install(ctx context.Context) ([]depmanager.ToolStatus, error)
	SetToolsDir(ctx context.Context, dir string) (string, error)
}

type tools struct {
	log   *slog.Logger
	prov  Provisioner
	store settings.Store
	dirs  depmanager.DirResolver

	installMu sync.Mutex
}

var _ Tools = (*tools)(nil)

// NewTools creates the tools service. dirs must read store so a new tools dir applies to the next operation.
func NewTools(log *slog.Logger, prov Provisioner, store settings.Store, dirs depmanager.DirResolver) Tools {
	return &tools{
		log:   log.With(slog.String("package", "service"), slog.String("service", "tools")),
		prov:  prov,
		store: store,
		dirs:  dirs,
	}
}

func (t *tools) Status(ctx context.Context) []depmanager.ToolStatus {
	return t.prov.Status(ctx)
}

// Install provisions every missing tool. The install outlives the caller's context,
// bounded by DefaultInstallTimeout.
func (t *tools) Install(ctx context.Context) ([]depmanager.ToolStatus, error) {
	t.installMu.Lock()
	defer t.installMu.Unlock()

	installCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consts.DefaultInstallTimeout)
	defer cancel()

	if err := t.prov.InstallAll(installCtx, token.New()); err != nil {
		return nil, fmt.Errorf("install tools: %w", err)
	}

	return t.prov.Status(ctx), nil
}

// SetToolsDir stores an absolute tools directory override and returns the resolved directory.
func (t *tools) SetToolsDir(ctx context.Context, dir string) (string, error) {
	if dir == "" || !filepath.IsAbs(dir) {
		return "", errs.ErrInvalidToolsDir
	}

	if err := t.store.Set(settings.KeyToolsDir, filepath.Clean(dir)); err != nil {
		return "", fmt.Errorf("store tools dir: %w", err)
	}

	resolved, err := t.dirs.Resolve()
	if err != nil {
		return "", fmt.Errorf("resolve tools dir: %w", err)
	}

	t.log.InfoContext(ctx, "tools dir updated", slog.String("dir", resolved))

	return resolved, nil
}
