package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/config"
	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// session is the resolved configuration and workspace a command runs against.
type session struct {
	cfg      *config.Config
	ws       *workspace.Workspace
	buildDir string
	ctx      context.Context
}

func loadSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return nil, err
	}

	path, err := workspaceFile(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.Load(path)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.New(cmd.ErrOrStderr(), cfg.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return &session{
		cfg:      cfg,
		ws:       ws,
		buildDir: cfg.ResolveBuildDir(ws.Root),
		ctx:      ctxlog.WithLogger(ctx, logger),
	}, nil
}

// workspaceFile resolves a file or directory argument to a workspace description file.
func workspaceFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", codes.Configuration("workspace %s: %v", path, err)
	}

	if !info.IsDir() {
		return path, nil
	}

	found := workspace.Find(path)
	if found == "" {
		return "", codes.Configuration("no %s found in %s or any parent directory", workspace.FileNames[0], filepath.Clean(path))
	}

	return found, nil
}
