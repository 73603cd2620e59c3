package cvmfs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/command"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Server drives repositories through the cvmfs_server command line tool.
type Server struct {
	runner command.Runner
	cfg    config.CVMFSConfig
	log    *logger.Logger
}

func NewServer(runner command.Runner, cfg config.CVMFSConfig, log *logger.Logger) *Server {
	return &Server{
		runner: runner,
		cfg:    cfg,
		log:    log,
	}
}

// IsOpen looks for the repository in `cvmfs_server list`, which marks
// repositories with an open transaction as "in transaction".
func (s *Server) IsOpen(ctx context.Context, repository string) (bool, error) {
	res, err := s.run(ctx, "list")
	if err != nil {
		return false, err
	}

	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != repository {
			continue
		}
		return strings.Contains(scanner.Text(), "transaction"), nil
	}
	return false, nil
}

func (s *Server) Begin(ctx context.Context, repository string) error {
	_, err := s.run(ctx, "transaction", repository)
	return err
}

func (s *Server) Publish(ctx context.Context, repository string) error {
	if _, err := s.run(ctx, "publish", repository); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}
	return nil
}

func (s *Server) Abort(ctx context.Context, repository string) error {
	_, err := s.run(ctx, "abort", "-f", repository)
	return err
}

// Ingest extracts a tarball below baseDir in a single backend transaction.
func (s *Server) Ingest(ctx context.Context, repository, archivePath, baseDir string) error {
	_, err := s.run(ctx, "ingest", "-t", archivePath, "-b", baseDir, repository)
	return err
}

// Create makes a repository writable through the gateway using the keys
// found in keyDir.
func (s *Server) Create(ctx context.Context, repository, keyDir string) error {
	args := []string{
		"mkfs",
		"-w", s.cfg.Stratum0URL + repository,
		"-u", fmt.Sprintf("gw,/srv/cvmfs/%s/data/txn,%s", repository, s.cfg.UpstreamStorage),
		"-k", keyDir,
	}
	if s.cfg.Owner != "" {
		args = append(args, "-o", s.cfg.Owner)
	}
	args = append(args, repository)

	_, err := s.runner.Run(ctx, s.cfg.ServerBinary, args...)
	if err == nil {
		s.log.Info(ctx, "Repository created", "repository", repository)
		return nil
	}

	var cmdErr *command.Error
	if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "already exists") {
		return fmt.Errorf("%w: %s", domain.ErrRepositoryExists, repository)
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}

func (s *Server) run(ctx context.Context, args ...string) (command.Result, error) {
	res, err := s.runner.Run(ctx, s.cfg.ServerBinary, args...)
	if err != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		s.log.Warn(ctx, "cvmfs_server reported warnings", "command", args[0], "stderr", stderr)
	}
	return res, nil
}
