package baseline

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/config"
)

// Syncer downloads the published baseline dataset from the factor
// publisher's FTP drop and installs it atomically at the local path.
type Syncer struct {
	cfg config.BaselineConfig
}

// NewSyncer creates a Syncer from the baseline configuration.
func NewSyncer(cfg config.BaselineConfig) *Syncer {
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = 30
	}
	return &Syncer{cfg: cfg}
}

// Sync fetches the remote dataset, validates that it parses, and replaces
// the local file. The previous dataset stays in place on any failure.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	if s.cfg.SyncAddr == "" {
		return 0, eris.New("baseline: sync address not configured")
	}

	addr := s.cfg.SyncAddr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	zap.L().Debug("baseline: connecting",
		zap.String("addr", addr),
		zap.String("remote", s.cfg.SyncRemote))

	conn, err := ftp.Dial(addr,
		ftp.DialWithTimeout(time.Duration(s.cfg.SyncTimeout)*time.Second),
		ftp.DialWithContext(ctx))
	if err != nil {
		return 0, eris.Wrap(err, "baseline: ftp dial")
	}
	defer conn.Quit()

	user, pass := s.cfg.SyncUser, s.cfg.SyncPass
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, eris.Wrap(err, "baseline: ftp login")
	}

	resp, err := conn.Retr(s.cfg.SyncRemote)
	if err != nil {
		return 0, eris.Wrapf(err, "baseline: retrieve %s", s.cfg.SyncRemote)
	}
	raw, err := io.ReadAll(resp)
	closeErr := resp.Close()
	if err != nil {
		return 0, eris.Wrap(err, "baseline: read remote dataset")
	}
	if closeErr != nil {
		return 0, eris.Wrap(closeErr, "baseline: close ftp response")
	}

	ds, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	if ds.Len() == 0 {
		return 0, eris.New("baseline: remote dataset is empty")
	}

	if err := installFile(s.cfg.Path, raw); err != nil {
		return 0, err
	}

	zap.L().Info("baseline: dataset synced",
		zap.String("path", s.cfg.Path),
		zap.Int("entries", ds.Len()))

	return ds.Len(), nil
}

// installFile writes raw to path via a same-directory temp file and rename,
// so readers never observe a partially written dataset.
func installFile(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "baseline: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".baselines-*.yaml")
	if err != nil {
		return eris.Wrap(err, "baseline: create temp file")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return eris.Wrap(err, "baseline: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrap(err, "baseline: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "baseline: install %s", path)
	}
	return nil
}
