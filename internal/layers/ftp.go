package layers

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const ftpTimeout = 30 * time.Second

// fetchFTP downloads an ftp:// URL into dir and returns the local path. GIS
// drops from county partners usually land on anonymous FTP servers.
func fetchFTP(ctx context.Context, rawURL, dir string, logger *zap.Logger) (string, error) {
	host, remotePath, err := parseFTPURL(rawURL)
	if err != nil {
		return "", err
	}

	logger.Info("downloading layer source", zap.String("host", host), zap.String("path", remotePath))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return "", eris.Wrap(err, "layers: ftp dial")
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return "", eris.Wrap(err, "layers: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return "", eris.Wrap(err, "layers: ftp retrieve")
	}
	defer func() { _ = resp.Close() }()

	localPath := filepath.Join(dir, filepath.Base(remotePath))
	file, err := os.Create(localPath)
	if err != nil {
		return "", eris.Wrap(err, "layers: create download file")
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, resp); err != nil {
		return "", eris.Wrap(err, "layers: write download file")
	}
	return localPath, nil
}

func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "layers: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("layers: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	if u.Path == "" {
		return "", "", eris.New("layers: empty path in ftp url")
	}
	return host, u.Path, nil
}
