package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// PushFile uploads a local file to a remote path via SFTP, preserving the
// executable bit, and verifies the transfer with a sha256 checksum computed
// on the remote side.
func PushFile(ctx context.Context, client *xssh.Client, localPath, remotePath string) error {
	sum, err := fileChecksum(localPath)
	if err != nil {
		return fmt.Errorf("local checksum: %w", err)
	}
	sf, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	st, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local: %w", err)
	}
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote: %w", err)
	}
	if err := sf.Chmod(remotePath, st.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod remote: %w", err)
	}
	if err := verifyRemoteChecksum(client, remotePath, sum); err != nil {
		_ = sf.Remove(remotePath)
		return err
	}
	return nil
}

// PullFile downloads a remote file to a local path via SFTP.
func PullFile(ctx context.Context, client *xssh.Client, remotePath, localPath string) error {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("mkdir local: %w", err)
	}
	src, err := sf.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// PushDir uploads a local directory tree to a remote root via SFTP.
func PushDir(ctx context.Context, client *xssh.Client, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))
		if err := PushFile(ctx, client, p, remote); err != nil {
			return fmt.Errorf("push %s: %w", rel, err)
		}
		return nil
	})
}

func fileChecksum(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func verifyRemoteChecksum(client *xssh.Client, remotePath, expected string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("checksum session: %w", err)
	}
	defer session.Close()
	out, err := session.Output(fmt.Sprintf("sha256sum %s | cut -d' ' -f1", remotePath))
	if err != nil {
		return fmt.Errorf("remote checksum: %w", err)
	}
	got := strings.TrimSpace(string(out))
	if got != expected {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", remotePath, expected, got)
	}
	return nil
}
