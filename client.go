package sitedeploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// ErrNotDirectory is returned when a remote path that must be a directory
// exists as something else.
var ErrNotDirectory = errors.New("not a directory")

// RemoteFS abstracts the SFTP operations a deployment needs.
// This allows the walks to be tested without a server.
type RemoteFS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	RemoveDirectory(path string) error
	Mkdir(path string) error
	MkdirAll(path string) error
	Create(path string) (RemoteFile, error)
	Close() error
}

// RemoteFile is a remote file opened for writing.
type RemoteFile interface {
	io.Writer
	io.Closer
}

// sftpFS adapts *sftp.Client to RemoteFS.
type sftpFS struct {
	client *sftp.Client
}

var _ RemoteFS = (*sftpFS)(nil)

func (w *sftpFS) ReadDir(p string) ([]os.FileInfo, error) { return w.client.ReadDir(p) }
func (w *sftpFS) Lstat(p string) (os.FileInfo, error)     { return w.client.Lstat(p) }
func (w *sftpFS) Stat(p string) (os.FileInfo, error)      { return w.client.Stat(p) }
func (w *sftpFS) Remove(p string) error                   { return w.client.Remove(p) }
func (w *sftpFS) RemoveDirectory(p string) error          { return w.client.RemoveDirectory(p) }
func (w *sftpFS) Mkdir(p string) error                    { return w.client.Mkdir(p) }
func (w *sftpFS) MkdirAll(p string) error                 { return w.client.MkdirAll(p) }
func (w *sftpFS) Create(p string) (RemoteFile, error)     { return w.client.Create(p) }
func (w *sftpFS) Close() error                            { return w.client.Close() }

// Client is one authenticated SSH connection with an SFTP channel over it.
type Client struct {
	sshClient *ssh.Client
	fs        RemoteFS
	addr      string
}

// NewClient connects to config.Host and opens an SFTP channel. config.Timeout
// bounds the TCP dial and the SSH handshake only. When config.ConnectRetries
// is positive, transient network failures are retried with backoff.
func NewClient(ctx context.Context, config Config, logger logrus.FieldLogger) (*Client, error) {
	config = config.WithDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	authMethods, err := buildAuthMethods(config)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	retryConfig := NoRetryConfig()
	if config.ConnectRetries > 0 {
		retryConfig = DefaultRetryConfig()
		retryConfig.MaxRetries = config.ConnectRetries
	}
	retryConfig.Logger = logger

	var sshClient *ssh.Client
	err = Retry(ctx, retryConfig, "connect to "+addr, func() error {
		var dialErr error
		sshClient, dialErr = dialSSH(ctx, addr, sshConfig)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	rawSftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &Client{
		sshClient: sshClient,
		fs:        &sftpFS{client: rawSftpClient},
		addr:      addr,
	}, nil
}

// NewClientWithFS creates a Client over a custom RemoteFS implementation.
// This is primarily used for testing with in-memory filesystems.
func NewClientWithFS(fs RemoteFS, sshClient *ssh.Client) *Client {
	return &Client{
		sshClient: sshClient,
		fs:        fs,
	}
}

// dialSSH is ssh.Dial with context support. The deadline set for the
// handshake is cleared afterwards so later transfers are unbounded.
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(ncc, chans, reqs), nil
}

// Close closes the SFTP channel and then the SSH connection.
func (c *Client) Close() error {
	var errs []error
	if c.fs != nil {
		if err := c.fs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sftp: %w", err))
		}
	}
	if c.sshClient != nil {
		if err := c.sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close ssh: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the host:port the client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// ListDir returns the entries of a remote directory sorted by name.
func (c *Client) ListDir(ctx context.Context, dir string) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("operation cancelled: %w", err)
	}

	entries, err := c.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// Kind reports what a remote path is without following symlinks.
func (c *Client) Kind(ctx context.Context, remotePath string) (EntryKind, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("operation cancelled: %w", err)
	}

	info, err := c.fs.Lstat(remotePath)
	if err != nil {
		return "", err
	}
	return kindOf(info), nil
}

func kindOf(info os.FileInfo) EntryKind {
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// RemoveFile removes a non-directory entry.
func (c *Client) RemoveFile(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}
	return c.fs.Remove(remotePath)
}

// RemoveEmptyDir removes an empty directory.
func (c *Client) RemoveEmptyDir(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}
	return c.fs.RemoveDirectory(remotePath)
}

// EnsureDir creates dir when a probe reports it missing and returns whether
// it was created. With parents set, missing parents are created as well.
// Any probe error other than "not exist" is returned.
func (c *Client) EnsureDir(ctx context.Context, dir string, parents bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("operation cancelled: %w", err)
	}

	info, err := c.fs.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
		}
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	if parents {
		err = c.fs.MkdirAll(dir)
	} else {
		err = c.fs.Mkdir(dir)
	}
	if err != nil {
		return false, fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}
	return true, nil
}

// UploadFile copies a local file to remotePath, truncating any existing
// remote file, and returns the number of bytes written.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("operation cancelled: %w", err)
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteFile, err := c.fs.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	type copyResult struct {
		n   int64
		err error
	}
	done := make(chan copyResult, 1)
	go func() {
		n, err := io.Copy(remoteFile, localFile)
		done <- copyResult{n, err}
	}()

	select {
	case <-ctx.Done():
		// Closing the remote file unblocks the copy; wait for it to stop
		// before the deferred closes run.
		_ = remoteFile.Close()
		<-done
		return 0, fmt.Errorf("upload cancelled: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return r.n, fmt.Errorf("failed to copy file content: %w", r.err)
		}
		if err := remoteFile.Close(); err != nil {
			return r.n, fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
		}
		return r.n, nil
	}
}

// Helper functions

func buildAuthMethods(config Config) ([]ssh.AuthMethod, error) {
	authMethod := config.AuthMethod
	if authMethod == "" {
		authMethod = inferAuthMethod(config)
	}

	switch authMethod {
	case AuthMethodPassword:
		if config.Password == "" {
			return nil, fmt.Errorf("password authentication requires password to be set")
		}
		return []ssh.AuthMethod{
			ssh.Password(config.Password),
			ssh.KeyboardInteractive(passwordChallenge(config.Password)),
		}, nil

	case AuthMethodPrivateKey:
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{keyAuth}, nil

	default:
		return nil, fmt.Errorf("unknown auth method %q", authMethod)
	}
}

func inferAuthMethod(config Config) AuthMethod {
	if config.Password != "" {
		return AuthMethodPassword
	}
	return AuthMethodPrivateKey
}

// passwordChallenge answers keyboard-interactive prompts with the password,
// which some shared hosts require instead of plain password auth.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func buildPrivateKeyAuth(config Config) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else if config.KeyPath != "" {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no SSH private key provided (set private_key or key_path)")
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExpandPath expands a leading ~ or ~/ to the home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
