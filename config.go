package sitedeploy

import (
	"errors"
	"fmt"
	"path"
	"time"
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodPrivateKey uses SSH private key authentication.
	AuthMethodPrivateKey AuthMethod = "private_key"
)

// HostKeyPolicy controls how the server's host key is verified.
type HostKeyPolicy string

const (
	// HostKeyStrict only accepts hosts already present in the known_hosts file.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyAcceptNew accepts unknown hosts and records them in the
	// known_hosts file. A changed key for a known host is still rejected.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyInsecure accepts any host key.
	// WARNING: This disables host verification entirely.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// ErrUnsafeRemoteDir is returned when the remote target directory would
// cover the whole remote filesystem or is not absolute.
var ErrUnsafeRemoteDir = errors.New("unsafe remote directory")

// Config holds everything a deployment needs: the SSH connection and the
// source/destination pair.
type Config struct {
	// Host is the target SSH server hostname or IP address.
	Host string `yaml:"host"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port"`

	// User is the SSH username.
	User string `yaml:"user"`

	// AuthMethod specifies which authentication method to use.
	// If not set, it will be inferred from the provided credentials.
	AuthMethod AuthMethod `yaml:"auth_method"`

	// Password is the SSH password for password authentication.
	Password string `yaml:"password"`

	// PrivateKey is the SSH private key content (PEM encoded).
	// Takes precedence over KeyPath.
	PrivateKey string `yaml:"private_key"`

	// KeyPath is the path to the SSH private key file.
	KeyPath string `yaml:"key_path"`

	// Timeout bounds connection establishment (default 30s). It does not
	// apply to transfers or deletions.
	Timeout time.Duration `yaml:"timeout"`

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// Defaults to ~/.ssh/known_hosts.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// HostKeyPolicy selects host key verification (default strict).
	HostKeyPolicy HostKeyPolicy `yaml:"host_key_policy"`

	// LocalDir is the local build output directory whose contents are uploaded.
	LocalDir string `yaml:"local_dir"`

	// RemoteDir is the remote web root that is cleaned and replaced.
	RemoteDir string `yaml:"remote_dir"`

	// ExcludePatterns is a list of glob patterns skipped during upload.
	// Example: []string{"*.map", ".DS_Store"}
	ExcludePatterns []string `yaml:"exclude"`

	// DryRun only reports what would be removed and uploaded.
	DryRun bool `yaml:"dry_run"`

	// ConnectRetries is how many extra connection attempts are made on
	// transient network errors (default 0).
	ConnectRetries int `yaml:"connect_retries"`

	// PushgatewayURL, when set, receives run metrics after the deployment.
	PushgatewayURL string `yaml:"pushgateway_url"`

	// LogLevel is a logrus level name (default "info").
	LogLevel string `yaml:"log_level"`
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HostKeyPolicy == "" {
		c.HostKeyPolicy = HostKeyStrict
	}
	if c.KnownHostsFile == "" {
		c.KnownHostsFile = "~/.ssh/known_hosts"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate reports the first problem that would prevent a deployment.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Password == "" && c.PrivateKey == "" && c.KeyPath == "" {
		return errors.New("no credentials configured (set password, private_key or key_path)")
	}
	if c.LocalDir == "" {
		return errors.New("local_dir is required")
	}
	if err := validateRemoteDir(c.RemoteDir); err != nil {
		return err
	}
	switch c.HostKeyPolicy {
	case HostKeyStrict, HostKeyAcceptNew, HostKeyInsecure:
	default:
		return fmt.Errorf("unknown host key policy %q", c.HostKeyPolicy)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("connect_retries must not be negative, got %d", c.ConnectRetries)
	}
	return nil
}

func validateRemoteDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: remote_dir is required", ErrUnsafeRemoteDir)
	}
	if !path.IsAbs(dir) {
		return fmt.Errorf("%w: %q is not absolute", ErrUnsafeRemoteDir, dir)
	}
	if path.Clean(dir) == "/" {
		return fmt.Errorf("%w: refusing to clean %q", ErrUnsafeRemoteDir, dir)
	}
	return nil
}

// EntryKind is the kind of a remote directory entry.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
	KindSymlink   EntryKind = "symlink"
	KindOther     EntryKind = "other"
)

// RemovedEntry is a top-level remote entry removed during cleanup.
type RemovedEntry struct {
	// Path is the full remote path.
	Path string

	// Kind is what the entry was when it was removed.
	Kind EntryKind
}

// CleanResult represents the result of the cleanup phase.
type CleanResult struct {
	// RemoteDir is the directory that was cleaned.
	RemoteDir string

	// Removed lists removed top-level entries in listing order.
	Removed []RemovedEntry

	// Preserved lists hidden top-level entries that were left untouched.
	Preserved []string

	// Skipped is true when the directory could not be listed and cleanup
	// was skipped.
	Skipped bool

	// Warning holds the listing error when Skipped is true.
	Warning error
}

// UploadedFile represents a single transferred file.
type UploadedFile struct {
	// LocalPath is the source file path.
	LocalPath string

	// RemotePath is the destination file path.
	RemotePath string

	// Size is the number of bytes transferred.
	Size int64
}

// UploadResult represents the result of the upload phase.
type UploadResult struct {
	// Files contains every uploaded file in walk order.
	Files []UploadedFile

	// DirsCreated lists remote directories that did not exist before.
	DirsCreated []string

	// TotalBytes is the total size of all uploaded files.
	TotalBytes int64
}

// Report summarizes a full deployment run.
type Report struct {
	Clean   *CleanResult
	Upload  *UploadResult
	Listing []string

	// State is the final state of the deployer.
	State State

	Duration time.Duration
}
