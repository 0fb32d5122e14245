package sitedeploy

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func buildHostKeyCallback(config Config, logger logrus.FieldLogger) (ssh.HostKeyCallback, error) {
	switch config.HostKeyPolicy {
	case HostKeyInsecure:
		logger.WithField("host", config.Host).Warn("SSH host key verification disabled - this is insecure!")
		return ssh.InsecureIgnoreHostKey(), nil

	case HostKeyAcceptNew:
		return acceptNewHostKeyCallback(ExpandPath(config.KnownHostsFile), logger)

	case HostKeyStrict, "":
		knownHostsPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", knownHostsPath, err)
		}
		return callback, nil

	default:
		return nil, fmt.Errorf("unknown host key policy %q", config.HostKeyPolicy)
	}
}

// acceptNewHostKeyCallback trusts hosts on first use: a host missing from the
// known_hosts file is accepted and appended to it, while a host whose key
// changed is rejected. Keys accepted by this callback are remembered, so a
// retried handshake does not append the same host twice.
func acceptNewHostKeyCallback(knownHostsPath string, logger logrus.FieldLogger) (ssh.HostKeyCallback, error) {
	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts file %s: %w", knownHostsPath, err)
	}

	var mu sync.Mutex
	accepted := make(map[string]ssh.PublicKey)

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		mu.Lock()
		defer mu.Unlock()

		host := knownhosts.Normalize(hostname)
		if known, ok := accepted[host]; ok {
			if bytes.Equal(known.Marshal(), key.Marshal()) {
				return nil
			}
			return &knownhosts.KeyError{Want: []knownhosts.KnownKey{{Key: known, Filename: knownHostsPath}}}
		}

		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		if err := appendKnownHost(knownHostsPath, host, key); err != nil {
			return err
		}
		accepted[host] = key
		logger.WithFields(logrus.Fields{
			"host":        hostname,
			"fingerprint": ssh.FingerprintSHA256(key),
		}).Warn("Permanently added host key to known_hosts")
		return nil
	}, nil
}

func ensureKnownHostsFile(knownHostsPath string) error {
	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(knownHostsPath, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file %s: %w", knownHostsPath, err)
	}
	return f.Close()
}

func appendKnownHost(knownHostsPath, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{hostname}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to write known_hosts file: %w", err)
	}
	return f.Close()
}
