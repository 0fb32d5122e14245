package sitedeploy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// hiddenPrefix marks top-level remote entries that cleanup leaves alone,
// such as .htaccess or .well-known.
const hiddenPrefix = "."

func isHidden(name string) bool {
	return strings.HasPrefix(name, hiddenPrefix)
}

// Clean removes every non-hidden entry from the remote directory.
//
// Each entry's kind is read with Lstat before it is removed: directories are
// emptied recursively and then removed, everything else (symlinks included)
// is removed directly. Hidden entries inside removed directories are removed
// too. If the remote directory cannot be listed, a warning is logged and a
// skipped result is returned without error. Any other failure aborts.
func (d *Deployer) Clean(ctx context.Context) (*CleanResult, error) {
	if d.client == nil {
		return nil, ErrNotConnected
	}
	d.setState(StateCleaning)
	defer d.observe(StateCleaning, time.Now())

	dir := d.config.RemoteDir
	if err := validateRemoteDir(dir); err != nil {
		return nil, err
	}

	result := &CleanResult{RemoteDir: dir}
	log := d.logger.WithField("remote", dir)
	log.Info("Cleaning remote directory")

	entries, err := d.client.ListDir(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.WithError(err).Warn("Cannot list remote directory, skipping cleanup")
		result.Skipped = true
		result.Warning = err
		return result, nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if isHidden(name) {
			log.WithField("entry", name).Debug("Preserving hidden entry")
			result.Preserved = append(result.Preserved, name)
			continue
		}

		p := path.Join(dir, name)
		kind, err := d.removeEntry(ctx, p)
		if err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, RemovedEntry{Path: p, Kind: kind})

		if d.config.DryRun {
			log.WithField("kind", kind).Infof("Would remove %s", name)
		} else {
			log.WithField("kind", kind).Infof("Removed %s", name)
		}
	}

	return result, nil
}

func (d *Deployer) removeEntry(ctx context.Context, p string) (EntryKind, error) {
	kind, err := d.client.Kind(ctx, p)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if d.config.DryRun {
		return kind, nil
	}

	if kind == KindDirectory {
		if err := d.removeTree(ctx, p); err != nil {
			return kind, err
		}
	} else if err := d.client.RemoveFile(ctx, p); err != nil {
		return kind, fmt.Errorf("failed to remove %s: %w", p, err)
	}

	d.metrics.entryRemoved(kind)
	return kind, nil
}

func (d *Deployer) removeTree(ctx context.Context, dir string) error {
	entries, err := d.client.ListDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		if _, err := d.removeEntry(ctx, path.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	if err := d.client.RemoveEmptyDir(ctx, dir); err != nil {
		return fmt.Errorf("failed to remove directory %s: %w", dir, err)
	}
	return nil
}
