package sitedeploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Upload mirrors the local directory onto the remote directory.
//
// The remote root is created with its parents if missing; nested directories
// are created one level at a time. Files are written in full, replacing any
// remote file of the same name. Local symlinks are followed. The first
// failure aborts the walk.
func (d *Deployer) Upload(ctx context.Context) (*UploadResult, error) {
	if d.client == nil {
		return nil, ErrNotConnected
	}
	d.setState(StateUploading)
	defer d.observe(StateUploading, time.Now())

	localDir := d.config.LocalDir
	info, err := statLocalDir(localDir)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"local":  localDir,
		"remote": d.config.RemoteDir,
	}).Info("Uploading")

	w := &uploadWalk{d: d, result: &UploadResult{}}
	if err := w.dir(ctx, localDir, d.config.RemoteDir, "", []os.FileInfo{info}); err != nil {
		return w.result, err
	}

	d.logger.WithField("size", humanize.Bytes(uint64(w.result.TotalBytes))).
		Infof("Uploaded %d files", len(w.result.Files))
	return w.result, nil
}

func statLocalDir(dir string) (os.FileInfo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat local directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local %s: %w", dir, ErrNotDirectory)
	}
	return info, nil
}

type uploadWalk struct {
	d      *Deployer
	result *UploadResult
}

// dir uploads localDir into remoteDir. rel is the slash-separated path of
// localDir below the local root, ancestors the directories above it, used to
// stop symlink loops.
func (w *uploadWalk) dir(ctx context.Context, localDir, remoteDir, rel string, ancestors []os.FileInfo) error {
	if err := w.ensureDir(ctx, remoteDir, rel == ""); err != nil {
		return err
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("failed to read local directory %s: %w", localDir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload cancelled: %w", err)
		}

		name := entry.Name()
		relPath := path.Join(rel, name)
		log := w.d.logger.WithField("path", relPath)

		if shouldExclude(relPath, w.d.config.ExcludePatterns) {
			log.Debug("Excluded")
			continue
		}

		localPath := filepath.Join(localDir, name)
		remotePath := path.Join(remoteDir, name)

		info, err := os.Stat(localPath)
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
				log.Debug("Skipping broken symlink")
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", localPath, err)
		}

		switch {
		case info.IsDir():
			if isAncestor(info, ancestors) {
				log.Warn("Skipping symlink loop")
				continue
			}
			if err := w.dir(ctx, localPath, remotePath, relPath, append(ancestors, info)); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := w.file(ctx, localPath, remotePath, info.Size()); err != nil {
				return err
			}
		default:
			log.WithField("mode", info.Mode().String()).Debug("Skipping special file")
		}
	}
	return nil
}

func (w *uploadWalk) ensureDir(ctx context.Context, remoteDir string, root bool) error {
	if w.d.config.DryRun {
		return nil
	}

	created, err := w.d.client.EnsureDir(ctx, remoteDir, root)
	if err != nil {
		return err
	}
	if created {
		w.d.logger.WithField("remote", remoteDir).Info("Created directory")
		w.result.DirsCreated = append(w.result.DirsCreated, remoteDir)
		w.d.metrics.dirCreated()
	}
	return nil
}

func (w *uploadWalk) file(ctx context.Context, localPath, remotePath string, size int64) error {
	log := w.d.logger.WithField("remote", remotePath)

	if w.d.config.DryRun {
		log.WithField("size", humanize.Bytes(uint64(size))).Info("Would upload")
	} else {
		n, err := w.d.client.UploadFile(ctx, localPath, remotePath)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", localPath, err)
		}
		size = n
		w.d.metrics.fileUploaded(n)
		log.WithField("size", humanize.Bytes(uint64(n))).Info("Uploaded")
	}

	w.result.Files = append(w.result.Files, UploadedFile{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Size:       size,
	})
	w.result.TotalBytes += size
	return nil
}

func isAncestor(info os.FileInfo, ancestors []os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(info, a) {
			return true
		}
	}
	return false
}

// shouldExclude matches patterns against the base name, the whole relative
// path and every path segment.
func shouldExclude(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, path.Base(relPath)); matched {
			return true
		}
		if matched, _ := path.Match(pattern, relPath); matched {
			return true
		}
		for _, part := range strings.Split(relPath, "/") {
			if matched, _ := path.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}
