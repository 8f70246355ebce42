// Package staging copies local build assets to a remote host by streaming
// a gzipped tarball into tar on the other side.
package staging

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/AccessibleAI/gpu-deploy/pkg/compose"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	log "github.com/sirupsen/logrus"
)

const IgnoreFileName = ".dockerignore"

// TransferError means local assets could not be placed on the host.
type TransferError struct {
	Host string
	Src  string
	Dst  string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("staging %s to %s:%s: %s", e.Src, e.Host, e.Dst, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Reset wipes and recreates dir on the host.
func Reset(exr remote.Executor, host, dir string) error {
	q := compose.Quote(dir)
	if _, err := remote.Run(exr, host, fmt.Sprintf("rm -rf %s && mkdir -p %s", q, q)); err != nil {
		return &TransferError{Host: host, Src: "-", Dst: dir, Err: err}
	}
	return nil
}

// CopyToHost places the contents of the local directory localDir into
// remoteDir, creating it if needed. Entries matched by a .dockerignore in
// localDir are left out.
func CopyToHost(exr remote.Executor, host, localDir, remoteDir string) error {
	terr := func(err error) error {
		return &TransferError{Host: host, Src: localDir, Dst: remoteDir, Err: err}
	}
	info, err := os.Stat(localDir)
	if err != nil {
		return terr(err)
	}
	if !info.IsDir() {
		return terr(fmt.Errorf("%s is not a directory", localDir))
	}
	matcher, err := ReadIgnorePatterns(localDir)
	if err != nil {
		return terr(err)
	}

	pr, pw := io.Pipe()
	writeErr := make(chan error, 1)
	go func() {
		err := WriteFilteredTar(pw, localDir, matcher)
		pw.CloseWithError(err)
		writeErr <- err
	}()

	q := compose.Quote(remoteDir)
	cmd := fmt.Sprintf("mkdir -p %s && tar -xzf - -C %s", q, q)
	log.WithField("host", host).Infof("copying %s to %s", localDir, remoteDir)
	_, runErr := remote.RunWithInput(exr, host, cmd, pr)
	// unblock the writer if the remote side stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	if err := <-writeErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return terr(err)
	}
	if runErr != nil {
		return terr(runErr)
	}
	return nil
}

// CopyFileToHost writes the local file to remotePath, creating the parent
// directory.
func CopyFileToHost(exr remote.Executor, host, localFile, remotePath string) error {
	terr := func(err error) error {
		return &TransferError{Host: host, Src: localFile, Dst: remotePath, Err: err}
	}
	f, err := os.Open(localFile)
	if err != nil {
		return terr(err)
	}
	defer f.Close()
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", compose.Quote(path.Dir(remotePath)), compose.Quote(remotePath))
	log.WithField("host", host).Infof("copying %s to %s", localFile, remotePath)
	if _, err := remote.RunWithInput(exr, host, cmd, f); err != nil {
		return terr(err)
	}
	return nil
}

// ReadIgnorePatterns loads the .dockerignore of dir. A missing file
// yields a matcher that ignores nothing.
func ReadIgnorePatterns(dir string) (*patternmatcher.PatternMatcher, error) {
	var patterns []string
	ignorePath := filepath.Join(dir, IgnoreFileName)
	if file, err := os.Open(ignorePath); err == nil {
		defer file.Close()
		if patterns, err = ignorefile.ReadAll(file); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ignorePath, err)
		}
		log.Debugf("found %d patterns in %s", len(patterns), ignorePath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open %s: %w", ignorePath, err)
	}
	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// WriteFilteredTar writes a gzipped tarball of sourceDir to w with paths
// relative to sourceDir.
func WriteFilteredTar(w io.Writer, sourceDir string, matcher *patternmatcher.PatternMatcher) (err error) {
	gzipWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzipWriter)
	defer func() {
		if closeErr := tarWriter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close tar writer: %w", closeErr)
		}
		if closeErr := gzipWriter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close gzip writer: %w", closeErr)
		}
	}()
	return filepath.Walk(sourceDir, func(p string, info fs.FileInfo, walkErr error) error {
		return addTarEntry(tarWriter, sourceDir, matcher, p, info, walkErr)
	})
}

func addTarEntry(tw *tar.Writer, sourceDir string, matcher *patternmatcher.PatternMatcher, p string, info fs.FileInfo, walkErr error) error {
	if walkErr != nil {
		return walkErr
	}
	relPath, err := filepath.Rel(sourceDir, p)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", p, err)
	}
	if relPath == "." {
		return nil
	}
	relPath = filepath.ToSlash(relPath)

	ignored, err := matcher.MatchesOrParentMatches(relPath)
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", p, err)
	}
	if ignored {
		if info.IsDir() {
			log.Debugf("ignoring directory %s", relPath)
			return filepath.SkipDir
		}
		log.Debugf("ignoring file %s", relPath)
		return nil
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(p); err != nil {
			return err
		}
	}
	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", p, err)
	}
	header.Name = relPath
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	file, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open file %q: %w", p, err)
	}
	defer file.Close()
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to write file content for %q: %w", p, err)
	}
	return nil
}
