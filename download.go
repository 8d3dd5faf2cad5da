package filefield

import (
	"context"
	"errors"
	"fmt"
	"io"

	"yall.in"
)

// ErrSizeMismatch is returned when the content served for a file doesn't
// have the size recorded for it.
var ErrSizeMismatch = errors.New("content size did not match recorded size")

// Download writes the content with the provided SHA inside the provided Storer
// to the provided io.Writer, returning an ErrFileNotFound error if the content
// does not exist inside the Storer.
//
// If the provided io.Writer is also an io.WriteCloser, its Close method will
// be called by Download.
func Download(ctx context.Context, s Storer, dst io.Writer, sha string) error {
	_, err := download(ctx, s, dst, sha)
	return err
}

// DownloadFile writes the content of a stored file to dst, and checks that
// the whole file was written.
func DownloadFile(ctx context.Context, s Storer, dst io.Writer, file StoredFile) error {
	log := yall.FromContext(ctx)
	log = log.WithField("filefield.context_id", file.ContextID)
	log = log.WithField("filefield.filearea", file.FileArea)
	log = log.WithField("filefield.filename", file.FileName)

	n, err := download(yall.InContext(ctx, log), s, dst, file.ContentHash)
	if err != nil {
		return err
	}
	if n != file.Size {
		log.WithField("filefield.written", n).Debug("[filefield] short download")
		return fmt.Errorf("%s%s: wrote %d of %d bytes: %w", file.FilePath, file.FileName, n, file.Size, ErrSizeMismatch)
	}
	return nil
}

func download(ctx context.Context, s Storer, dst io.Writer, sha string) (int64, error) {
	log := yall.FromContext(ctx)
	log = log.WithField("filefield.storer", fmt.Sprintf("%T", s))
	log = log.WithField("filefield.sha", sha)

	// if our destination can be closed, close it when we're done
	if wc, ok := dst.(io.WriteCloser); ok {
		defer wc.Close()
	}

	rc, err := s.Download(yall.InContext(ctx, log), sha)
	if err != nil {
		return 0, fmt.Errorf("error starting download from %T: %w", s, err)
	}
	defer rc.Close()

	n, err := io.Copy(dst, rc)
	if err != nil {
		return n, fmt.Errorf("error copying content from %T to %T: %w", rc, dst, err)
	}
	log.WithField("filefield.size", n).Debug("[filefield] download complete")
	return n, nil
}
