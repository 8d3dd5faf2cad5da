package filefield

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"impractical.co/filefield/magicnumber"
	"yall.in"
)

// ErrIncorrectSHA is returned when the assertion about a file's SHA doesn't
// match the contents of the file.
var ErrIncorrectSHA = errors.New("claimed SHA did not match calculated SHA")

// UploadOptions represents configuration parameters for optional behaviors of
// Upload.
type UploadOptions struct {
	// AcceptedMIMEs, if set, will only accept files with a MIME type in
	// the list. AcceptAnyType in the list disables the check.
	AcceptedMIMEs []string
}

func (o UploadOptions) checksMIME() bool {
	return !(Options{AcceptedTypes: o.AcceptedMIMEs}).AcceptsAny()
}

// Upload performs a streaming upload of the data in the provided io.Reader,
// writing to the provided Storer with the provided SHA-256 hash. If the
// provided SHA-256 hash is exists in the Storer already, the Blob is returned,
// with the returned boolean set to false. If the hash does not exist in the
// provided Storer yet, the content is uploaded, and its Blob metadata
// returned, with the return boolean set to true.
//
// If the provided UploadOptions has AcceptedMIMEs set, any file uploaded will
// have its MIME type checked, and only be accepted if its MIME matches one of
// the MIME types in AcceptedMIMEs.
//
// If source is also an io.ReadCloser, its Close method will be called by
// Upload.
func Upload(ctx context.Context, s Storer, source io.Reader, sha string, opts UploadOptions) (Blob, bool, error) {
	log := yall.FromContext(ctx)
	log = log.WithField("filefield.storer", fmt.Sprintf("%T", s))
	log = log.WithField("filefield.source", fmt.Sprintf("%T", source))
	log = log.WithField("filefield.claimed_sha", sha)

	// if we can, close the source when we're done
	if rc, ok := source.(io.ReadCloser); ok {
		defer rc.Close()
	}

	var writers []io.Writer
	var ctw *magicnumber.Checker

	if opts.checksMIME() {
		// set up a writer that'll ensure we're only accepting files of
		// types we can support
		ctw = &magicnumber.Checker{
			SupportedMIMEs: opts.AcceptedMIMEs,
		}
		writers = append(writers, ctw)
	}

	// set up a writer that'll record the hash of the uploaded file
	hasher := sha256.New()
	writers = append(writers, hasher)

	// set up a writer that'll persist the uploaded data
	storer, err := s.Upload(yall.InContext(ctx, log), sha)
	if err != nil {
		return Blob{}, false, fmt.Errorf("error starting upload to %T: %w", s, err)
	}
	if storer == nil {
		log.Debug("[filefield] content already exists, not re-uploading")
		blob, err := s.Stat(yall.InContext(ctx, log), sha)
		if err != nil {
			return Blob{}, false, fmt.Errorf("error stating existing content %s: %w", sha, err)
		}
		return blob, false, nil
	}
	writers = append(writers, storer)

	w := io.MultiWriter(writers...)

	log.Debug("[filefield] starting upload")

	size, err := io.Copy(w, source)
	if err == nil {
		err = storer.Close()
	} else {
		storer.Close()
	}
	if err == nil && ctw != nil {
		err = ctw.Close()
	}
	if err != nil {
		log.WithField("filefield.error", err.Error()).Debug("[filefield] upload failed, deleting")
		if derr := s.Delete(yall.InContext(ctx, log), sha); derr != nil {
			return Blob{}, false, fmt.Errorf("error deleting failed upload %s: %w", sha, derr)
		}
		return Blob{}, false, fmt.Errorf("error uploading content to %T: %w", s, err)
	}

	log = log.WithField("filefield.size", size)
	log.Debug("[filefield] upload written")

	finalSHA := hex.EncodeToString(hasher.Sum(nil))
	log = log.WithField("filefield.real_sha", finalSHA)
	if finalSHA != sha {
		log.Debug("[filefield] claimed SHA did not match content, deleting")
		err = s.Delete(yall.InContext(ctx, log), sha)
		if err != nil {
			return Blob{}, false, fmt.Errorf("error deleting incorrectly named content %s: %w", sha, err)
		}
		log.Debug("[filefield] successfully deleted")
		return Blob{}, false, ErrIncorrectSHA
	}
	log.Debug("[filefield] completed upload")
	blob := Blob{
		SHA256: sha,
		Size:   size,
	}
	if ctw != nil {
		blob.ContentType = ctw.MatchedMIME
	}
	return blob, true, nil
}
