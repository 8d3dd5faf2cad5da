// Package memory provides in-memory implementations of the host services a
// file profile field needs, backed by go-memdb.
package memory

import (
	"context"
	"time"

	"impractical.co/filefield"
)

// Host bundles an in-memory implementation of every host service.
type Host struct {
	Blobs  *Storer
	Files  *Files
	Access *Access
	Data   *Data
}

// NewHost returns an empty Host. If now is nil, time.Now is used to
// timestamp files.
func NewHost(now func() time.Time) (*Host, error) {
	blobs, err := NewStorer()
	if err != nil {
		return nil, err
	}
	files, err := NewFiles(blobs, now)
	if err != nil {
		return nil, err
	}
	access, err := NewAccess()
	if err != nil {
		return nil, err
	}
	data, err := NewData()
	if err != nil {
		return nil, err
	}
	return &Host{
		Blobs:  blobs,
		Files:  files,
		Access: access,
		Data:   data,
	}, nil
}

// Services returns the host's services, reading submitted draft ids from
// drafts.
func (h *Host) Services(drafts filefield.DraftIDReader) filefield.Services {
	return filefield.Services{
		Files:       h.Files,
		Contexts:    h.Access,
		Permissions: h.Access,
		Encoder:     filefield.PublicURLEncoder{},
		Drafts:      drafts,
		Data:        h.Data,
	}
}

// Drafts is a filefield.DraftIDReader over a fixed set of submitted draft
// ids, keyed by input name.
type Drafts map[string]int64

func (d Drafts) SubmittedDraftID(ctx context.Context, inputName string) int64 {
	return d[inputName]
}

// Factory creates Storers for tests.
type Factory struct{}

func (f Factory) NewStorer(ctx context.Context) (filefield.Storer, error) {
	return NewStorer()
}

func (f Factory) TeardownStorers() error {
	return nil
}
