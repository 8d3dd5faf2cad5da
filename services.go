package filefield

import (
	"context"
	"io"
)

// Blob is the content of an uploaded file, addressed by its SHA-256 hash.
type Blob struct {
	SHA256      string
	Size        int64
	ContentType string
}

// Storer represents a destination for uploaded file contents.
type Storer interface {
	Upload(ctx context.Context, sha string) (io.WriteCloser, error)
	Download(ctx context.Context, sha string) (io.ReadCloser, error)
	Delete(ctx context.Context, sha string) error
	Stat(ctx context.Context, sha string) (Blob, error)
}

// SortBy selects the order ListFiles returns files in.
type SortBy string

const (
	SortByPath         SortBy = ""
	SortByTimeModified SortBy = "timemodified"
	SortByFilename     SortBy = "filename"
)

// FileStorage is the host's file storage service.
type FileStorage interface {
	// ListFiles returns the files in area, ordered by sortBy. Directory
	// entries are only returned if includeDirs is set.
	ListFiles(ctx context.Context, area Area, sortBy SortBy, includeDirs bool) ([]StoredFile, error)

	// PrepareDraft stages the files in area into a draft area for
	// editing, and returns the draft's item id. If draftID is 0 a new
	// draft is created; otherwise the draft belongs to a form that was
	// already submitted and is left alone.
	PrepareDraft(ctx context.Context, draftID int64, area Area, opts Options) (int64, error)

	// SaveDraft replaces the contents of area with the files in the
	// draft, applying opts.
	SaveDraft(ctx context.Context, draftID int64, area Area, opts Options) error

	// DraftInfo summarises the files in a draft area.
	DraftInfo(ctx context.Context, draftID int64) (DraftInfo, error)
}

// ContextResolver looks up access control contexts.
type ContextResolver interface {
	// UserContext returns the personal context of a user. If mustExist
	// is set and there is no such context, an error wrapping
	// ErrNoContext is returned.
	UserContext(ctx context.Context, userID int64, mustExist bool) (Context, error)
	SystemContext(ctx context.Context) (Context, error)
}

// PermissionChecker answers capability checks for the actor making the
// current request.
type PermissionChecker interface {
	HasCapability(ctx context.Context, capability string, in Context) (bool, error)
}

// URLEncoder builds public URLs for stored files.
type URLEncoder interface {
	Encode(base, path string, forDownload bool) string
}

// DraftIDReader reads the draft item id submitted for a control in the
// current request. It returns 0 if nothing was submitted.
type DraftIDReader interface {
	SubmittedDraftID(ctx context.Context, inputName string) int64
}

// DataStore persists the scalar value of profile fields.
type DataStore interface {
	// GetRecord returns the record for a user and field, and whether it
	// exists.
	GetRecord(ctx context.Context, userID, fieldID int64) (Record, bool, error)
	PutRecord(ctx context.Context, rec Record) error
}

// ControlType is the kind of a form control.
type ControlType string

const (
	ControlText        ControlType = "text"
	ControlFileManager ControlType = "filemanager"
)

// Control is a form control.
type Control struct {
	Type    ControlType
	Name    string
	Label   string
	Options *Options
	Value   string
	Frozen  bool
}

// Form is the form a profile field renders its control into.
type Form interface {
	AddElement(c Control)
	// RemoveElement removes the named control. It's a no-op if the
	// control doesn't exist.
	RemoveElement(name string)
	ElementExists(name string) bool
	// HardFreeze renders the named control read only, with value as its
	// fixed value.
	HardFreeze(name, value string)
}

// Services are the host collaborators a field uses.
type Services struct {
	Files       FileStorage
	Contexts    ContextResolver
	Permissions PermissionChecker
	Encoder     URLEncoder
	Drafts      DraftIDReader
	Data        DataStore
}
