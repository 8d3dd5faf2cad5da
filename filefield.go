package filefield

import (
	"errors"
	"strconv"
	"time"
)

const (
	// Component is the component name files for this field are stored
	// under.
	Component = "profilefield_file"

	// CapabilityUpdateUser lets an actor edit locked fields on any user.
	CapabilityUpdateUser = "moodle/user:update"

	// NoUser is the user id meaning "not bound to a specific user".
	NoUser int64 = -1

	// AcceptAnyType accepts files of every type.
	AcceptAnyType = "*"

	inputNamePrefix = "profile_field_"
)

var (
	// ErrFileNotFound is returned when a File is requested and can't be found.
	ErrFileNotFound = errors.New("file not found")

	// ErrNoContext is returned when a context is required but doesn't
	// exist. It indicates an integrity problem and is never retryable.
	ErrNoContext = errors.New("context does not exist")

	// ErrInvalidFilename is returned when a staged file's name can't be
	// stored.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrDraftNotOwned is returned when a draft area is used by anyone but
	// the user it was created for.
	ErrDraftNotOwned = errors.New("draft area belongs to another user")
)

// Definition is a profile field as configured by an administrator.
type Definition struct {
	ID        int64
	ShortName string
	Name      string

	// MaxFiles is the field's param1. -1 means unlimited.
	MaxFiles int
	// MaxBytes is the field's param2. 0 means unlimited.
	MaxBytes int64

	Locked bool
}

// InputName is the name of the form control and the key of the submitted
// value for the field.
func (d Definition) InputName() string {
	return inputNamePrefix + d.ShortName
}

// FileArea is the file area the field's files are stored in.
func (d Definition) FileArea() string {
	return "files_" + strconv.FormatInt(d.ID, 10)
}

// Instance binds a Definition to the user whose profile is being edited or
// displayed.
type Instance struct {
	Definition Definition
	UserID     int64
}

// hasUser reports whether the instance is bound to a concrete user. NoUser,
// zero and other non-positive ids all mean there is none.
func (i Instance) hasUser() bool {
	return i.UserID > 0
}

// ContextLevel is the kind of a Context.
type ContextLevel int

const (
	LevelSystem ContextLevel = 10
	LevelUser   ContextLevel = 30
)

// Context is an access control scope, such as the whole site or a single
// user.
type Context struct {
	ID         int64
	Level      ContextLevel
	InstanceID int64
}

// Area identifies a bucket of files.
type Area struct {
	ContextID int64
	Component string
	FileArea  string
	ItemID    int64
}

// StoredFile is the metadata of a file in an Area. Directories are
// represented by a FileName of ".".
type StoredFile struct {
	Area
	FilePath     string
	FileName     string
	ContentHash  string
	Size         int64
	MIMEType     string
	TimeModified time.Time
}

// IsDirectory reports whether the entry is a directory placeholder.
func (f StoredFile) IsDirectory() bool {
	return f.FileName == "."
}

// DraftInfo summarises the contents of a draft area.
type DraftInfo struct {
	FileCount   int
	FolderCount int
	FileSize    int64
}

// Options configures the file manager control, and the policy applied when
// files are moved into an area.
type Options struct {
	MaxFiles            int
	MaxBytes            int64
	AllowSubdirectories bool
	AcceptedTypes       []string
}

// AcceptsAny reports whether every file type is accepted.
func (o Options) AcceptsAny() bool {
	if len(o.AcceptedTypes) == 0 {
		return true
	}
	for _, t := range o.AcceptedTypes {
		if t == AcceptAnyType {
			return true
		}
	}
	return false
}

// Values holds submitted form data, or the user data an edit form is loaded
// with. Whether a key is present matters: an absent key means the control
// wasn't part of the submission.
type Values map[string]string

// Record is the scalar value persisted for a field and user.
type Record struct {
	UserID  int64
	FieldID int64
	Data    string
}

// Config holds site-wide settings the field needs.
type Config struct {
	// WWWRoot is the public root URL of the site, without a trailing
	// slash.
	WWWRoot string
}

// PluginFileEndpoint is the public file serving endpoint.
func (c Config) PluginFileEndpoint() string {
	return c.WWWRoot + "/pluginfile.php"
}
