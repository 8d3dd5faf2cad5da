package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	memdb "github.com/hashicorp/go-memdb"
	jmerrors "github.com/jmgilman/go/errors"
	"golang.org/x/text/unicode/norm"
	"impractical.co/filefield"
	"impractical.co/filefield/magicnumber"
	"yall.in"
)

var _ filefield.FileStorage = &Files{}

const (
	// DraftContextID is the context draft areas are kept in. Draft item
	// ids are unique across the store, and each draft records the actor
	// that created it; only that actor can read, change or save it.
	DraftContextID int64 = 0

	draftComponent = "user"
	draftFileArea  = "draft"
)

var (
	fileSchema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"file": &memdb.TableSchema{
				Name: "file",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"area": &memdb.IndexSchema{
						Name:    "area",
						Indexer: &memdb.StringFieldIndex{Field: "AreaKey"},
					},
				},
			},
			"draft": &memdb.TableSchema{
				Name: "draft",
				Indexes: map[string]*memdb.IndexSchema{
					"id": &memdb.IndexSchema{
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
)

// DraftArea returns the area holding the files of a draft.
func DraftArea(draftID int64) filefield.Area {
	return filefield.Area{
		ContextID: DraftContextID,
		Component: draftComponent,
		FileArea:  draftFileArea,
		ItemID:    draftID,
	}
}

// fileRecord is a row of the file table. Rows are replaced, never mutated.
type fileRecord struct {
	ID      string
	AreaKey string
	Seq     uint64
	filefield.StoredFile
}

// draftRecord is the owner of a draft.
type draftRecord struct {
	ID    string
	Owner int64
}

func draftKey(draftID int64) string {
	return strconv.FormatInt(draftID, 10)
}

func areaKey(a filefield.Area) string {
	return strconv.FormatInt(a.ContextID, 10) + "|" + a.Component + "|" + a.FileArea + "|" + strconv.FormatInt(a.ItemID, 10)
}

func fileKey(a filefield.Area, filePath, fileName string) string {
	return areaKey(a) + "|" + filePath + fileName
}

// Files is a filefield.FileStorage that keeps file metadata in memory, and
// file contents in a filefield.Storer.
type Files struct {
	db    *memdb.MemDB
	blobs filefield.Storer
	now   func() time.Time

	seq     atomic.Uint64
	draftID atomic.Int64
}

// NewFiles returns a Files storing contents in blobs. If now is nil,
// time.Now is used to timestamp files.
func NewFiles(blobs filefield.Storer, now func() time.Time) (*Files, error) {
	db, err := memdb.NewMemDB(fileSchema)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Files{
		db:    db,
		blobs: blobs,
		now:   now,
	}, nil
}

// NewDraftID returns an item id no draft has used yet, owned by the
// request's actor.
func (f *Files) NewDraftID(ctx context.Context) (int64, error) {
	txn := f.db.Txn(true)
	defer txn.Abort()
	draftID, err := f.newDraft(ctx, txn)
	if err != nil {
		return 0, err
	}
	txn.Commit()
	return draftID, nil
}

func (f *Files) newDraft(ctx context.Context, txn *memdb.Txn) (int64, error) {
	draftID := f.draftID.Add(1)
	err := txn.Insert("draft", &draftRecord{ID: draftKey(draftID), Owner: ActorFromContext(ctx)})
	if err != nil {
		return 0, err
	}
	return draftID, nil
}

// checkOwner returns an error if the draft doesn't exist or belongs to
// someone other than the request's actor.
func (f *Files) checkOwner(ctx context.Context, txn *memdb.Txn, draftID int64) error {
	raw, err := txn.First("draft", "id", draftKey(draftID))
	if err != nil {
		return err
	}
	actor := ActorFromContext(ctx)
	if raw != nil && raw.(*draftRecord).Owner == actor {
		return nil
	}
	yall.FromContext(ctx).WithField("filefield.draft_id", draftID).
		WithField("filefield.actor", actor).Debug("[filefield] refusing draft of another user")
	err = jmerrors.Wrap(filefield.ErrDraftNotOwned, jmerrors.CodeForbidden, "draft not owned by actor")
	err = jmerrors.WithContext(err, "draft_id", draftID)
	return jmerrors.WithContext(err, "actor", actor)
}

func (f *Files) areaFiles(txn *memdb.Txn, area filefield.Area) ([]*fileRecord, error) {
	iter, err := txn.Get("file", "area", areaKey(area))
	if err != nil {
		return nil, err
	}
	var recs []*fileRecord
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		recs = append(recs, raw.(*fileRecord))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

func (f *Files) insert(txn *memdb.Txn, area filefield.Area, file filefield.StoredFile) error {
	file.Area = area
	return txn.Insert("file", &fileRecord{
		ID:         fileKey(area, file.FilePath, file.FileName),
		AreaKey:    areaKey(area),
		Seq:        f.seq.Add(1),
		StoredFile: file,
	})
}

// ListFiles returns the files in area.
func (f *Files) ListFiles(ctx context.Context, area filefield.Area, sortBy filefield.SortBy, includeDirs bool) ([]filefield.StoredFile, error) {
	recs, err := f.areaFiles(f.db.Txn(false), area)
	if err != nil {
		return nil, err
	}
	switch sortBy {
	case filefield.SortByTimeModified:
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].TimeModified.Before(recs[j].TimeModified)
		})
	case filefield.SortByFilename:
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].FileName < recs[j].FileName
		})
	default:
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].FilePath != recs[j].FilePath {
				return recs[i].FilePath < recs[j].FilePath
			}
			return recs[i].FileName < recs[j].FileName
		})
	}
	files := make([]filefield.StoredFile, 0, len(recs))
	for _, rec := range recs {
		if rec.IsDirectory() && !includeDirs {
			continue
		}
		files = append(files, rec.StoredFile)
	}
	return files, nil
}

// PrepareDraft copies the files in area into a new draft owned by the
// request's actor. A non-zero draftID belongs to a form being resubmitted,
// and its draft is returned as it is.
func (f *Files) PrepareDraft(ctx context.Context, draftID int64, area filefield.Area, opts filefield.Options) (int64, error) {
	if draftID != 0 {
		if err := f.checkOwner(ctx, f.db.Txn(false), draftID); err != nil {
			return 0, err
		}
		return draftID, nil
	}

	txn := f.db.Txn(true)
	defer txn.Abort()
	draftID, err := f.newDraft(ctx, txn)
	if err != nil {
		return 0, err
	}
	log := yall.FromContext(ctx).WithField("filefield.draft_id", draftID)
	recs, err := f.areaFiles(txn, area)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if !opts.AllowSubdirectories && (rec.IsDirectory() || rec.FilePath != "/") {
			continue
		}
		if err := f.insert(txn, DraftArea(draftID), rec.StoredFile); err != nil {
			return 0, err
		}
	}
	txn.Commit()
	log.WithField("filefield.files", len(recs)).Debug("[filefield] draft prepared")
	return draftID, nil
}

// DraftInfo counts the files in a draft.
func (f *Files) DraftInfo(ctx context.Context, draftID int64) (filefield.DraftInfo, error) {
	var info filefield.DraftInfo
	if draftID == 0 {
		return info, nil
	}
	txn := f.db.Txn(false)
	if err := f.checkOwner(ctx, txn, draftID); err != nil {
		return info, err
	}
	recs, err := f.areaFiles(txn, DraftArea(draftID))
	if err != nil {
		return info, err
	}
	for _, rec := range recs {
		if rec.IsDirectory() {
			if rec.FilePath != "/" {
				info.FolderCount++
			}
			continue
		}
		info.FileCount++
		info.FileSize += rec.Size
	}
	return info, nil
}

func acceptable(file filefield.StoredFile, opts filefield.Options) bool {
	if !opts.AllowSubdirectories && file.FilePath != "/" {
		return false
	}
	if file.IsDirectory() {
		return opts.AllowSubdirectories
	}
	if opts.MaxBytes > 0 && file.Size > opts.MaxBytes {
		return false
	}
	if !opts.AcceptsAny() && !magicnumber.Accepts(file.MIMEType, opts.AcceptedTypes) {
		return false
	}
	return true
}

// SaveDraft replaces the files in area with the files in the draft. Draft
// files that break the limits in opts are left out. Files whose contents
// didn't change are kept as they are.
func (f *Files) SaveDraft(ctx context.Context, draftID int64, area filefield.Area, opts filefield.Options) error {
	log := yall.FromContext(ctx).WithField("filefield.draft_id", draftID)

	txn := f.db.Txn(true)
	defer txn.Abort()

	existing, err := f.areaFiles(txn, area)
	if err != nil {
		return err
	}
	old := make(map[string]*fileRecord, len(existing))
	for _, rec := range existing {
		old[rec.FilePath+rec.FileName] = rec
	}

	var draft []*fileRecord
	if draftID != 0 {
		if err := f.checkOwner(ctx, txn, draftID); err != nil {
			return err
		}
		draft, err = f.areaFiles(txn, DraftArea(draftID))
		if err != nil {
			return err
		}
	}

	keep := map[string]bool{}
	var count int
	for _, rec := range draft {
		if !acceptable(rec.StoredFile, opts) {
			log.WithField("filefield.filename", rec.FileName).Debug("[filefield] skipping unacceptable draft file")
			continue
		}
		if !rec.IsDirectory() {
			if opts.MaxFiles != -1 && count >= opts.MaxFiles {
				log.WithField("filefield.filename", rec.FileName).Debug("[filefield] skipping draft file over the file limit")
				continue
			}
			count++
		}
		key := rec.FilePath + rec.FileName
		keep[key] = true
		if prev, ok := old[key]; ok && prev.ContentHash == rec.ContentHash {
			continue
		}
		if err := f.insert(txn, area, rec.StoredFile); err != nil {
			return err
		}
	}
	for key, rec := range old {
		if keep[key] {
			continue
		}
		if err := txn.Delete("file", rec); err != nil {
			return err
		}
	}
	txn.Commit()
	log.WithField("filefield.files", count).Debug("[filefield] draft saved")
	return nil
}

// cleanFilename normalises a filename to NFC and checks it can be stored.
func cleanFilename(name string) (string, error) {
	name = norm.NFC.String(name)
	invalid := name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\")
	for _, r := range name {
		if !unicode.IsPrint(r) && r != ' ' {
			invalid = true
		}
	}
	if invalid {
		err := jmerrors.Wrap(filefield.ErrInvalidFilename, jmerrors.CodeInvalidInput, "filename can't be stored")
		return "", jmerrors.WithContext(err, "filename", name)
	}
	return name, nil
}

// AddDraftFile stores the contents of r in a draft as filePath+fileName,
// replacing any file already there. Only the draft's owner can add to it.
func (f *Files) AddDraftFile(ctx context.Context, draftID int64, filePath, fileName string, r io.Reader) (filefield.StoredFile, error) {
	if err := f.checkOwner(ctx, f.db.Txn(false), draftID); err != nil {
		return filefield.StoredFile{}, err
	}
	name, err := cleanFilename(fileName)
	if err != nil {
		return filefield.StoredFile{}, err
	}
	if filePath == "" {
		filePath = "/"
	}
	if !strings.HasPrefix(filePath, "/") || !strings.HasSuffix(filePath, "/") {
		return filefield.StoredFile{}, fmt.Errorf("invalid file path %q", filePath)
	}
	contents, err := io.ReadAll(r)
	if err != nil {
		return filefield.StoredFile{}, fmt.Errorf("error reading upload: %w", err)
	}
	sum := sha256.Sum256(contents)
	sha := hex.EncodeToString(sum[:])
	blob, _, err := filefield.Upload(ctx, f.blobs, bytes.NewReader(contents), sha, filefield.UploadOptions{})
	if err != nil {
		return filefield.StoredFile{}, err
	}
	file := filefield.StoredFile{
		FilePath:     filePath,
		FileName:     name,
		ContentHash:  blob.SHA256,
		Size:         blob.Size,
		MIMEType:     magicnumber.Detect(contents),
		TimeModified: f.now(),
	}
	txn := f.db.Txn(true)
	defer txn.Abort()
	if err := f.insert(txn, DraftArea(draftID), file); err != nil {
		return filefield.StoredFile{}, err
	}
	txn.Commit()
	file.Area = DraftArea(draftID)
	return file, nil
}

// DeleteDraftFile removes filePath+fileName from a draft, the way a user
// removes a file in the file manager before saving.
func (f *Files) DeleteDraftFile(ctx context.Context, draftID int64, filePath, fileName string) error {
	txn := f.db.Txn(true)
	defer txn.Abort()
	if err := f.checkOwner(ctx, txn, draftID); err != nil {
		return err
	}
	raw, err := txn.First("file", "id", fileKey(DraftArea(draftID), filePath, fileName))
	if err != nil {
		return err
	}
	if raw == nil {
		return filefield.ErrFileNotFound
	}
	if err := txn.Delete("file", raw); err != nil {
		return err
	}
	txn.Commit()
	yall.FromContext(ctx).WithField("filefield.draft_id", draftID).
		WithField("filefield.filename", fileName).Debug("[filefield] removed draft file")
	return nil
}

// FindFile returns the metadata of a stored file.
func (f *Files) FindFile(ctx context.Context, area filefield.Area, filePath, fileName string) (filefield.StoredFile, error) {
	raw, err := f.db.Txn(false).First("file", "id", fileKey(area, filePath, fileName))
	if err != nil {
		return filefield.StoredFile{}, err
	}
	if raw == nil {
		return filefield.StoredFile{}, filefield.ErrFileNotFound
	}
	rec := raw.(*fileRecord)
	if rec.IsDirectory() {
		return filefield.StoredFile{}, filefield.ErrFileNotFound
	}
	return rec.StoredFile, nil
}

// Blobs returns the Storer file contents are kept in.
func (f *Files) Blobs() filefield.Storer {
	return f.blobs
}
