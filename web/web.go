// Package web serves stored profile field files over HTTP, and reads the
// draft item ids submitted with profile forms.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"impractical.co/filefield"
	"yall.in"
)

// FileFinder looks up stored files.
type FileFinder interface {
	FindFile(ctx context.Context, area filefield.Area, filePath, fileName string) (filefield.StoredFile, error)
}

// DraftUploader stages uploaded files in draft areas.
type DraftUploader interface {
	NewDraftID(ctx context.Context) (int64, error)
	AddDraftFile(ctx context.Context, draftID int64, filePath, fileName string, r io.Reader) (filefield.StoredFile, error)
}

var _ filefield.DraftIDReader = RequestDrafts{}

// RequestDrafts reads submitted draft item ids from a request's form
// values.
type RequestDrafts struct {
	Request *http.Request
}

// SubmittedDraftID returns the draft item id submitted as inputName, or 0
// if there isn't a valid one.
func (d RequestDrafts) SubmittedDraftID(ctx context.Context, inputName string) int64 {
	if d.Request == nil {
		return 0
	}
	id, err := strconv.ParseInt(d.Request.FormValue(inputName), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// FileHandler serves files at
//
//	{Prefix}/{contextID}/{component}/{filearea}/{itemID}{filepath}{filename}
//
// which is the layout filefield.FilePath produces. Only files in the
// profile field component are served.
type FileHandler struct {
	Files  FileFinder
	Blobs  filefield.Storer
	Prefix string
	Log    *yall.Logger
}

// parseFilePath splits a served path into its area, file path and file
// name.
func parseFilePath(p string) (filefield.Area, string, string, error) {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	if len(parts) < 5 {
		return filefield.Area{}, "", "", errors.New("path too short")
	}
	contextID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return filefield.Area{}, "", "", fmt.Errorf("invalid context id: %w", err)
	}
	itemID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return filefield.Area{}, "", "", fmt.Errorf("invalid item id: %w", err)
	}
	name := parts[len(parts)-1]
	if name == "" {
		return filefield.Area{}, "", "", errors.New("missing file name")
	}
	filePath := "/"
	if dirs := parts[4 : len(parts)-1]; len(dirs) > 0 {
		filePath = "/" + strings.Join(dirs, "/") + "/"
	}
	area := filefield.Area{
		ContextID: contextID,
		Component: parts[1],
		FileArea:  parts[2],
		ItemID:    itemID,
	}
	return area, filePath, name, nil
}

func (h FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log == nil {
		log = yall.FromContext(r.Context())
	}
	log = log.WithField("filefield.path", r.URL.Path)
	ctx := yall.InContext(r.Context(), log)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.URL.Path, h.Prefix+"/") {
		http.NotFound(w, r)
		return
	}
	area, filePath, name, err := parseFilePath(strings.TrimPrefix(r.URL.Path, h.Prefix))
	if err != nil {
		log.WithField("filefield.error", err.Error()).Debug("[filefield] malformed file path")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if area.Component != filefield.Component {
		// drafts and other components' files are never public
		http.NotFound(w, r)
		return
	}
	file, err := h.Files.FindFile(ctx, area, filePath, name)
	if errors.Is(err, filefield.ErrFileNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.WithField("filefield.error", err.Error()).Error("[filefield] error opening file")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	contentType := file.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	disposition := "inline"
	if r.URL.Query().Get("forcedownload") != "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": file.FileName}))
	if r.Method == http.MethodHead {
		return
	}
	if err := filefield.DownloadFile(ctx, h.Blobs, w, file); err != nil {
		log.WithField("filefield.error", err.Error()).Error("[filefield] error serving file")
	}
}

// DraftResponse is the body UploadHandler responds with.
type DraftResponse struct {
	ItemID int64    `json:"itemid"`
	Files  []string `json:"files"`
}

// UploadHandler stages the files of a multipart/form-data POST in a draft
// area. The draft is the one named by the "itemid" form value, or a new one
// if there isn't one.
type UploadHandler struct {
	Drafts DraftUploader
	Log    *yall.Logger
}

func (h UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log == nil {
		log = yall.FromContext(r.Context())
	}
	ctx := yall.InContext(r.Context(), log)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "malformed content", http.StatusUnsupportedMediaType)
		return
	}

	var resp DraftResponse
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if part.FormName() == "itemid" && part.FileName() == "" {
			b, err := io.ReadAll(io.LimitReader(part, 32))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			id, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "invalid itemid", http.StatusBadRequest)
				return
			}
			resp.ItemID = id
			continue
		}
		fileName := part.FileName()
		if fileName == "" {
			continue
		}
		if resp.ItemID == 0 {
			if resp.ItemID, err = h.Drafts.NewDraftID(ctx); err != nil {
				log.WithField("filefield.error", err.Error()).Error("[filefield] error creating draft")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}
		file, err := h.Drafts.AddDraftFile(ctx, resp.ItemID, "/", fileName, part)
		if errors.Is(err, filefield.ErrInvalidFilename) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if errors.Is(err, filefield.ErrDraftNotOwned) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		if err != nil {
			log.WithField("filefield.error", err.Error()).Error("[filefield] error staging upload")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		log.WithField("filefield.draft_id", resp.ItemID).WithField("filefield.filename", file.FileName).Debug("[filefield] staged upload")
		resp.Files = append(resp.Files, file.FileName)
	}
	if resp.ItemID == 0 {
		if resp.ItemID, err = h.Drafts.NewDraftID(ctx); err != nil {
			log.WithField("filefield.error", err.Error()).Error("[filefield] error creating draft")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithField("filefield.error", err.Error()).Debug("[filefield] error writing response")
	}
}
