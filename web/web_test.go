package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"impractical.co/filefield"
	"impractical.co/filefield/memory"
)

func TestRequestDrafts(t *testing.T) {
	t.Parallel()
	form := url.Values{"profile_field_cv": {"17"}, "profile_field_bad": {"nope"}, "profile_field_neg": {"-3"}}
	r := httptest.NewRequest(http.MethodPost, "/user/edit.php", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	d := RequestDrafts{Request: r}

	table := map[string]int64{
		"profile_field_cv":      17,
		"profile_field_bad":     0,
		"profile_field_neg":     0,
		"profile_field_missing": 0,
	}
	for name, want := range table {
		if got := d.SubmittedDraftID(context.Background(), name); got != want {
			t.Errorf("%s: expected %d, got %d", name, want, got)
		}
	}
	if got := (RequestDrafts{}).SubmittedDraftID(context.Background(), "profile_field_cv"); got != 0 {
		t.Errorf("Expected 0 without a request, got %d", got)
	}
}

func TestParseFilePath(t *testing.T) {
	t.Parallel()
	area, path, name, err := parseFilePath("/5/profilefield_file/files_3/0/letters/cover.pdf")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	want := filefield.Area{ContextID: 5, Component: "profilefield_file", FileArea: "files_3", ItemID: 0}
	if area != want || path != "/letters/" || name != "cover.pdf" {
		t.Errorf("Unexpected result %+v %q %q", area, path, name)
	}
	for _, bad := range []string{"/5/profilefield_file/files_3/0", "/x/c/f/0/a.pdf", "/5/c/f/x/a.pdf", "/5/c/f/0/"} {
		if _, _, _, err := parseFilePath(bad); err == nil {
			t.Errorf("Expected an error parsing %q", bad)
		}
	}
}

func newFiles(t *testing.T) *memory.Files {
	t.Helper()
	host, err := memory.NewHost(nil)
	if err != nil {
		t.Fatalf("Error creating host: %s", err)
	}
	return host.Files
}

func TestFileHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	files := newFiles(t)
	area := filefield.Area{ContextID: 5, Component: filefield.Component, FileArea: "files_3"}
	draftID, err := files.NewDraftID(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if _, err := files.AddDraftFile(ctx, draftID, "/", "my cv.txt", strings.NewReader("hello")); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if err := files.SaveDraft(ctx, draftID, area, filefield.Options{MaxFiles: -1, AcceptedTypes: []string{"*"}}); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	stored, err := files.ListFiles(ctx, area, filefield.SortByPath, false)
	if err != nil || len(stored) != 1 {
		t.Fatalf("Expected one stored file, got %v (err %v)", stored, err)
	}
	link := filefield.PublicURLEncoder{}.Encode("/pluginfile.php", filefield.FilePath(stored[0]), true)
	h := FileHandler{Files: files, Blobs: files.Blobs(), Prefix: "/pluginfile.php"}

	table := map[string]struct {
		method, target string
		status         int
		body           string
		disposition    string
	}{
		"Download":  {method: http.MethodGet, target: link, status: http.StatusOK, body: "hello", disposition: "attachment"},
		"Inline":    {method: http.MethodGet, target: strings.TrimSuffix(link, "?forcedownload=1"), status: http.StatusOK, body: "hello", disposition: "inline"},
		"Head":      {method: http.MethodHead, target: link, status: http.StatusOK},
		"Missing":   {method: http.MethodGet, target: "/pluginfile.php/5/profilefield_file/files_3/0/other.txt", status: http.StatusNotFound},
		"Malformed": {method: http.MethodGet, target: "/pluginfile.php/five/profilefield_file/files_3/0/a.txt", status: http.StatusBadRequest},
		"WrongPath": {method: http.MethodGet, target: "/elsewhere/5/profilefield_file/files_3/0/a.txt", status: http.StatusNotFound},
		"BadMethod": {method: http.MethodPost, target: link, status: http.StatusMethodNotAllowed},
		"Draft":     {method: http.MethodGet, target: "/pluginfile.php" + filefield.FilePath(filefield.StoredFile{Area: memory.DraftArea(draftID), FilePath: "/", FileName: "my%20cv.txt"}), status: http.StatusNotFound},
	}
	for name, row := range table {
		name, row := name, row
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(row.method, row.target, nil))
			if w.Code != row.status {
				t.Fatalf("Expected status %d, got %d", row.status, w.Code)
			}
			if row.status != http.StatusOK {
				return
			}
			if got := w.Body.String(); got != row.body {
				t.Errorf("Expected body %q, got %q", row.body, got)
			}
			if row.disposition != "" && !strings.HasPrefix(w.Header().Get("Content-Disposition"), row.disposition) {
				t.Errorf("Expected %s disposition, got %q", row.disposition, w.Header().Get("Content-Disposition"))
			}
			if got := w.Header().Get("Content-Length"); got != "5" {
				t.Errorf("Expected content length 5, got %q", got)
			}
		})
	}
}

func multipartBody(t *testing.T, itemID int64, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if itemID != 0 {
		if err := mw.WriteField("itemid", strconv.FormatInt(itemID, 10)); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
	}
	for name, contents := range files {
		fw, err := mw.CreateFormFile("repo_upload_file", name)
		if err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
		if _, err := fw.Write([]byte(contents)); err != nil {
			t.Fatalf("Unexpected error: %s", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadHandler(t *testing.T) {
	t.Parallel()
	files := newFiles(t)
	h := UploadHandler{Drafts: files}
	owner := memory.WithActor(context.Background(), 42)

	body, ctype := multipartBody(t, 0, map[string]string{"a.txt": "a"})
	r := httptest.NewRequest(http.MethodPost, "/draftfile", body).WithContext(owner)
	r.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp DraftResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if resp.ItemID == 0 || len(resp.Files) != 1 || resp.Files[0] != "a.txt" {
		t.Fatalf("Unexpected response %+v", resp)
	}

	// a second upload to the same draft adds to it
	body, ctype = multipartBody(t, resp.ItemID, map[string]string{"b.txt": "b"})
	r = httptest.NewRequest(http.MethodPost, "/draftfile", body).WithContext(owner)
	r.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// nobody else can add to it
	body, ctype = multipartBody(t, resp.ItemID, map[string]string{"c.txt": "c"})
	r = httptest.NewRequest(http.MethodPost, "/draftfile", body).WithContext(memory.WithActor(context.Background(), 43))
	r.Header.Set("Content-Type", ctype)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for another user's draft, got %d", w.Code)
	}

	info, err := files.DraftInfo(owner, resp.ItemID)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if info.FileCount != 2 {
		t.Errorf("Expected 2 files in draft %d, got %d", resp.ItemID, info.FileCount)
	}
}

func TestUploadHandlerRejects(t *testing.T) {
	t.Parallel()
	files := newFiles(t)
	h := UploadHandler{Drafts: files}

	body, ctype := multipartBody(t, 0, map[string]string{"..": "x"})
	r := httptest.NewRequest(http.MethodPost, "/draftfile", body)
	r.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for an invalid name, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/draftfile", strings.NewReader("not multipart"))
	r.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/draftfile", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
