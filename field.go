package filefield

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
)

var _ ProfileField = &Field{}

// Field is the file profile field. Its value is the set of files in its
// permanent area; the stored scalar only records whether there are any.
type Field struct {
	Base

	cfg     Config
	files   FileStorage
	encoder URLEncoder
	drafts  DraftIDReader
}

// NewField returns the file field for inst.
func NewField(inst Instance, cfg Config, svc Services) *Field {
	return &Field{
		Base:    NewBase(inst, svc),
		cfg:     cfg,
		files:   svc.Files,
		encoder: svc.Encoder,
		drafts:  svc.Drafts,
	}
}

// FileManagerOptions returns the options of the field's file manager.
func (f *Field) FileManagerOptions() Options {
	return Options{
		MaxFiles:            f.Definition.MaxFiles,
		MaxBytes:            f.Definition.MaxBytes,
		AllowSubdirectories: false,
		AcceptedTypes:       []string{AcceptAnyType},
	}
}

// Area returns the permanent area of the field in c.
func (f *Field) Area(c Context) Area {
	return Area{
		ContextID: c.ID,
		Component: Component,
		FileArea:  f.Definition.FileArea(),
		ItemID:    0,
	}
}

// RenderEditControl adds a file manager for the field.
func (f *Field) RenderEditControl(ctx context.Context, form Form) error {
	opts := f.FileManagerOptions()
	form.AddElement(Control{
		Type:    ControlFileManager,
		Name:    f.InputName(),
		Label:   html.EscapeString(f.Definition.Name),
		Options: &opts,
	})
	return nil
}

// SuppressIfLocked removes the file manager if the field is locked for the
// actor. File managers can't be frozen, so unlike other fields a locked file
// field isn't shown at all.
func (f *Field) SuppressIfLocked(ctx context.Context, form Form) error {
	if !form.ElementExists(f.InputName()) {
		return nil
	}
	override, err := f.actorHasOverride(ctx)
	if err != nil {
		return err
	}
	if ShouldSuppress(f.IsLocked(), override) {
		f.logger(ctx).Debug("[filefield] removing locked file manager")
		form.RemoveElement(f.InputName())
	}
	return nil
}

// editContext is the context the file manager works in: the user's when
// the field is bound to one, otherwise the system context.
func (f *Field) editContext(ctx context.Context) (Context, error) {
	if f.hasUser() {
		return f.contexts.UserContext(ctx, f.UserID, true)
	}
	return f.contexts.SystemContext(ctx)
}

// LoadUserDataForEdit stages the stored files into a draft area and sets the
// draft's item id as the field's value in user.
func (f *Field) LoadUserDataForEdit(ctx context.Context, user Values) error {
	c, err := f.editContext(ctx)
	if err != nil {
		return fmt.Errorf("error resolving file manager context: %w", err)
	}
	draftID := f.drafts.SubmittedDraftID(ctx, f.InputName())
	draftID, err = f.files.PrepareDraft(ctx, draftID, f.Area(c), f.FileManagerOptions())
	if err != nil {
		return fmt.Errorf("error preparing draft area: %w", err)
	}
	f.logger(ctx).WithField("filefield.draft_id", draftID).Debug("[filefield] prepared draft area")
	user[f.InputName()] = strconv.FormatInt(draftID, 10)
	return nil
}

// SaveFromForm moves the submitted draft area into the field's permanent
// area, then stores whether there are any files. If the field wasn't
// submitted, usually because it's locked and was removed from the form,
// nothing happens.
func (f *Field) SaveFromForm(ctx context.Context, submitted Values) error {
	value, ok := submitted[f.InputName()]
	if !ok {
		return nil
	}
	draftID, err := parseDraftID(value)
	if err != nil {
		return err
	}
	c, err := f.contexts.UserContext(ctx, f.UserID, true)
	if err != nil {
		return fmt.Errorf("error resolving user context: %w", err)
	}
	log := f.logger(ctx).WithField("filefield.draft_id", draftID)
	log.Debug("[filefield] saving draft area")
	if err := f.files.SaveDraft(ctx, draftID, f.Area(c), f.FileManagerOptions()); err != nil {
		return fmt.Errorf("error saving draft area %d: %w", draftID, err)
	}
	return f.SaveData(ctx, submitted, f)
}

// PreprocessBeforeSave returns "1" if the draft area has files, so the
// field shows up as set, and "" otherwise.
func (f *Field) PreprocessBeforeSave(ctx context.Context, data string, rec *Record) (string, error) {
	draftID, err := parseDraftID(data)
	if err != nil {
		return "", err
	}
	info, err := f.files.DraftInfo(ctx, draftID)
	if err != nil {
		return "", fmt.Errorf("error reading draft area %d: %w", draftID, err)
	}
	if info.FileCount > 0 {
		return "1", nil
	}
	return "", nil
}

// RenderDisplayValue renders a download link for each of the user's files,
// oldest first, separated by line breaks.
func (f *Field) RenderDisplayValue(ctx context.Context) (string, error) {
	c, err := f.contexts.UserContext(ctx, f.UserID, true)
	if err != nil {
		return "", fmt.Errorf("error resolving user context: %w", err)
	}
	files, err := f.files.ListFiles(ctx, f.Area(c), SortByTimeModified, false)
	if err != nil {
		return "", fmt.Errorf("error listing files: %w", err)
	}
	links := make([]string, 0, len(files))
	for _, file := range files {
		u := f.encoder.Encode(f.cfg.PluginFileEndpoint(), FilePath(file), true)
		links = append(links, link(u, file.FileName))
	}
	return strings.Join(links, "<br />"), nil
}

// FilePath is the path a stored file is served under, relative to the
// public file serving endpoint.
func FilePath(file StoredFile) string {
	return "/" + strconv.FormatInt(file.ContextID, 10) +
		"/" + file.Component +
		"/" + file.FileArea +
		"/" + strconv.FormatInt(file.ItemID, 10) +
		file.FilePath +
		file.FileName
}

func link(href, text string) string {
	return `<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`
}

func parseDraftID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid draft item id %q: %w", s, err)
	}
	return id, nil
}
