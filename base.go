package filefield

import (
	"context"
	"fmt"
	"html"

	"yall.in"
)

// ProfileField is the set of hooks the profile framework calls on a field
// during the lifecycle of the profile edit form and the profile page.
type ProfileField interface {
	// RenderEditControl adds the field's control to the edit form.
	RenderEditControl(ctx context.Context, form Form) error
	// SuppressIfLocked adjusts the control for a locked field.
	SuppressIfLocked(ctx context.Context, form Form) error
	// LoadUserDataForEdit sets the field's current value in user, ready
	// for the edit form.
	LoadUserDataForEdit(ctx context.Context, user Values) error
	// SaveFromForm persists the field's submitted value.
	SaveFromForm(ctx context.Context, submitted Values) error
	// PreprocessBeforeSave converts the submitted value into the scalar
	// that will be stored in rec.
	PreprocessBeforeSave(ctx context.Context, data string, rec *Record) (string, error)
	// RenderDisplayValue renders the field for the profile page.
	RenderDisplayValue(ctx context.Context) (string, error)
}

// Preprocessor is the hook Base.SaveData runs before persisting a value.
type Preprocessor interface {
	PreprocessBeforeSave(ctx context.Context, data string, rec *Record) (string, error)
}

var (
	_ ProfileField = &Base{}
	_ Preprocessor = &Base{}
)

// Base is the default behaviour shared by all profile field types: a single
// text control whose value is stored as-is. Field types embed it and
// override the hooks they need.
type Base struct {
	Instance

	data        DataStore
	contexts    ContextResolver
	permissions PermissionChecker
}

// NewBase returns a Base for inst.
func NewBase(inst Instance, svc Services) Base {
	return Base{
		Instance:    inst,
		data:        svc.Data,
		contexts:    svc.Contexts,
		permissions: svc.Permissions,
	}
}

func (b *Base) logger(ctx context.Context) *yall.Logger {
	log := yall.FromContext(ctx)
	log = log.WithField("filefield.field_id", b.Definition.ID)
	log = log.WithField("filefield.user_id", b.UserID)
	return log
}

// InputName is the name of the field's form control.
func (b *Base) InputName() string {
	return b.Definition.InputName()
}

// IsLocked reports whether the field is locked by an administrator.
func (b *Base) IsLocked() bool {
	return b.Definition.Locked
}

// ShouldSuppress reports whether a locked field's control must be
// suppressed for an actor.
func ShouldSuppress(locked, actorHasOverride bool) bool {
	return locked && !actorHasOverride
}

// actorHasOverride reports whether the current actor may edit locked fields.
func (b *Base) actorHasOverride(ctx context.Context) (bool, error) {
	sys, err := b.contexts.SystemContext(ctx)
	if err != nil {
		return false, fmt.Errorf("error resolving system context: %w", err)
	}
	ok, err := b.permissions.HasCapability(ctx, CapabilityUpdateUser, sys)
	if err != nil {
		return false, fmt.Errorf("error checking %s: %w", CapabilityUpdateUser, err)
	}
	return ok, nil
}

// RenderEditControl adds a text control for the field.
func (b *Base) RenderEditControl(ctx context.Context, form Form) error {
	form.AddElement(Control{
		Type:  ControlText,
		Name:  b.InputName(),
		Label: html.EscapeString(b.Definition.Name),
	})
	return nil
}

// SuppressIfLocked freezes the control with its stored value if the field
// is locked and the actor can't override the lock.
func (b *Base) SuppressIfLocked(ctx context.Context, form Form) error {
	if !form.ElementExists(b.InputName()) {
		return nil
	}
	override, err := b.actorHasOverride(ctx)
	if err != nil {
		return err
	}
	if !ShouldSuppress(b.IsLocked(), override) {
		return nil
	}
	rec, _, err := b.data.GetRecord(ctx, b.UserID, b.Definition.ID)
	if err != nil {
		return fmt.Errorf("error loading field data: %w", err)
	}
	form.HardFreeze(b.InputName(), rec.Data)
	return nil
}

// LoadUserDataForEdit copies the stored value into user.
func (b *Base) LoadUserDataForEdit(ctx context.Context, user Values) error {
	rec, ok, err := b.data.GetRecord(ctx, b.UserID, b.Definition.ID)
	if err != nil {
		return fmt.Errorf("error loading field data: %w", err)
	}
	if ok {
		user[b.InputName()] = rec.Data
	}
	return nil
}

// SaveFromForm stores the submitted value unchanged.
func (b *Base) SaveFromForm(ctx context.Context, submitted Values) error {
	return b.SaveData(ctx, submitted, b)
}

// SaveData runs p over the submitted value and persists the result. If the
// field wasn't submitted nothing is saved.
func (b *Base) SaveData(ctx context.Context, submitted Values, p Preprocessor) error {
	value, ok := submitted[b.InputName()]
	if !ok {
		return nil
	}
	rec := Record{
		UserID:  b.UserID,
		FieldID: b.Definition.ID,
	}
	data, err := p.PreprocessBeforeSave(ctx, value, &rec)
	if err != nil {
		return err
	}
	rec.Data = data
	if err := b.data.PutRecord(ctx, rec); err != nil {
		return fmt.Errorf("error saving field data: %w", err)
	}
	b.logger(ctx).WithField("filefield.data", data).Debug("[filefield] saved field data")
	return nil
}

// PreprocessBeforeSave returns data unchanged.
func (b *Base) PreprocessBeforeSave(ctx context.Context, data string, rec *Record) (string, error) {
	return data, nil
}

// RenderDisplayValue renders the stored value as escaped text.
func (b *Base) RenderDisplayValue(ctx context.Context) (string, error) {
	rec, _, err := b.data.GetRecord(ctx, b.UserID, b.Definition.ID)
	if err != nil {
		return "", fmt.Errorf("error loading field data: %w", err)
	}
	return html.EscapeString(rec.Data), nil
}

// IsEmpty reports whether the field has no stored value for the user.
func (b *Base) IsEmpty(ctx context.Context) (bool, error) {
	rec, _, err := b.data.GetRecord(ctx, b.UserID, b.Definition.ID)
	if err != nil {
		return false, fmt.Errorf("error loading field data: %w", err)
	}
	return rec.Data == "", nil
}
