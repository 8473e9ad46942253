package store

import (
	"fmt"

	"github.com/MrEthical07/goAuthz/permission"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateRoleInput creates a role. A zero ID is replaced by a new random id.
type CreateRoleInput struct {
	ID          uuid.UUID
	Name        string `validate:"required,max=64"`
	Level       int    `validate:"gte=0"`
	IsSuperuser bool
	Description string `validate:"max=512"`
}

// UpdateRoleInput replaces the mutable attributes of a role.
type UpdateRoleInput struct {
	ID          uuid.UUID `validate:"uuid_set"`
	Name        string    `validate:"required,max=64"`
	Level       int       `validate:"gte=0"`
	IsSuperuser bool
	Description string `validate:"max=512"`
}

// CreatePermissionInput creates a catalog entry. The key is derived.
type CreatePermissionInput struct {
	ID          uuid.UUID
	Resource    string            `validate:"required,max=64,excludes=:"`
	Action      permission.Action `validate:"required,oneof=read create delete update"`
	Operation   string            `validate:"required,max=64,excludes=:"`
	Description string            `validate:"max=512"`
}

// CreateFieldInput declares a request field under a permission.
type CreateFieldInput struct {
	ID           uuid.UUID
	PermissionID uuid.UUID         `validate:"uuid_set"`
	Name         string            `validate:"required,max=128"`
	Source       permission.Source `validate:"required,oneof=query json"`
}

// GrantInput grants or rescopes a permission for a role.
type GrantInput struct {
	RoleID       uuid.UUID        `validate:"uuid_set"`
	PermissionID uuid.UUID        `validate:"uuid_set"`
	Scope        permission.Scope `validate:"required,oneof=own any"`
}

// FieldGrantInput grants or changes the effect of a field for a (role, permission) grant.
type FieldGrantInput struct {
	RoleID       uuid.UUID         `validate:"uuid_set"`
	PermissionID uuid.UUID         `validate:"uuid_set"`
	FieldID      uuid.UUID         `validate:"uuid_set"`
	Effect       permission.Effect `validate:"required,oneof=allow deny"`
}

type specInput struct {
	Resource  string                         `validate:"required,max=64,excludes=:"`
	Action    permission.Action              `validate:"required,oneof=read create delete update"`
	Operation string                         `validate:"required,max=64,excludes=:"`
	Fields    map[permission.Source][]string `validate:"dive,keys,oneof=query json,endkeys,dive,required,max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("uuid_set", func(fl validator.FieldLevel) bool {
		id, ok := fl.Field().Interface().(uuid.UUID)
		return ok && id != uuid.Nil
	})
	return v
}

// Validate checks in against its struct tags. Failures wrap ErrInvalidInput
// and validator.ValidationErrors.
func Validate(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// ValidateSpec checks one catalog spec.
func ValidateSpec(s permission.Spec) error {
	return Validate(specInput{
		Resource:  s.Resource,
		Action:    s.Action,
		Operation: s.Operation,
		Fields:    s.Fields,
	})
}

// ValidateIDs rejects nil ids.
func ValidateIDs(ids ...uuid.UUID) error {
	for _, id := range ids {
		if id == uuid.Nil {
			return fmt.Errorf("%w: nil id", ErrInvalidInput)
		}
	}
	return nil
}

// NewPermission builds the catalog row for in, assigning an id when missing.
func NewPermission(in CreatePermissionInput) permission.Permission {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return permission.Permission{
		ID:          id,
		Key:         permission.Key(in.Resource, in.Action, in.Operation),
		Resource:    in.Resource,
		Action:      in.Action,
		Operation:   in.Operation,
		Description: in.Description,
	}
}
