package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
	"github.com/Schera-ole/shapementor/internal/repository"
)

// UserService manages the user directory.
type UserService struct {
	// repository is the underlying data storage implementation
	repository repository.UserRepository

	validate *validator.Validate
}

// NewUserService creates a new UserService with the specified repository.
func NewUserService(repo repository.UserRepository) *UserService {

	return &UserService{repository: repo, validate: newValidator()}
}

// ResolveOrCreateByEmail returns the user owning email, creating it on first
// reference. Repeated calls with the same email return the same user id.
func (us *UserService) ResolveOrCreateByEmail(ctx context.Context, email string) (models.User, error) {

	email = strings.TrimSpace(email)
	if err := us.validate.Var(email, "required,max=255"); err != nil {
		return models.User{}, validationError("email", err)
	}
	return us.repository.UpsertUserByEmail(ctx, models.NewUser(email))
}

// FindByEmail returns the user owning email without creating it.
func (us *UserService) FindByEmail(ctx context.Context, email string) (models.User, error) {

	return us.repository.FindUserByEmail(ctx, strings.TrimSpace(email))
}

// GetProfile returns the profile of the user with the given id.
func (us *UserService) GetProfile(ctx context.Context, userID int64) (models.User, error) {

	return us.repository.FindUserByID(ctx, userID)
}

// UpdateProfile applies patch to the user. Only the fields present in the patch change.
//
// Name and email cannot be cleared; the optional fields are cleared by an empty value.
func (us *UserService) UpdateProfile(ctx context.Context, userID int64, patch models.UserPatch) (models.User, error) {

	if patch.UserName != nil {
		name := strings.TrimSpace(*patch.UserName)
		if name == "" {
			return models.User{}, fmt.Errorf("%w: user_name cannot be empty", internalerrors.ErrInvalidInput)
		}
		patch.UserName = &name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email == "" {
			return models.User{}, fmt.Errorf("%w: email cannot be empty", internalerrors.ErrInvalidInput)
		}
		patch.Email = &email
	}
	if err := us.validate.Struct(patch); err != nil {
		return models.User{}, validationError("profile", err)
	}
	return us.repository.UpdateUser(ctx, userID, patch)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into an ErrInvalidInput chain.
func validationError(subject string, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Field()
		if field == "" {
			field = subject
		}
		return fmt.Errorf("%w: %s failed on %q", internalerrors.ErrInvalidInput, field, fe.Tag())
	}
	return fmt.Errorf("%w: %s: %w", internalerrors.ErrInvalidInput, subject, err)
}
