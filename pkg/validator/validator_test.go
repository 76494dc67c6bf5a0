package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

type registration struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=6"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(registration{Username: "alice", Password: "secret1"}))
}

func TestValidateStructFailuresUseJSONNames(t *testing.T) {
	err := ValidateStruct(registration{Username: "Alice Smith", Password: "x"})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 2)
	require.Equal(t, "username", failures[0].Field)
	require.Equal(t, "username", failures[0].Tag)
	require.Equal(t, "password", failures[1].Field)
	require.Equal(t, "min", failures[1].Tag)
	require.Equal(t, "6", failures[1].Param)
}

func TestCheckReturnsValidationKind(t *testing.T) {
	err := Check(registration{})
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("engine", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "postgresql"
	}))

	type payload struct {
		Kind string `json:"kind" validate:"engine"`
	}
	require.NoError(t, ValidateStruct(payload{Kind: "postgresql"}))
	require.Error(t, ValidateStruct(payload{Kind: "mongodb"}))
}
