package auth

import "github.com/go-playground/validator/v10"

var validate = validator.New()

type SignupRequest struct {
	FullName string `json:"fullName" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func ValidateSignup(req SignupRequest) error {
	return validate.Struct(req)
}

func ValidateSignin(req SigninRequest) error {
	return validate.Struct(req)
}
