package models

import "errors"

var errMissingVerificationCode = errors.New("missing required field: verification_code")
