package api

import "github.com/dgnsrekt/refreshd/internal/errors"

var (
	ErrNotFound    = errors.New("data type not found")
	ErrRateLimited = errors.New("rate limited by API")
	ErrAuthFailed  = errors.New("authentication failed")
)
