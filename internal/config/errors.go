package config

import "errors"

var (
	ErrInvalidConfig        = errors.New("invalid config")
	ErrConfigFileUnreadable = errors.New("config file unreadable")
	ErrConfigFileInvalid    = errors.New("config file invalid")
)
