package config

import "fmt"

var (
	ErrInvalidConfig = fmt.Errorf("invalid config")
	ErrUnknownKeys   = fmt.Errorf("unknown config keys")
)
