package config

import (
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// Duration is a time.Duration that reads and writes as a string such as
// "40ms" in toml and yaml.
type Duration struct {
	time.Duration
}

func NewDuration(duration time.Duration) Duration {
	return Duration{Duration: duration}
}

// MarshalText returns the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) String() string {
	return fmt.Sprint(d.Duration)
}
