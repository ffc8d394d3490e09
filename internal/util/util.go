package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID. ULIDs sort by creation time, which keeps
// execution log indexes append-friendly.
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewLogID() string { return NewID("log") }

func NewAccountID() string { return NewID("acc") }

func NowUTC() time.Time {
	return time.Now().UTC()
}

// RenderTemplate replaces {name} placeholders in a single pass. Placeholders
// without a value are left as written.
func RenderTemplate(body string, vars map[string]string) string {
	if len(vars) == 0 {
		return body
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
