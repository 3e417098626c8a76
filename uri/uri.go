// Package uri provides the small location type used throughout this module
// to address a snapshot artifact — state.bin, a bucket index, a hint
// table, a delta log — whether it lives on local disk or behind an HTTP
// server. CLI flags and lane config files alike hold a uri.URI; the
// artifact package decides how to open one.
package uri

import "strings"

type List []URI

// Set implements flag.Value, letting a CLI flag repeat to build up a list.
func (l *List) Set(value string) error {
	if value == "" {
		return nil
	}
	*l = append(*l, New(value))
	return nil
}

// String returns the URIs as a comma-separated string.
func (l List) String() string {
	if len(l) == 0 {
		return ""
	}
	result := make([]string, len(l))
	for i, u := range l {
		result[i] = u.String()
	}
	return strings.Join(result, ",")
}

func New(uri string) URI {
	return URI(uri)
}

type URI string

func (u URI) String() string { return string(u) }

// IsZero returns true if the URI is empty.
func (u URI) IsZero() bool { return u == "" }

// IsValid returns true if the URI is non-empty and one of the schemes this
// module understands.
func (u URI) IsValid() bool {
	if u.IsZero() {
		return false
	}
	return u.IsFile() || u.IsWeb()
}

// IsFile returns true if the URI is a local file or directory.
func (u URI) IsFile() bool {
	return (len(u) > 7 && u[:7] == "file://") || (len(u) > 1 && u[0] == '/')
}

// IsWeb returns true if the URI is a remote HTTP(S) URI.
func (u URI) IsWeb() bool {
	return len(u) > 7 && u[:7] == "http://" || len(u) > 8 && u[:8] == "https://"
}

// Path strips a file:// prefix, if present, returning a path suitable for
// os.Open/mmap.Open.
func (u URI) Path() string {
	if len(u) > 7 && u[:7] == "file://" {
		return string(u[7:])
	}
	return string(u)
}
