package fixes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jrepp/prism-plumber/pkg/patch"
)

// ErrUnknownPatch is returned when a name matches no catalog entry
var ErrUnknownPatch = errors.New("unknown patch")

// Catalog entries, in declared order
const (
	MediaSessionLegacyHelper patch.ID = iota
	TextLinePool
	UserManager
	FlushHandlerThreads
	AccessibilityNodeInfo
)

var names = map[patch.ID]string{
	MediaSessionLegacyHelper: "media-session-legacy-helper",
	TextLinePool:             "text-line-pool",
	UserManager:              "user-manager",
	FlushHandlerThreads:      "flush-handler-threads",
	AccessibilityNodeInfo:    "accessibility-node-info",
}

// Name returns the configuration name of id
func Name(id patch.ID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("patch(%d)", int(id))
}

// ParseID maps a configuration name to its id. Matching ignores case and
// treats '_' as '-', so MEDIA_SESSION_LEGACY_HELPER works too.
func ParseID(name string) (patch.ID, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for id, n := range names {
		if n == norm {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPatch, name)
}

// ParseSelection maps names to a selection. It fails on the first unknown name.
func ParseSelection(list []string) (patch.Selection, error) {
	ids := make([]patch.ID, 0, len(list))
	for _, n := range list {
		id, err := ParseID(n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return patch.Select(ids...), nil
}
