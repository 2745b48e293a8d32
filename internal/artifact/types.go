// Package artifact defines BlueKit artifact types, the on-disk and remote
// path conventions that derive from them, content hashing and the
// front-matter header carried by artifact documents.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

// Type is the logical class of an artifact document.
type Type string

const (
	TypeKit         Type = "kit"
	TypeWalkthrough Type = "walkthrough"
	TypeAgent       Type = "agent"
	TypeDiagram     Type = "diagram"
	TypeTask        Type = "task"
	TypeOther       Type = "other"
)

// DirName is the conventional per-project artifact directory.
const DirName = ".bluekit"

// FolderSentinel marks a remote workspace folder.
const FolderSentinel = ".bluekitws"

// ScannedSubdirs are the .bluekit subdirectories reconciled into the
// resource catalog.
var ScannedSubdirs = []string{"kits", "walkthroughs", "agents", "diagrams", "tasks"}

// RemoteSubdirs are the artifact subdirectories crawled on a workspace.
var RemoteSubdirs = []string{"kits", "walkthroughs", "agents", "diagrams"}

var typeToSubdir = map[Type]string{
	TypeKit:         "kits",
	TypeWalkthrough: "walkthroughs",
	TypeAgent:       "agents",
	TypeDiagram:     "diagrams",
	TypeTask:        "tasks",
}

// Subdir returns the directory name used for artifacts of type t.
// Unknown types map to "other".
func (t Type) Subdir() string {
	if dir, ok := typeToSubdir[t]; ok {
		return dir
	}
	return "other"
}

// Known reports whether t is one of the recognized artifact types.
func (t Type) Known() bool {
	_, ok := typeToSubdir[t]
	return ok
}

func (t Type) String() string { return string(t) }

// TypeForSubdir maps a directory name back to its artifact type.
func TypeForSubdir(dir string) (Type, bool) {
	for t, d := range typeToSubdir {
		if d == dir {
			return t, true
		}
	}
	return "", false
}

// ParseType normalizes a front-matter type value. Plural directory names
// ("kits") are accepted as aliases for their singular type.
func ParseType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := TypeForSubdir(s); ok {
		return t
	}
	return Type(s)
}

// TypeFromPath derives the artifact type from a path by locating the
// nearest known artifact subdirectory among its segments. Both relative
// ("kits/auth.md", ".bluekit/kits/auth.md", "ui/kits/auth.md") and
// absolute paths are accepted.
func TypeFromPath(p string) Type {
	segments := strings.Split(filepath.ToSlash(p), "/")
	// The filename itself never names the type.
	for i := len(segments) - 2; i >= 0; i-- {
		if t, ok := TypeForSubdir(segments[i]); ok {
			return t
		}
	}
	return TypeOther
}

// TypeSegment returns the artifact-type directory segment found in a
// remote path along with the prefix before it. ok is false when the path
// has no recognized segment.
func TypeSegment(remotePath string) (prefix, segment string, ok bool) {
	segments := strings.Split(strings.Trim(remotePath, "/"), "/")
	for i := len(segments) - 2; i >= 0; i-- {
		if _, known := TypeForSubdir(segments[i]); known {
			return strings.Join(segments[:i], "/"), segments[i], true
		}
	}
	return "", "", false
}

// RemotePathFor returns the workspace-relative path an artifact of type t
// named filename is published to.
func RemotePathFor(t Type, filename string) string {
	return path.Join(t.Subdir(), filename)
}

// LocalRelPath returns the project-relative path of an artifact of type t.
func LocalRelPath(t Type, filename string) string {
	return path.Join(DirName, t.Subdir(), filename)
}

// IsArtifactFile reports whether name carries a scanned artifact extension.
func IsArtifactFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".mmd", ".mermaid":
		return true
	}
	return false
}

// IsDiagramFile reports whether name is a Mermaid diagram.
func IsDiagramFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mmd", ".mermaid":
		return true
	}
	return false
}

// IsWatchedFile reports whether a change to name is relevant to watchers:
// artifact documents plus the JSON sentinels and the database file.
func IsWatchedFile(name string) bool {
	if IsArtifactFile(name) {
		return true
	}
	switch filepath.Base(name) {
	case "blueprint.json", "clones.json", "projectRegistry.json", "bluekit.db", "bluekit.db-wal":
		return true
	}
	return false
}

// ContentHash returns the lowercase hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Stem returns the filename without its extension.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
