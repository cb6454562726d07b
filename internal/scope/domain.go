package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Level identifies one tier of the organisational hierarchy.
type Level string

// Hierarchy tiers, broadest first.
const (
	LevelGlobal  Level = "global"
	LevelClient  Level = "client"
	LevelSite    Level = "site"
	LevelProject Level = "project"
)

// ErrInvalidRef indicates a malformed scope reference.
var ErrInvalidRef = errors.New("scope: invalid reference")

// ParseLevel converts a raw string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch Level(strings.TrimSpace(strings.ToLower(raw))) {
	case LevelGlobal:
		return LevelGlobal, nil
	case LevelClient:
		return LevelClient, nil
	case LevelSite:
		return LevelSite, nil
	case LevelProject:
		return LevelProject, nil
	default:
		return "", fmt.Errorf("%w: level %q", ErrInvalidRef, raw)
	}
}

// Depth returns the distance from the global root: global=0 .. project=3.
func (l Level) Depth() int {
	switch l {
	case LevelGlobal:
		return 0
	case LevelClient:
		return 1
	case LevelSite:
		return 2
	case LevelProject:
		return 3
	default:
		return -1
	}
}

// Broader reports whether l sits above other in the hierarchy.
func (l Level) Broader(other Level) bool {
	return l.Depth() >= 0 && other.Depth() >= 0 && l.Depth() < other.Depth()
}

// Ref denotes a single node in the scope tree.
type Ref struct {
	Level Level
	ID    string
}

// Global is the implicit root every client hangs off.
var Global = Ref{Level: LevelGlobal}

// Validate enforces the id rules: global carries no id, every other level
// requires one.
func (r Ref) Validate() error {
	if r.Level.Depth() < 0 {
		return fmt.Errorf("%w: level %q", ErrInvalidRef, string(r.Level))
	}
	if r.Level == LevelGlobal {
		if r.ID != "" {
			return fmt.Errorf("%w: global scope must not carry an id", ErrInvalidRef)
		}
		return nil
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: %s scope requires an id", ErrInvalidRef, r.Level)
	}
	return nil
}

// IsGlobal reports whether the reference is the root.
func (r Ref) IsGlobal() bool {
	return r.Level == LevelGlobal
}

// Equal compares two references.
func (r Ref) Equal(other Ref) bool {
	return r.Level == other.Level && r.ID == other.ID
}

// String renders the canonical form used in cache keys and audit records.
func (r Ref) String() string {
	if r.IsGlobal() {
		return string(LevelGlobal)
	}
	return string(r.Level) + ":" + r.ID
}

// ParseRef reverses Ref.String.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(LevelGlobal) {
		return Global, nil
	}
	level, id, found := strings.Cut(raw, ":")
	if !found {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{Level: parsed, ID: id}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Path is the ancestor chain of a scope ordered from most specific to the
// global root. A valid path always ends in Global.
type Path []Ref

// Contains reports whether ref appears anywhere on the path.
func (p Path) Contains(ref Ref) bool {
	for _, node := range p {
		if node.Equal(ref) {
			return true
		}
	}
	return false
}

// Leaf returns the most specific node of the path.
func (p Path) Leaf() Ref {
	if len(p) == 0 {
		return Global
	}
	return p[0]
}

// Validate checks ordering: depths strictly decrease toward the global root.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidRef)
	}
	if !p[len(p)-1].IsGlobal() {
		return fmt.Errorf("%w: path must terminate at global", ErrInvalidRef)
	}
	for i, node := range p {
		if err := node.Validate(); err != nil {
			return err
		}
		if i > 0 && node.Depth() >= p[i-1].Depth() {
			return fmt.Errorf("%w: path not ordered at %s", ErrInvalidRef, node)
		}
	}
	return nil
}

// Depth proxies to the node level.
func (r Ref) Depth() int {
	return r.Level.Depth()
}
