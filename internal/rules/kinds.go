package rules

import (
	"fmt"
	"scanwarden/internal/artifact"
	"sort"
	"sync"
)

// Kind tags a rule variant.
type Kind string

// Matcher is the predicate half of a rule.
type Matcher interface {
	Match(rec artifact.Record) bool
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(rec artifact.Record) bool

func (f MatcherFunc) Match(rec artifact.Record) bool { return f(rec) }

// Compiler turns a rule value into a Matcher. It runs once at RuleSet
// construction and must reject any value Match could not handle.
type Compiler func(value string) (Matcher, error)

type KindInfo struct {
	Kind        Kind
	Description string
}

type kindEntry struct {
	info    KindInfo
	compile Compiler
}

var (
	kinds = make(map[Kind]kindEntry)
	mu    sync.RWMutex
)

// RegisterKind adds a rule kind. Registering the same kind twice panics.
func RegisterKind(k Kind, description string, c Compiler) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := kinds[k]; exists {
		panic(fmt.Sprintf("rule kind %s already registered", k))
	}
	kinds[k] = kindEntry{info: KindInfo{Kind: k, Description: description}, compile: c}
}

// Kinds lists registered kinds sorted by name.
func Kinds() []KindInfo {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]KindInfo, 0, len(kinds))
	for _, e := range kinds {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Kind < out[j].Kind
	})
	return out
}

// LookupKind reports whether k is registered.
func LookupKind(k Kind) (KindInfo, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := kinds[k]
	return e.info, ok
}

func lookupKind(k Kind) (Compiler, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := kinds[k]
	return e.compile, ok
}
