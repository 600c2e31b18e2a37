package state

import (
	"errors"
	"fmt"
	"strings"

	pref "github.com/goliatone/go-preference"
)

var (
	// ErrSuiteRequired indicates a Ref without a suite name.
	ErrSuiteRequired = errors.New("state: suite is required")
	// ErrScopeIDRequired indicates a scoped Ref without its owner ID.
	ErrScopeIDRequired = errors.New("state: scope id is required")
	// ErrUnsupportedScope indicates a Ref scope outside the known set.
	ErrUnsupportedScope = errors.New("state: unsupported scope")
)

const (
	ScopeSystem = "system"
	ScopeTenant = "tenant"
	ScopeOrg    = "org"
	ScopeTeam   = "team"
	ScopeUser   = "user"
)

// Ref names the preference suite a remote store reads and writes. Backends
// prefix every key with Ref.Identifier so several suites and owners can
// share one database, bucket or keyspace.
type Ref struct {
	// Suite groups the preferences of one application, e.g. "editor".
	Suite string
	// Scope is one of system, tenant, org, team or user. Empty means system.
	Scope string
	// ScopeID identifies the owner for every scope but system.
	ScopeID string
}

// Identifier returns the canonical prefix for r: "system/<suite>" or
// "<scope>/<id>/<suite>".
func (r Ref) Identifier() (string, error) {
	suite := strings.TrimSpace(r.Suite)
	if suite == "" {
		return "", ErrSuiteRequired
	}
	scope := strings.TrimSpace(r.Scope)
	switch scope {
	case "", ScopeSystem:
		return fmt.Sprintf("%s/%s", ScopeSystem, suite), nil
	case ScopeTenant, ScopeOrg, ScopeTeam, ScopeUser:
		id := strings.TrimSpace(r.ScopeID)
		if id == "" {
			return "", fmt.Errorf("%w for scope %q", ErrScopeIDRequired, scope)
		}
		return fmt.Sprintf("%s/%s/%s", scope, id, suite), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnsupportedScope, scope)
	}
}

// StorageKey joins the identifier and key into the backend key.
func (r Ref) StorageKey(key string) (string, error) {
	if err := pref.ValidateKey(key); err != nil {
		return "", err
	}
	if strings.Contains(key, "/") {
		return "", fmt.Errorf("%w: %q contains the identifier separator", pref.ErrInvalidKey, key)
	}
	prefix, err := r.Identifier()
	if err != nil {
		return "", err
	}
	return prefix + "/" + key, nil
}

// KeyFromStorage strips the identifier prefix from storageKey, reporting
// false when storageKey belongs to another Ref.
func (r Ref) KeyFromStorage(storageKey string) (string, bool) {
	prefix, err := r.Identifier()
	if err != nil {
		return "", false
	}
	key, ok := strings.CutPrefix(storageKey, prefix+"/")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
