package permission

import (
	"errors"

	"github.com/MrEthical07/gatekeep/token"
)

var (
	// ErrUnauthenticated is returned when no verified claims are present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller's role is not in the required set.
	ErrForbidden = errors.New("forbidden")
)

// Guard decides whether verified claims satisfy a required role set.
// It is stateless and safe for concurrent use once the registry is frozen.
type Guard struct {
	registry *Registry
}

func NewGuard(registry *Registry) *Guard {
	return &Guard{registry: registry}
}

// Registry returns the registry the guard resolves roles against.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Check admits claims whose role is a member of required. An empty required
// set admits nobody.
func (g *Guard) Check(claims *token.Claims, required Mask64) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	bit, ok := g.registry.Bit(claims.Role)
	if !ok || !required.Has(bit) {
		return ErrForbidden
	}
	return nil
}

// CheckOwnerOrRole admits the owner of a resource regardless of role, and
// anyone else whose role is in required.
func (g *Guard) CheckOwnerOrRole(claims *token.Claims, ownerID string, required Mask64) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if ownerID != "" && claims.Subject == ownerID {
		return nil
	}
	return g.Check(claims, required)
}
