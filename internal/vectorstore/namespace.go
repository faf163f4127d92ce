package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/lexcounsel/memengine/internal/sanitize"
)

const (
	namespacePrefix    = "tenant_"
	namespaceReadable  = 40
	namespaceHashChars = 12
)

// ResolveNamespace derives the namespace for a tenant:
//
//	tenant_<sanitized tenant, at most 40 chars>_<first 12 hex of sha256(tenant)>
//
// The sanitized part keeps namespaces readable; the hash keeps tenants whose
// ids sanitize identically apart. The result matches ^[a-z0-9_]{1,64}$.
func ResolveNamespace(tenantID string) (string, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTenant, err)
	}
	sum := sha256.Sum256([]byte(tenantID))
	return namespacePrefix +
		sanitize.Identifier(tenantID, namespaceReadable) + "_" +
		hex.EncodeToString(sum[:])[:namespaceHashChars], nil
}

func validateNamespace(ns string) error {
	if !sanitize.IsIdentifier(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}
