package lock

import "coredb/pkg/primitives"

// ResourceName is re-exported from pkg/primitives so callers of this
// package never need to import primitives just to name a resource.
type ResourceName = primitives.ResourceName
