//go:build tools

// Package tools tracks code generators used by go generate so go.mod keeps
// them pinned.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
