//go:build tools
// +build tools

// Package tools pins the code generators used by go:generate so go.mod
// tracks them.
package livechat

import (
	_ "go.uber.org/mock/mockgen"
)
