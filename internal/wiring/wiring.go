// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/keep/config"
	_ "go.trai.ch/keep/internal/logging"
	// Register app nodes.
	_ "go.trai.ch/keep/internal/app"
)
