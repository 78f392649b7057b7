// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package log is a thin constructor layer over zap. Packages in this module
// never reach for a global logger; they accept a *zap.Logger at
// construction, the way erigon's own services take a log.Logger parameter
// rather than calling a package-level logger.
package log

import "go.uber.org/zap"

// Nop returns a logger that discards everything, for tests and for callers
// that don't care to wire one up.
func Nop() *zap.Logger { return zap.NewNop() }

// NewProduction mirrors zap.NewProduction, panicking on misconfiguration the
// same way erigon's node startup path does for its own logger.
func NewProduction() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// NewDevelopment mirrors zap.NewDevelopment, panicking on misconfiguration
// like NewProduction. reclayerctl does not use it; its commands log to Nop.
func NewDevelopment() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return l
}
