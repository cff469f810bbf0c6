package io

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecopia-map/cesium_tile_baker/internal/codec"
	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/tileset"
)

const (
	KindTransientFetch      = "TransientFetchError"
	KindMalformedDescriptor = "MalformedDescriptor"
	KindCanceled            = "Canceled"
	KindWrite               = "WriteError"
	KindUnknown             = "Error"
)

// TileError reports a work unit that produced no output
type TileError struct {
	Source string
	Err    error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s: %v", e.Source, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// FailureKind names the failure class recorded in the manifest and in metrics
func FailureKind(err error) string {
	if kind, ok := codec.KindOf(err); ok {
		return kind.String()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, fetch.ErrTransient):
		return KindTransientFetch
	case errors.Is(err, tileset.ErrMalformedDescriptor):
		return KindMalformedDescriptor
	}
	var writeErr *writeError
	if errors.As(err, &writeErr) {
		return KindWrite
	}
	return KindUnknown
}

// FailureSource returns the url or path a failure refers to
func FailureSource(err error) string {
	var tileErr *TileError
	if errors.As(err, &tileErr) {
		return tileErr.Source
	}
	var branchErr *tileset.BranchError
	if errors.As(err, &branchErr) {
		return branchErr.URL
	}
	return ""
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return "write: " + e.err.Error()
}

func (e *writeError) Unwrap() error {
	return e.err
}
