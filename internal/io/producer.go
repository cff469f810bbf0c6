package io

import (
	"context"
	"sync"
)

// Producer submits WorkUnits to the work channel and closes it once everything has been submitted.
// Errors that only lose part of the work are sent to errchan.
type Producer interface {
	Produce(ctx context.Context, work chan *WorkUnit, errchan chan error, wg *sync.WaitGroup)
}
