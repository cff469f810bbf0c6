package tiler

import "context"

type ITiler interface {
	RunTiler(ctx context.Context, opts *TilerOptions) error
}
