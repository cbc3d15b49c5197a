package command

import "context"

// ProgressFunc receives progress updates in [0,1].
type ProgressFunc func(progress float64)

type progressKey struct{}

// WithProgress attaches a progress callback to ctx.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress forwards p to the callback attached to ctx, if any. Values are clamped to [0,1].
func ReportProgress(ctx context.Context, p float64) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok || fn == nil {
		return
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	fn(p)
}
