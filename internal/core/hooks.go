package core

import "context"

// Row is one CSV row keyed by column name.
type Row map[string]string

// Hooks are optional callbacks that extend the transform stage. A nil hook
// is the identity.
type Hooks struct {
	// HeaderExtend receives the default output columns and returns the final list.
	HeaderExtend func(headers []string) []string

	// RowValidate receives the default verdict for a source row and may override it.
	RowValidate func(valid bool, source Row) bool

	// RowExtend receives the mapped output row and its source row and returns
	// the row to write.
	RowExtend func(mapped, source Row) Row

	// OnDebug receives verbose tracing from the stages.
	OnDebug func(ctx context.Context, msg string, args ...any)
}

// ExtendHeaders applies HeaderExtend to a copy of headers.
func (h Hooks) ExtendHeaders(headers []string) []string {
	out := append([]string(nil), headers...)
	if h.HeaderExtend == nil {
		return out
	}
	return h.HeaderExtend(out)
}

// Validate applies RowValidate.
func (h Hooks) Validate(valid bool, source Row) bool {
	if h.RowValidate == nil {
		return valid
	}
	return h.RowValidate(valid, source)
}

// Extend applies RowExtend.
func (h Hooks) Extend(mapped, source Row) Row {
	if h.RowExtend == nil {
		return mapped
	}
	return h.RowExtend(mapped, source)
}

// Debug forwards to OnDebug when set.
func (h Hooks) Debug(ctx context.Context, msg string, args ...any) {
	if h.OnDebug != nil {
		h.OnDebug(ctx, msg, args...)
	}
}
