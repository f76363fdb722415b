package core

// Opt is one field of a Patch: untouched, set to a value, or cleared.
type Opt[T any] struct {
	set   bool
	clear bool
	value T
}

// Set returns an Opt that assigns v.
func Set[T any](v T) Opt[T] { return Opt[T]{set: true, value: v} }

// Clear returns an Opt that removes the field.
func Clear[T any]() Opt[T] { return Opt[T]{set: true, clear: true} }

// IsSet reports whether the field is touched by the patch.
func (o Opt[T]) IsSet() bool { return o.set }

// IsClear reports whether the field is removed by the patch.
func (o Opt[T]) IsClear() bool { return o.clear }

// Value returns the assigned value, or the zero value when cleared.
func (o Opt[T]) Value() T { return o.value }

// Patch is a partial update for a DataSource. ID, Version and FileName are
// immutable and deliberately absent.
type Patch struct {
	FilePath       Opt[string]
	ImportFilePath Opt[string]
	ImportFileURL  Opt[string]
	Processed      Opt[bool]
	ValidRows      Opt[int64]
	Imported       Opt[bool]
	Cleaned        Opt[bool]
}

// Property names shared by the stores.
const (
	PropFilePath       = "filePath"
	PropImportFilePath = "importFilePath"
	PropImportFileURL  = "importFileUrl"
	PropProcessed      = "processed"
	PropValidRows      = "validRows"
	PropImported       = "imported"
	PropCleaned        = "cleaned"
)

// IsEmpty reports whether the patch touches no field.
func (p Patch) IsEmpty() bool {
	return len(p.Properties()) == 0
}

// Properties returns the touched fields keyed by property name. Cleared
// fields map to nil.
func (p Patch) Properties() map[string]any {
	props := make(map[string]any)
	addOpt(props, PropFilePath, p.FilePath)
	addOpt(props, PropImportFilePath, p.ImportFilePath)
	addOpt(props, PropImportFileURL, p.ImportFileURL)
	addOpt(props, PropProcessed, p.Processed)
	addOpt(props, PropValidRows, p.ValidRows)
	addOpt(props, PropImported, p.Imported)
	addOpt(props, PropCleaned, p.Cleaned)
	return props
}

func addOpt[T any](props map[string]any, name string, o Opt[T]) {
	if !o.set {
		return
	}
	if o.clear {
		props[name] = nil
		return
	}
	props[name] = o.value
}

// Apply returns ds with the patch merged in.
func (p Patch) Apply(ds DataSource) DataSource {
	applyOpt(&ds.FilePath, p.FilePath)
	applyOpt(&ds.ImportFilePath, p.ImportFilePath)
	applyOpt(&ds.ImportFileURL, p.ImportFileURL)
	applyOpt(&ds.Processed, p.Processed)
	applyOpt(&ds.ValidRows, p.ValidRows)
	applyOpt(&ds.Imported, p.Imported)
	applyOpt(&ds.Cleaned, p.Cleaned)
	return ds
}

func applyOpt[T any](dst *T, o Opt[T]) {
	if o.set {
		*dst = o.value
	}
}
