package tree

import "errors"

var (
	ErrImport    = errors.New("import failed")
	ErrNotInTree = errors.New("path not in tree")
)
