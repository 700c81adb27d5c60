package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fwojciec/docchat"
)

// resolveDocument picks the document to chat about. pattern matches a
// document id exactly or its name as a glob. An empty pattern selects the
// only document, if there is exactly one.
func resolveDocument(ctx context.Context, lister docchat.FileLister, pattern string) (docchat.File, error) {
	files, err := lister.ListFiles(ctx)
	if err != nil {
		return docchat.File{}, fmt.Errorf("list documents: %w", err)
	}
	if len(files) == 0 {
		return docchat.File{}, fmt.Errorf("no documents uploaded")
	}

	if pattern == "" {
		if len(files) == 1 {
			return files[0], nil
		}
		return docchat.File{}, fmt.Errorf("%d documents available, select one with -doc: %s", len(files), names(files))
	}

	for _, f := range files {
		if f.ID == pattern {
			return f, nil
		}
	}

	if !doublestar.ValidatePattern(pattern) {
		return docchat.File{}, fmt.Errorf("invalid document pattern %q", pattern)
	}
	var matched []docchat.File
	for _, f := range files {
		if ok, _ := doublestar.Match(pattern, f.Name); ok {
			matched = append(matched, f)
		}
	}
	switch len(matched) {
	case 0:
		return docchat.File{}, fmt.Errorf("no document matches %q", pattern)
	case 1:
		return matched[0], nil
	default:
		return docchat.File{}, fmt.Errorf("%q matches %d documents: %s", pattern, len(matched), names(matched))
	}
}

func names(files []docchat.File) string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return strings.Join(out, ", ")
}
