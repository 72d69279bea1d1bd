// Package hierarchy turns slash-delimited category paths into a category
// tree with ids derived from the path, so repeated runs produce the same
// ids no matter which record mentions a category first.
package hierarchy

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// Namespace seeds the name-based category ids. Changing it changes every
// category id, so it must stay fixed.
var Namespace = uuid.MustParse("6f1c2f9e-3b1d-5c47-9a55-2d8e0c4b7a10")

// Separator splits a category path into segments.
const Separator = "/"

// Resolver builds the category tree of one run. Categories are appended to
// the graph once; the run context's category set is the dedup key space.
type Resolver struct {
	rc    *catalog.RunContext
	graph *catalog.Graph
}

// New returns a resolver writing into graph.
func New(rc *catalog.RunContext, graph *catalog.Graph) *Resolver {
	return &Resolver{rc: rc, graph: graph}
}

// Resolve returns the leaf category id for path. Missing ancestors are
// created parent first. When path has no segments the id is derived from
// rawID, or rawName when there is no id, and the category becomes a root.
// ok is false when there is nothing to derive an id from.
func (r *Resolver) Resolve(path, rawID, rawName string) (id uuid.UUID, ok bool) {
	segments := Segments(path)
	if len(segments) == 0 {
		return r.resolveRaw(rawID, rawName)
	}

	var parent uuid.NullUUID
	for depth := range segments {
		prefix := strings.Join(segments[:depth+1], Separator)
		id = SegmentID(depth, prefix)

		if r.rc.Mark(catalog.KindCategory, id.String()) {
			r.graph.Categories = append(r.graph.Categories, catalog.Category{
				ID:       id,
				Name:     segments[depth],
				Path:     prefix,
				ParentID: parent,
				Depth:    depth,
			})
		}
		parent = uuid.NullUUID{UUID: id, Valid: true}
	}
	return id, true
}

func (r *Resolver) resolveRaw(rawID, rawName string) (uuid.UUID, bool) {
	key := normalize(rawID)
	name := normalize(rawName)
	if key == "" {
		key = name
	}
	if key == "" {
		return uuid.Nil, false
	}
	if name == "" {
		name = key
	}

	id := uuid.NewSHA1(Namespace, []byte("raw:"+strings.ToLower(key)))
	if r.rc.Mark(catalog.KindCategory, id.String()) {
		r.graph.Categories = append(r.graph.Categories, catalog.Category{
			ID:   id,
			Name: name,
			Path: name,
		})
	}
	return id, true
}

// SegmentID is the id of the category at depth whose full path is prefix.
// Matching is case-insensitive; the first spelling seen is kept as the name.
func SegmentID(depth int, prefix string) uuid.UUID {
	key := strconv.Itoa(depth) + ":" + strings.ToLower(prefix)
	return uuid.NewSHA1(Namespace, []byte(key))
}

// Segments splits path into normalized, non-empty segments.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, Separator) {
		if s = normalize(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalize applies NFC and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
