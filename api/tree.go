package api

import "fmt"

// Tree identifies one independently locked content tree.
type Tree int

const (
	// TreeContent is the document tree.
	TreeContent Tree = iota
	// TreeMedia is the media tree.
	TreeMedia
)

// Trees lists every tree kept by the cache.
var Trees = []Tree{TreeContent, TreeMedia}

func (t Tree) String() string {
	switch t {
	case TreeContent:
		return "content"
	case TreeMedia:
		return "media"
	default:
		return fmt.Sprintf("tree(%d)", int(t))
	}
}

// ItemTypeName is the item kind name used in content type change payloads.
func (t Tree) ItemTypeName() string {
	switch t {
	case TreeContent:
		return "IContentType"
	case TreeMedia:
		return "IMediaType"
	default:
		return ""
	}
}

// ParseTree returns the tree named s.
func ParseTree(s string) (Tree, error) {
	for _, t := range Trees {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tree %q", s)
}
