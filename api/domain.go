package api

// Domain assigns a host name and culture to a content node.
type Domain struct {
	ID         int
	Name       string
	ContentID  int
	Culture    string
	IsWildcard bool
}
