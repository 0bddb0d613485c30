package service

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/store"
)

// PublishedSnapshot is a consistent view of every cache, pinned when it was
// created. It must be released.
type PublishedSnapshot struct {
	content *ContentCache
	media   *ContentCache
	domains *DomainCache

	released atomic.Bool
}

// CreateSnapshot pins the current generation of every cache.
func (s *Service) CreateSnapshot() (*PublishedSnapshot, error) {
	if !s.IsReady() {
		return nil, ErrNotReady
	}
	return &PublishedSnapshot{
		content: &ContentCache{snap: s.trees[api.TreeContent].store.CreateSnapshot()},
		media:   &ContentCache{snap: s.trees[api.TreeMedia].store.CreateSnapshot()},
		domains: &DomainCache{snap: s.domains.CreateSnapshot()},
	}, nil
}

// Content returns the document cache.
func (p *PublishedSnapshot) Content() *ContentCache {
	return p.content
}

// Media returns the media cache.
func (p *PublishedSnapshot) Media() *ContentCache {
	return p.media
}

// Domains returns the domain cache.
func (p *PublishedSnapshot) Domains() *DomainCache {
	return p.domains
}

// Release unpins every cache. Releasing twice is a no-op.
func (p *PublishedSnapshot) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.content.snap.Release()
	p.media.snap.Release()
	p.domains.snap.Release()
}

// ContentCache reads one tree. In preview mode nodes with a draft are
// visible and render their draft; otherwise only published nodes are.
type ContentCache struct {
	snap *store.Snapshot
}

// Gen returns the generation the cache is pinned to.
func (c *ContentCache) Gen() uint64 {
	return c.snap.Gen()
}

func visible(n *api.Node, preview bool) bool {
	return n != nil && n.Data(preview) != nil
}

func filter(nodes []*api.Node, preview bool) []*api.Node {
	var visibleNodes []*api.Node
	for _, n := range nodes {
		if visible(n, preview) {
			visibleNodes = append(visibleNodes, n)
		}
	}
	return visibleNodes
}

// GetByID returns the node, or nil when it does not exist or is not
// visible.
func (c *ContentCache) GetByID(preview bool, id int) *api.Node {
	if n := c.snap.Get(id); visible(n, preview) {
		return n
	}
	return nil
}

// GetByKey returns the node with the external key, or nil.
func (c *ContentCache) GetByKey(preview bool, key uuid.UUID) *api.Node {
	if n := c.snap.GetByKey(key); visible(n, preview) {
		return n
	}
	return nil
}

// GetAtRoot returns the visible top-level nodes.
func (c *ContentCache) GetAtRoot(preview bool) []*api.Node {
	return filter(c.snap.AtRoot(), preview)
}

// Children returns the visible children of a node.
func (c *ContentCache) Children(preview bool, id int) []*api.Node {
	return filter(c.snap.Children(id), preview)
}

// Ancestors returns the ancestors of a node, nearest first.
func (c *ContentCache) Ancestors(preview bool, id int) []*api.Node {
	if c.GetByID(preview, id) == nil {
		return nil
	}
	return filter(c.snap.Ancestors(id), preview)
}

// Descendants returns the visible nodes below id.
func (c *ContentCache) Descendants(preview bool, id int) []*api.Node {
	return filter(c.snap.Descendants(id), preview)
}

// HasContent reports whether any node is visible.
func (c *ContentCache) HasContent(preview bool) bool {
	return len(c.GetAtRoot(preview)) > 0
}

// ContentType returns a content type by id.
func (c *ContentCache) ContentType(id int) *api.ContentType {
	return c.snap.ContentType(id)
}

// GetByRoute resolves a route of URL segments. A route starting with a node
// id, such as "1234/about/team", is resolved below that node; otherwise it
// is resolved from the top level, and "/" is the first top-level node.
func (c *ContentCache) GetByRoute(preview bool, route string) *api.Node {
	var (
		startID = api.RootID
		path    = route
	)
	if i := strings.IndexByte(route, '/'); i > 0 {
		id, err := strconv.Atoi(route[:i])
		if err != nil {
			return nil
		}
		startID, path = id, route[i:]
	}

	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if startID == api.RootID {
		if len(segments) == 0 {
			roots := c.GetAtRoot(preview)
			if len(roots) == 0 {
				return nil
			}
			return roots[0]
		}
		return c.walk(preview, api.RootID, segments)
	}

	start := c.GetByID(preview, startID)
	if start == nil || len(segments) == 0 {
		return start
	}
	return c.walk(preview, startID, segments)
}

func (c *ContentCache) walk(preview bool, id int, segments []string) *api.Node {
	var n *api.Node
	for _, segment := range segments {
		n = nil
		for _, child := range c.Children(preview, id) {
			if strings.EqualFold(child.Data(preview).URLSegment, segment) {
				n = child
				break
			}
		}
		if n == nil {
			return nil
		}
		id = n.ID
	}
	return n
}

// GetRoute returns the route of a node: the URL segments of the node and its
// ancestors below the nearest node that has a domain, prefixed with that
// node's id. Nodes without such an ancestor get a route from the top level.
func (c *ContentCache) GetRoute(preview bool, id int, domains *DomainCache) string {
	n := c.GetByID(preview, id)
	if n == nil {
		return ""
	}

	segments := []string{}
	cur := n
	for cur != nil {
		if domains != nil && len(domains.GetAssigned(cur.ID, false)) > 0 {
			return strconv.Itoa(cur.ID) + "/" + joinReversed(segments)
		}
		segments = append(segments, cur.Data(preview).URLSegment)
		cur = c.GetByID(preview, cur.ParentID)
	}
	return "/" + joinReversed(segments)
}

func joinReversed(segments []string) string {
	reversed := make([]string, len(segments))
	for i, s := range segments {
		reversed[len(segments)-1-i] = s
	}
	return strings.Join(reversed, "/")
}

// DomainCache reads the domains.
type DomainCache struct {
	snap *store.DictSnapshot[int, *api.Domain]
}

// Get returns a domain by id, or nil.
func (c *DomainCache) Get(id int) *api.Domain {
	d, _ := c.snap.Get(id)
	return d
}

// GetAll returns every domain ordered by id.
func (c *DomainCache) GetAll(includeWildcards bool) []*api.Domain {
	var domains []*api.Domain
	for _, d := range c.snap.All() {
		if includeWildcards || !d.IsWildcard {
			domains = append(domains, d)
		}
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].ID < domains[j].ID })
	return domains
}

// GetAssigned returns the domains assigned to a content node.
func (c *DomainCache) GetAssigned(contentID int, includeWildcards bool) []*api.Domain {
	var domains []*api.Domain
	for _, d := range c.GetAll(includeWildcards) {
		if d.ContentID == contentID {
			domains = append(domains, d)
		}
	}
	return domains
}

// GetByName returns the non wildcard domain with the host name, or nil.
func (c *DomainCache) GetByName(name string) *api.Domain {
	for _, d := range c.GetAll(false) {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}
