package memsource

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML description of a source's content.
type Fixture struct {
	ContentTypes []FixtureType   `yaml:"contentTypes"`
	Content      []FixtureNode   `yaml:"content"`
	Media        []FixtureNode   `yaml:"media"`
	Domains      []FixtureDomain `yaml:"domains"`
}

// FixtureType describes a content or media type.
type FixtureType struct {
	ID        int    `yaml:"id"`
	Alias     string `yaml:"alias"`
	ItemType  string `yaml:"itemType"`
	DataTypes []int  `yaml:"dataTypes"`
}

// FixtureNode describes a node. Nodes must be listed after their parent; a
// zero parent places the node at the top level. Unpublished nodes only carry
// a draft.
type FixtureNode struct {
	ID         int       `yaml:"id"`
	Key        string    `yaml:"key"`
	Parent     int       `yaml:"parent"`
	Sort       int       `yaml:"sort"`
	Type       int       `yaml:"type"`
	Name       string    `yaml:"name"`
	URLSegment string    `yaml:"urlSegment"`
	Template   int       `yaml:"template"`
	Properties string    `yaml:"properties"`
	Created    time.Time `yaml:"created"`
	Published  *bool     `yaml:"published"`
	Draft      string    `yaml:"draft"`
}

// FixtureDomain describes a routing domain.
type FixtureDomain struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Content  int    `yaml:"content"`
	Culture  string `yaml:"culture"`
	Wildcard bool   `yaml:"wildcard"`
}

// ReadFixture decodes a fixture.
func ReadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode fixture")
	}
	return &f, nil
}

// LoadFixtureFile decodes the fixture at path.
func LoadFixtureFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFixture(f)
}

// Kit returns the node kit the fixture node describes.
func (n FixtureNode) Kit() (api.NodeKit, error) {
	node := &api.Node{
		ID:         n.ID,
		ParentID:   n.Parent,
		SortOrder:  n.Sort,
		CreateDate: n.Created,
	}
	if n.Key != "" {
		key, err := uuid.Parse(n.Key)
		if err != nil {
			return api.NodeKit{}, errors.Wrapf(err, "node %d: invalid key", n.ID)
		}
		node.Key = key
	} else {
		node.Key = uuid.NewSHA1(uuid.NameSpaceURL, []byte("nucache:node:"+strconv.Itoa(n.ID)))
	}
	if n.Parent == 0 {
		node.ParentID = api.RootID
	}

	data := &api.ContentData{
		Name:       n.Name,
		URLSegment: n.URLSegment,
		VersionID:  1,
		TemplateID: n.Template,
		Properties: []byte(n.Properties),
	}
	kit := api.NodeKit{Node: node, ContentTypeID: n.Type}
	if n.Published == nil || *n.Published {
		published := data.Copy()
		published.Published = true
		kit.Published = published
	}
	if n.Draft != "" {
		draft := data.Copy()
		draft.Name = n.Draft
		draft.VersionID = 2
		kit.Draft = draft
	} else if kit.Published == nil {
		kit.Draft = data
	}
	return kit, nil
}

// Seed writes the fixture into the source in one transaction.
func (s *Source) Seed(ctx context.Context, f *Fixture) error {
	return s.Update(ctx, func(tx *WriteTx) error {
		for _, t := range f.ContentTypes {
			tree, err := api.ParseTree(t.ItemType)
			if err != nil {
				return errors.Wrapf(err, "content type %d", t.ID)
			}
			if err := tx.SaveContentType(&api.ContentType{
				ID:          t.ID,
				Alias:       t.Alias,
				ItemType:    tree,
				DataTypeIDs: t.DataTypes,
			}); err != nil {
				return err
			}
		}
		for tree, nodes := range map[api.Tree][]FixtureNode{
			api.TreeContent: f.Content,
			api.TreeMedia:   f.Media,
		} {
			for _, n := range nodes {
				kit, err := n.Kit()
				if err != nil {
					return err
				}
				if err := tx.SaveNode(tree, kit); err != nil {
					return err
				}
			}
		}
		for _, d := range f.Domains {
			if err := tx.SaveDomain(&api.Domain{
				ID:         d.ID,
				Name:       d.Name,
				ContentID:  d.Content,
				Culture:    d.Culture,
				IsWildcard: d.Wildcard,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
