package api

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestKitCodec(t *testing.T) {
	created := time.Date(2019, 3, 4, 10, 0, 0, 0, time.UTC)
	kit := NodeKit{
		Node: &Node{
			ID:         1057,
			Key:        uuid.MustParse("5b3d1a8e-5f2f-4c8e-9d51-7f0c1d2e3a4b"),
			ParentID:   RootID,
			Level:      1,
			Path:       "-1,1057",
			SortOrder:  3,
			CreateDate: created,
			CreatorID:  -1,
		},
		ContentTypeID: 1045,
		Draft: &ContentData{
			Name:        "Home (draft)",
			URLSegment:  "home",
			VersionID:   12,
			VersionDate: created.Add(time.Hour),
			WriterID:    2,
			TemplateID:  1051,
			Properties:  []byte(`{"title":"Welcome"}`),
		},
		Published: &ContentData{
			Name:        "Home",
			URLSegment:  "home",
			VersionID:   11,
			VersionDate: created,
			Published:   true,
		},
	}

	b, err := MarshalKit(kit)
	require.NoError(t, err)

	decoded, err := UnmarshalKit(b)
	require.NoError(t, err)
	assert.Equal(t, kit, decoded)
}

func TestKitCodecErrors(t *testing.T) {
	_, err := MarshalKit(NodeKit{})
	assert.Equal(t, ErrEmptyKit, err)

	b, err := MarshalKit(NodeKit{Node: &Node{ID: 1, ParentID: RootID, Level: 1, Path: "-1,1"}})
	require.NoError(t, err)

	_, err = UnmarshalKit(b[:len(b)-1])
	assert.Error(t, err, "truncated input must not decode")

	_, err = UnmarshalKit(nil)
	assert.Equal(t, ErrMissingKitID, err)

	// a well-formed record without an id, such as a bare path field
	noID := protowire.AppendTag(nil, kitPath, protowire.BytesType)
	noID = protowire.AppendString(noID, "-1,1")
	_, err = UnmarshalKit(noID)
	assert.Equal(t, ErrMissingKitID, err)

	// an id of zero is still encoded and decodes
	zero, err := MarshalKit(NodeKit{Node: &Node{ParentID: RootID}})
	require.NoError(t, err)
	kit, err := UnmarshalKit(zero)
	require.NoError(t, err)
	assert.Equal(t, 0, kit.Node.ID)
}

func TestSortKits(t *testing.T) {
	kit := func(id, parent, level, sort int) NodeKit {
		return NodeKit{Node: &Node{ID: id, ParentID: parent, Level: level, SortOrder: sort}}
	}
	kits := []NodeKit{
		kit(5, 2, 2, 1),
		kit(3, RootID, 1, 1),
		kit(4, 2, 2, 0),
		kit(2, RootID, 1, 0),
		kit(6, 3, 2, 0),
	}
	SortKits(kits)

	var ids []int
	for _, k := range kits {
		ids = append(ids, k.Node.ID)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6}, ids)
}

func TestKitOfBuild(t *testing.T) {
	ct := &ContentType{ID: 7, Alias: "page", ItemType: TreeContent}
	n := &Node{ID: 10, ParentID: RootID, Level: 1, Path: "-1,10", ContentType: ct, Children: []int{11, 12}}
	n.Published = &ContentData{Name: "x", Published: true}

	kit := KitOf(n)
	assert.Equal(t, 7, kit.ContentTypeID)
	assert.Nil(t, kit.Node.Children)
	assert.Nil(t, kit.Node.ContentType)

	built := kit.Build(ct)
	assert.Equal(t, ct, built.ContentType)
	assert.Equal(t, n.Published, built.Published)
	assert.Nil(t, built.Children)
	assert.Equal(t, []int{11, 12}, n.Children, "source node must not be modified")
}

func TestChangeTypeFlags(t *testing.T) {
	c := TreeRefreshBranch | TreeRemove
	assert.True(t, c.Has(TreeRemove))
	assert.False(t, c.Has(TreeRefreshAll))
	assert.True(t, c.HasNone(TreeRefreshNode|TreeRefreshAll))
	assert.Equal(t, "RefreshBranch,Remove", c.String())
	assert.Equal(t, "None", TreeChangeNone.String())

	assert.Equal(t, "Create,RefreshOther", (ContentTypeCreate | ContentTypeRefreshOther).String())
	assert.Equal(t, "Remove", DomainRemove.String())
}
