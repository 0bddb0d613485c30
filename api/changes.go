package api

import "strings"

// TreeChangeTypes flags the kind of change a content or media payload
// carries.
type TreeChangeTypes uint8

const (
	TreeChangeNone    TreeChangeTypes = 0
	TreeRefreshAll    TreeChangeTypes = 1
	TreeRefreshNode   TreeChangeTypes = 2
	TreeRefreshBranch TreeChangeTypes = 4
	TreeRemove        TreeChangeTypes = 8
)

// Has reports whether every flag in f is set.
func (t TreeChangeTypes) Has(f TreeChangeTypes) bool {
	return t&f == f
}

// HasNone reports whether no flag in f is set.
func (t TreeChangeTypes) HasNone(f TreeChangeTypes) bool {
	return t&f == 0
}

func (t TreeChangeTypes) String() string {
	return flagString(uint8(t), []string{"RefreshAll", "RefreshNode", "RefreshBranch", "Remove"})
}

// ContentTypeChangeTypes flags the kind of change a content type payload
// carries.
type ContentTypeChangeTypes uint8

const (
	ContentTypeChangeNone  ContentTypeChangeTypes = 0
	ContentTypeCreate      ContentTypeChangeTypes = 1
	ContentTypeRefreshMain ContentTypeChangeTypes = 2
	// ContentTypeRefreshOther marks changes that do not alter the node
	// data, only the type itself.
	ContentTypeRefreshOther ContentTypeChangeTypes = 4
	ContentTypeRemove       ContentTypeChangeTypes = 8
)

// Has reports whether every flag in f is set.
func (t ContentTypeChangeTypes) Has(f ContentTypeChangeTypes) bool {
	return t&f == f
}

func (t ContentTypeChangeTypes) String() string {
	return flagString(uint8(t), []string{"Create", "RefreshMain", "RefreshOther", "Remove"})
}

// DomainChangeType is the kind of change a domain payload carries.
type DomainChangeType uint8

const (
	DomainChangeNone DomainChangeType = iota
	DomainRefreshAll
	DomainRefresh
	DomainRemove
)

func (t DomainChangeType) String() string {
	switch t {
	case DomainRefreshAll:
		return "RefreshAll"
	case DomainRefresh:
		return "Refresh"
	case DomainRemove:
		return "Remove"
	default:
		return "None"
	}
}

// ContentPayload notifies a change of one content or media node.
type ContentPayload struct {
	ID          int             `json:"Id"`
	ChangeTypes TreeChangeTypes `json:"ChangeTypes"`
}

// ContentTypePayload notifies a change of one content or media type.
type ContentTypePayload struct {
	ItemType    string                 `json:"ItemType"`
	ID          int                    `json:"Id"`
	ChangeTypes ContentTypeChangeTypes `json:"ChangeTypes"`
}

// DomainPayload notifies a change of one domain.
type DomainPayload struct {
	ID         int              `json:"Id"`
	ChangeType DomainChangeType `json:"ChangeType"`
}

// Message is a change notification published by the authoritative source.
type Message interface {
	isMessage()
}

// ContentChanged carries node payloads for one tree.
type ContentChanged struct {
	Tree     Tree
	Payloads []ContentPayload
}

// ContentTypesChanged carries content and media type payloads.
type ContentTypesChanged struct {
	Payloads []ContentTypePayload
}

// DataTypesChanged lists data types that were refreshed or removed.
type DataTypesChanged struct {
	IDs []int
}

// DomainsChanged carries domain payloads.
type DomainsChanged struct {
	Payloads []DomainPayload
}

func (ContentChanged) isMessage()      {}
func (ContentTypesChanged) isMessage() {}
func (DataTypesChanged) isMessage()    {}
func (DomainsChanged) isMessage()      {}

func flagString(v uint8, names []string) string {
	if v == 0 {
		return "None"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}
