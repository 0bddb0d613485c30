package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kit wire layout (protobuf encoding, signed integers zigzag encoded):
//
//	1 id  2 key  3 parent  4 level  5 path  6 sort  7 type  8 created
//	9 creator  10 draft  11 published
//
// ContentData:
//
//	1 name  2 url segment  3 version  4 version date  5 writer  6 template
//	7 published  8 properties
const (
	kitID protowire.Number = iota + 1
	kitKey
	kitParent
	kitLevel
	kitPath
	kitSort
	kitType
	kitCreated
	kitCreator
	kitDraft
	kitPublished
)

const (
	dataName protowire.Number = iota + 1
	dataURLSegment
	dataVersion
	dataVersionDate
	dataWriter
	dataTemplate
	dataPublished
	dataProperties
)

var (
	// ErrEmptyKit is returned when encoding a kit that has no node.
	ErrEmptyKit = errors.New("kit has no node")

	// ErrMissingKitID is returned when decoding input that carries no node
	// id.
	ErrMissingKitID = errors.New("kit has no node id")
)

// MarshalKit encodes a kit for the local cache.
func MarshalKit(k NodeKit) ([]byte, error) {
	if k.IsEmpty() {
		return nil, ErrEmptyKit
	}
	n := k.Node
	// the id is always written; decoding requires it
	b := protowire.AppendTag(nil, kitID, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(n.ID)))
	if n.Key != uuid.Nil {
		b = protowire.AppendTag(b, kitKey, protowire.BytesType)
		b = protowire.AppendBytes(b, n.Key[:])
	}
	b = appendInt(b, kitParent, int64(n.ParentID))
	b = appendInt(b, kitLevel, int64(n.Level))
	b = appendString(b, kitPath, n.Path)
	b = appendInt(b, kitSort, int64(n.SortOrder))
	b = appendInt(b, kitType, int64(k.ContentTypeID))
	b = appendTime(b, kitCreated, n.CreateDate)
	b = appendInt(b, kitCreator, int64(n.CreatorID))
	if k.Draft != nil {
		b = protowire.AppendTag(b, kitDraft, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalData(k.Draft))
	}
	if k.Published != nil {
		b = protowire.AppendTag(b, kitPublished, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalData(k.Published))
	}
	return b, nil
}

// UnmarshalKit decodes a kit written by MarshalKit.
func UnmarshalKit(b []byte) (NodeKit, error) {
	var (
		k     NodeKit
		n     Node
		hasID bool
	)
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return NodeKit{}, protowire.ParseError(l)
		}
		b = b[l:]

		switch typ {
		case protowire.VarintType:
			v, l := protowire.ConsumeVarint(b)
			if l < 0 {
				return NodeKit{}, protowire.ParseError(l)
			}
			b = b[l:]
			i := protowire.DecodeZigZag(v)
			switch num {
			case kitID:
				n.ID = int(i)
				hasID = true
			case kitParent:
				n.ParentID = int(i)
			case kitLevel:
				n.Level = int(i)
			case kitSort:
				n.SortOrder = int(i)
			case kitType:
				k.ContentTypeID = int(i)
			case kitCreated:
				n.CreateDate = decodeTime(i)
			case kitCreator:
				n.CreatorID = int(i)
			}
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return NodeKit{}, protowire.ParseError(l)
			}
			b = b[l:]
			switch num {
			case kitKey:
				key, err := uuid.FromBytes(v)
				if err != nil {
					return NodeKit{}, errors.Wrap(err, "invalid node key")
				}
				n.Key = key
			case kitPath:
				n.Path = string(v)
			case kitDraft, kitPublished:
				d, err := unmarshalData(v)
				if err != nil {
					return NodeKit{}, err
				}
				if num == kitDraft {
					k.Draft = d
				} else {
					k.Published = d
				}
			}
		default:
			l := protowire.ConsumeFieldValue(num, typ, b)
			if l < 0 {
				return NodeKit{}, protowire.ParseError(l)
			}
			b = b[l:]
		}
	}
	if !hasID {
		return NodeKit{}, ErrMissingKitID
	}
	k.Node = &n
	return k, nil
}

func marshalData(d *ContentData) []byte {
	var b []byte
	b = appendString(b, dataName, d.Name)
	b = appendString(b, dataURLSegment, d.URLSegment)
	b = appendInt(b, dataVersion, int64(d.VersionID))
	b = appendTime(b, dataVersionDate, d.VersionDate)
	b = appendInt(b, dataWriter, int64(d.WriterID))
	b = appendInt(b, dataTemplate, int64(d.TemplateID))
	if d.Published {
		b = protowire.AppendTag(b, dataPublished, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if len(d.Properties) > 0 {
		b = protowire.AppendTag(b, dataProperties, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Properties)
	}
	return b
}

func unmarshalData(b []byte) (*ContentData, error) {
	var d ContentData
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return nil, protowire.ParseError(l)
		}
		b = b[l:]

		switch typ {
		case protowire.VarintType:
			v, l := protowire.ConsumeVarint(b)
			if l < 0 {
				return nil, protowire.ParseError(l)
			}
			b = b[l:]
			switch num {
			case dataVersion:
				d.VersionID = int(protowire.DecodeZigZag(v))
			case dataVersionDate:
				d.VersionDate = decodeTime(protowire.DecodeZigZag(v))
			case dataWriter:
				d.WriterID = int(protowire.DecodeZigZag(v))
			case dataTemplate:
				d.TemplateID = int(protowire.DecodeZigZag(v))
			case dataPublished:
				d.Published = protowire.DecodeBool(v)
			}
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return nil, protowire.ParseError(l)
			}
			b = b[l:]
			switch num {
			case dataName:
				d.Name = string(v)
			case dataURLSegment:
				d.URLSegment = string(v)
			case dataProperties:
				d.Properties = append([]byte(nil), v...)
			}
		default:
			l := protowire.ConsumeFieldValue(num, typ, b)
			if l < 0 {
				return nil, protowire.ParseError(l)
			}
			b = b[l:]
		}
	}
	return &d, nil
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Times are stored as unix nanoseconds; the zero time is omitted.
func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendInt(b, num, t.UnixNano())
}

func decodeTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
