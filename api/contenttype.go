package api

// ContentType describes the schema a node is built from. Only the parts the
// cache needs to track type changes are kept.
type ContentType struct {
	ID       int
	Alias    string
	ItemType Tree

	// DataTypeIDs lists the data types used by the type's properties.
	DataTypeIDs []int
}

// UsesDataType reports whether any property of the type uses the data type.
func (c *ContentType) UsesDataType(id int) bool {
	for _, dt := range c.DataTypeIDs {
		if dt == id {
			return true
		}
	}
	return false
}
