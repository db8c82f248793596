package hallticket

// Cursor walks a profile's sequence with explicit has-next/next steps. It
// holds only an index, so a chunk can be resumed from any boundary.
type Cursor struct {
	profile *Profile
	next    int64
}

// Cursor returns a cursor positioned at the start of the sequence.
func (p *Profile) Cursor() *Cursor {
	return &Cursor{profile: p}
}

// Seek moves the cursor so the following Next returns index i.
func (c *Cursor) Seek(i int64) {
	c.next = max(i, 0)
}

// Index is the index Next will return.
func (c *Cursor) Index() int64 {
	return c.next
}

// HasNext reports whether the sequence has more identifiers.
func (c *Cursor) HasNext() bool {
	return c.next < c.profile.Count()
}

// Next returns the next identifier, or false once the sequence is exhausted.
func (c *Cursor) Next() (string, bool) {
	if !c.HasNext() {
		return "", false
	}
	id := c.profile.At(c.next)
	c.next++
	return id, true
}
