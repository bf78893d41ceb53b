package dataset

// TagSet numbers tags in order of first appearance.
type TagSet struct {
	names []string
	index map[string]int
}

// NewTagSet returns a tag set holding names in the given order.
func NewTagSet(names ...string) *TagSet {
	ts := &TagSet{index: make(map[string]int, len(names))}
	for _, n := range names {
		ts.Add(n)
	}
	return ts
}

// Add returns the id of tag, assigning the next id if it is new.
func (ts *TagSet) Add(tag string) int {
	if id, ok := ts.index[tag]; ok {
		return id
	}
	id := len(ts.names)
	ts.names = append(ts.names, tag)
	ts.index[tag] = id
	return id
}

// ID returns the id of tag.
func (ts *TagSet) ID(tag string) (int, bool) {
	id, ok := ts.index[tag]
	return id, ok
}

// Name returns the tag with the given id.
func (ts *TagSet) Name(id int) string { return ts.names[id] }

// Names returns every tag in id order. The slice must not be mutated.
func (ts *TagSet) Names() []string { return ts.names }

// Len returns the number of tags.
func (ts *TagSet) Len() int { return len(ts.names) }

// AddCorpus adds every tag of c in order of first appearance.
func (ts *TagSet) AddCorpus(c *Corpus) {
	for _, s := range c.Sentences {
		for _, tag := range s.Tags {
			ts.Add(tag)
		}
	}
}
