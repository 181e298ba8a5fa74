// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

// PointSet is an ordered tag -> value mapping. Setting an existing tag
// replaces its value and keeps its original position.
type PointSet struct {
	tags   []string
	values map[string]string
}

// NewPointSet builds a set from pairs; later duplicates win.
func NewPointSet(pairs ...TagValue) *PointSet {
	ps := &PointSet{values: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		ps.Set(p.Tag, p.Value)
	}
	return ps
}

func (ps *PointSet) Set(tag, value string) {
	if ps.values == nil {
		ps.values = make(map[string]string)
	}
	if _, ok := ps.values[tag]; !ok {
		ps.tags = append(ps.tags, tag)
	}
	ps.values[tag] = value
}

func (ps *PointSet) Get(tag string) (string, bool) {
	v, ok := ps.values[tag]
	return v, ok
}

func (ps *PointSet) Len() int {
	return len(ps.tags)
}

// Tags returns the tags in insertion order.
func (ps *PointSet) Tags() []string {
	out := make([]string, len(ps.tags))
	copy(out, ps.tags)
	return out
}

// Pairs returns the points in insertion order.
func (ps *PointSet) Pairs() []TagValue {
	out := make([]TagValue, 0, len(ps.tags))
	for _, t := range ps.tags {
		out = append(out, TagValue{Tag: t, Value: ps.values[t]})
	}
	return out
}

// EncodeFrame renders a publish frame "tag1:value1,tag2:value2,".
func EncodeFrame(ps *PointSet) string {
	return EncodePairs(ps.Pairs())
}

// DecodeFrame parses a publish frame or fragment. Malformed fields are
// skipped and reported through the returned error.
func DecodeFrame(frame string) (*PointSet, error) {
	pairs, err := DecodePairs(trimNUL(frame))
	return NewPointSet(pairs...), err
}
