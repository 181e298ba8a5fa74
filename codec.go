// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedCommand = errors.New("pointbus: malformed command")
	ErrMalformedReply   = errors.New("pointbus: malformed reply")
	ErrMalformedPair    = errors.New("pointbus: malformed tag:value pair")
)

// Command operations. Matching is case-insensitive.
const (
	OpQuery = "QUERY"
	OpRead  = "READ"
	OpWrite = "WRITE"
)

// Reply statuses.
const (
	StatusACK = "ACK"
	StatusERR = "ERR"
)

// TagNotFound is the reply body for reads and writes of unknown tags.
const TagNotFound = "Tag not found"

const (
	fieldSep = ","
	pairSep  = ":"
	opSep    = "="
)

// Command is a decoded request.
type Command struct {
	Op      string
	Payload string
}

// Is reports whether the command's op equals op, ignoring case.
func (c Command) Is(op string) bool {
	return strings.EqualFold(c.Op, op)
}

// Reply is a decoded response.
type Reply struct {
	Status string
	Body   string
}

// OK reports whether the reply is an ACK.
func (r Reply) OK() bool {
	return r.Status == StatusACK
}

// TagValue is one point update. Values are text; "true"/"false" are booleans.
type TagValue struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Encode renders "<op>=<payload>".
func Encode(op, payload string) string {
	return op + opSep + payload
}

// DecodeCommand splits text on its first '='.
func DecodeCommand(text string) (Command, error) {
	op, payload, ok := strings.Cut(trimNUL(text), opSep)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q has no '%s'", ErrMalformedCommand, text, opSep)
	}
	return Command{Op: op, Payload: payload}, nil
}

// Ack renders an ACK reply.
func Ack(body string) string {
	return Encode(StatusACK, body)
}

// Errf renders an ERR reply.
func Errf(format string, args ...any) string {
	return Encode(StatusERR, fmt.Sprintf(format, args...))
}

// DecodeReply parses "ACK=<body>" or "ERR=<body>".
func DecodeReply(text string) (Reply, error) {
	status, body, ok := strings.Cut(trimNUL(text), opSep)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q has no '%s'", ErrMalformedReply, text, opSep)
	}
	if status != StatusACK && status != StatusERR {
		return Reply{}, fmt.Errorf("%w: unknown status %q", ErrMalformedReply, status)
	}
	return Reply{Status: status, Body: body}, nil
}

// DecodePairs splits "tag:value,tag:value,". Empty segments are ignored.
// Segments without ':' are skipped; the returned error joins one
// ErrMalformedPair per skipped segment and is informational only.
func DecodePairs(payload string) ([]TagValue, error) {
	var (
		pairs []TagValue
		errs  []error
	)
	for _, field := range strings.Split(payload, fieldSep) {
		if field == "" {
			continue
		}
		tag, value, ok := strings.Cut(field, pairSep)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMalformedPair, field))
			continue
		}
		pairs = append(pairs, TagValue{Tag: tag, Value: value})
	}
	return pairs, errors.Join(errs...)
}

// EncodePairs renders pairs with a trailing comma after every pair.
func EncodePairs(pairs []TagValue) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p.Tag)
		b.WriteString(pairSep)
		b.WriteString(p.Value)
		b.WriteString(fieldSep)
	}
	return b.String()
}

// EncodeTags renders a query body: "tag1,tag2,".
func EncodeTags(tags []string) string {
	var b strings.Builder
	for _, t := range tags {
		b.WriteString(t)
		b.WriteString(fieldSep)
	}
	return b.String()
}

// DecodeTags is the inverse of EncodeTags.
func DecodeTags(body string) []string {
	var tags []string
	for _, t := range strings.Split(body, fieldSep) {
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// terminate appends the NUL byte the wire framing expects.
func terminate(msg string) []byte {
	b := make([]byte, len(msg)+1)
	copy(b, msg)
	return b
}

func trimNUL(s string) string {
	return strings.TrimRight(s, "\x00")
}
