// Package booru defines the post and tag types shared across the crawl pipeline.
package booru

import (
	"strconv"
	"strings"
	"time"
)

// TagType is the remote tag classification. Values match the remote tag_type field.
type TagType int

// Known tag types. Unknown values are carried through untouched.
const (
	TagTypeGeneral   TagType = 0
	TagTypeArtist    TagType = 1
	TagTypeCopyright TagType = 3
	TagTypeCharacter TagType = 4
	TagTypeMeta      TagType = 5
)

var tagTypeNames = map[TagType]string{
	TagTypeGeneral:   "general",
	TagTypeArtist:    "artist",
	TagTypeCopyright: "copyright",
	TagTypeCharacter: "character",
	TagTypeMeta:      "meta",
}

// String returns the lower-case kind name, or the integer for unknown kinds.
func (t TagType) String() string {
	if name, ok := tagTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// ParseTagType accepts a kind name ("artist") or its integer form ("1").
func ParseTagType(s string) (TagType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, name := range tagTypeNames {
		if name == s {
			return kind, true
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return TagType(n), true
}

// Tag is a resolved tag classification.
type Tag struct {
	Name string
	Type TagType
}

// Namespaces maps a tag type to the prefix used for its namespaced tag.
type Namespaces map[TagType]string

// DefaultNamespaces returns the archive's standard namespace prefixes.
func DefaultNamespaces() Namespaces {
	return Namespaces{
		TagTypeArtist:    "creator:",
		TagTypeCharacter: "character:",
		TagTypeCopyright: "series:",
		TagTypeMeta:      "meta:",
	}
}

// Qualify returns the namespaced form of tag, or false when its type has no namespace.
func (n Namespaces) Qualify(tag Tag) (string, bool) {
	prefix, ok := n[tag.Type]
	if !ok || prefix == "" {
		return "", false
	}
	return prefix + tag.Name, true
}

// Post is one catalog entry moving through the pipeline.
type Post struct {
	ID        int64
	MD5       string
	CreatedAt time.Time
	FileURL   string
	Author    string
	// RawTags holds the tags exactly as the catalog listed them.
	RawTags []string
	// Tags starts as RawTags and accumulates synthesized and namespaced tags.
	Tags []string
}

// NewPost builds a Post from the catalog's space-separated tag string.
func NewPost(id int64, md5, rawTags string, createdAt time.Time, fileURL, author string) Post {
	raw := strings.Fields(rawTags)
	return Post{
		ID:        id,
		MD5:       md5,
		CreatedAt: createdAt,
		FileURL:   fileURL,
		Author:    author,
		RawTags:   raw,
		Tags:      append([]string(nil), raw...),
	}
}

// AddTag appends a tag to the post.
func (p *Post) AddTag(tag string) {
	p.Tags = append(p.Tags, tag)
}

// DistinctRawTags returns RawTags without duplicates, keeping first-seen order.
func (p Post) DistinctRawTags() []string {
	seen := make(map[string]struct{}, len(p.RawTags))
	out := make([]string, 0, len(p.RawTags))
	for _, tag := range p.RawTags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
