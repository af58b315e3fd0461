package booru

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPostSplitsTags(t *testing.T) {
	t.Parallel()

	post := NewPost(7, "abcd", "a  b a c ", time.Unix(0, 0), "https://x/y.png", "someone")
	require.Equal(t, []string{"a", "b", "a", "c"}, post.RawTags)
	require.Equal(t, post.RawTags, post.Tags)

	post.AddTag("id:7")
	require.Len(t, post.RawTags, 4, "adding tags must not touch RawTags")
	require.Equal(t, "id:7", post.Tags[len(post.Tags)-1])
}

func TestDistinctRawTagsKeepsFirstOrder(t *testing.T) {
	t.Parallel()

	post := Post{RawTags: []string{"b", "a", "b", "c", "a"}}
	require.Equal(t, []string{"b", "a", "c"}, post.DistinctRawTags())
}

func TestNamespacesQualify(t *testing.T) {
	t.Parallel()

	ns := DefaultNamespaces()
	got, ok := ns.Qualify(Tag{Name: "someone", Type: TagTypeArtist})
	require.True(t, ok)
	require.Equal(t, "creator:someone", got)

	_, ok = ns.Qualify(Tag{Name: "smile", Type: TagTypeGeneral})
	require.False(t, ok)
	_, ok = ns.Qualify(Tag{Name: "odd", Type: TagType(42)})
	require.False(t, ok)
}

func TestParseTagType(t *testing.T) {
	t.Parallel()

	kind, ok := ParseTagType("Character")
	require.True(t, ok)
	require.Equal(t, TagTypeCharacter, kind)

	kind, ok = ParseTagType("6")
	require.True(t, ok)
	require.Equal(t, TagType(6), kind)
	require.Equal(t, "6", kind.String())

	_, ok = ParseTagType("nope")
	require.False(t, ok)
}
