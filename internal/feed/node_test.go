package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Lookups(t *testing.T) {
	f, err := Decode(strings.NewReader(`<products>
  <product code="P" vat="23">
    <code>ignored</code>
    <sizes><size code="P-S"/><size code="P-M"/></sizes>
    <sizes><size code="P-L"/></sizes>
    <images><large><image url="a.jpg"/></large><icons><image url="b.jpg"/></icons></images>
    <ean>590</ean>
  </product>
</products>`))
	require.NoError(t, err)
	p := f.Records[0]

	assert.Equal(t, "P", p.Value("code"), "attribute wins")
	assert.Equal(t, "590", p.Value("ean"), "falls back to child text")
	assert.Equal(t, "", p.Value("missing"))
	assert.True(t, p.HasAttr("vat"))
	assert.False(t, p.HasAttr("nope"))

	sizes := p.Path("sizes", "size")
	require.Len(t, sizes, 3)
	assert.Equal(t, "P-L", sizes[2].Attr("code"))
	assert.Nil(t, p.Path("variants", "variant"))

	images := p.Child("images").Descendants("image")
	require.Len(t, images, 2)
	assert.Equal(t, "b.jpg", images[1].Attr("url"))

	var nilNode *Node
	assert.Equal(t, "", nilNode.Attr("x"))
	assert.Nil(t, nilNode.All("x"))
	assert.Equal(t, "", nilNode.ChildText("x"))
}
